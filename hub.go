// Package server implements the relay: a registry of live connections, the
// message dispatch that fans ephemeral state out to every peer, and the
// bridge into the tiered persistence store. The server never simulates the
// game; it relays what clients report and round-trips what they save.
package server

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"driftline/server/internal/net/proto"
	"driftline/server/internal/state"
	"driftline/server/internal/store"
	"driftline/server/logging"
	"driftline/server/logging/economy"
	"driftline/server/logging/lifecycle"
	"driftline/server/logging/network"
)

// Hub owns every live connection and the process-wide weather state.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*connState

	store   *store.Tiered
	pub     logging.Publisher
	weather *weatherState

	// weatherKick restarts the autonomous toggle countdown after a
	// client-issued weather-set. weatherInterval is the countdown length;
	// tests shorten it.
	weatherKick     chan struct{}
	weatherInterval time.Duration

	broadcastsTotal atomic.Uint64
	routedDropped   atomic.Uint64
}

// NewHub creates a hub over the given persistence store.
func NewHub(st *store.Tiered, pub logging.Publisher) *Hub {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Hub{
		conns:           make(map[string]*connState),
		store:           st,
		pub:             pub,
		weather:         newWeatherState(time.Now().UnixNano()),
		weatherKick:     make(chan struct{}, 1),
		weatherInterval: weatherToggleInterval,
	}
}

// Register adds a connection to the registry and sends its welcome message,
// which carries the assigned id and the current weather.
func (h *Hub) Register(conn messageWriter) (string, error) {
	id := newConnID()
	sub := &subscriber{conn: conn}
	c := newConnState(id, sub)

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	network.ConnectionOpened(context.Background(), h.pub, connRef(id))

	mode, drops := h.weather.Snapshot()
	data, err := proto.EncodeWelcome(proto.Welcome{ID: id, Weather: mode, Drops: drops})
	if err != nil {
		h.Disconnect(id)
		return "", err
	}
	if err := sub.send(data); err != nil {
		h.Disconnect(id)
		return "", err
	}
	return id, nil
}

// Disconnect removes a connection and closes its socket. Nothing is saved on
// the caller's behalf; clients persist through explicit save-state messages.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	c.sub.close()
	network.ConnectionClosed(context.Background(), h.pub, connRef(id))
}

// HandleMessage decodes one inbound payload and dispatches it. Malformed
// payloads and unknown types are dropped without reply.
func (h *Hub) HandleMessage(ctx context.Context, id string, payload []byte) {
	msg, err := proto.DecodeClientMessage(payload)
	if err != nil {
		network.MalformedPayload(ctx, h.pub, connRef(id), map[string]any{"error": err.Error()})
		return
	}

	switch m := msg.(type) {
	case proto.Auth:
		h.handleAuth(ctx, id, m)
	case proto.SaveState:
		h.handleSaveState(ctx, id, m)
	case proto.Move:
		h.handleMove(id, m)
	case proto.Ping:
		h.handlePing(id, m)
	case proto.WeatherSet:
		h.handleWeatherSet(m)
	case proto.Gift:
		h.route(ctx, id, m.ToID, proto.TypeGift, m, economy.TransferPayload{
			MessageType: proto.TypeGift,
			ItemSprite:  m.Item.Sprite,
		})
	case proto.TradeRequest:
		h.route(ctx, id, m.ToID, proto.TypeTradeRequest, m, economy.TransferPayload{
			MessageType: proto.TypeTradeRequest,
			TradeID:     m.TradeID,
			ItemSprite:  m.OfferItem.Sprite,
		})
	case proto.TradeAccept:
		h.route(ctx, id, m.ToID, proto.TypeTradeAccept, m, economy.TransferPayload{
			MessageType: proto.TypeTradeAccept,
			TradeID:     m.TradeID,
			ItemSprite:  m.ReturnItem.Sprite,
		})
	case proto.TradeDecline:
		h.route(ctx, id, m.ToID, proto.TypeTradeDecline, m, economy.TransferPayload{
			MessageType: proto.TypeTradeDecline,
			TradeID:     m.TradeID,
		})
	case proto.DevBroadcast:
		h.handleDevBroadcast(id, m)
	case proto.DevPrank:
		h.handleDevPrank(ctx, id, m)
	case proto.Ignored:
		// Unknown tags drop silently so old servers tolerate new clients.
	}
}

func (h *Hub) handleAuth(ctx context.Context, id string, msg proto.Auth) {
	if msg.Name == "" || msg.Passcode == "" {
		h.sendAuthError(id, "name and passcode are required")
		lifecycle.AuthRejected(ctx, h.pub, connRef(id), lifecycle.AuthPayload{Name: msg.Name, Reason: "missing credentials"})
		return
	}

	rec, canonical, found, err := h.store.Load(ctx, msg.Name)
	if err != nil {
		lifecycle.StoreFault(ctx, h.pub, lifecycle.StoreFallbackPayload{Operation: "load", Error: err.Error()})
		return
	}

	if found {
		if rec.Passcode != msg.Passcode {
			h.sendAuthError(id, "incorrect passcode for that name")
			lifecycle.AuthRejected(ctx, h.pub, connRef(id), lifecycle.AuthPayload{Name: msg.Name, Reason: "passcode mismatch"})
			return
		}
		h.markAuthenticated(id, canonical, msg.Avatar)
		blob := rec.State.Clone()
		data, err := proto.EncodeAuthOK(proto.AuthOK{State: &blob})
		if err != nil {
			return
		}
		h.sendTo(id, data)
		lifecycle.AuthAccepted(ctx, h.pub, connRef(id), lifecycle.AuthPayload{Name: canonical})
		return
	}

	// First contact for this name: establish the shared secret with a
	// fresh blob.
	blob := state.NewBlob()
	blob.Name = msg.Name
	blob.Passcode = msg.Passcode
	if err := h.store.Save(ctx, msg.Name, store.Record{Passcode: msg.Passcode, State: blob}); err != nil {
		lifecycle.StoreFault(ctx, h.pub, lifecycle.StoreFallbackPayload{Operation: "save", Error: err.Error()})
		h.sendAuthError(id, "storage unavailable, try again")
		return
	}
	h.markAuthenticated(id, msg.Name, msg.Avatar)
	data, err := proto.EncodeAuthNew()
	if err != nil {
		return
	}
	h.sendTo(id, data)
	lifecycle.AuthRegistered(ctx, h.pub, connRef(id), lifecycle.AuthPayload{Name: msg.Name})
}

func (h *Hub) handleSaveState(ctx context.Context, id string, msg proto.SaveState) {
	name := msg.State.Name
	passcode := msg.State.Passcode
	if name == "" || passcode == "" {
		lifecycle.SaveRejected(ctx, h.pub, connRef(id), lifecycle.AuthPayload{Name: name, Reason: "missing credentials"})
		return
	}

	// Re-check the passcode before writing so a stale or forged save cannot
	// clobber someone else's record. Rejections stay silent: auto-save runs
	// in the background and must not surface errors to the player.
	rec, canonical, found, err := h.store.Load(ctx, name)
	if err != nil {
		lifecycle.StoreFault(ctx, h.pub, lifecycle.StoreFallbackPayload{Operation: "load", Error: err.Error()})
		return
	}
	if !found || rec.Passcode != passcode {
		lifecycle.SaveRejected(ctx, h.pub, connRef(id), lifecycle.AuthPayload{Name: name, Reason: "passcode mismatch"})
		return
	}

	if err := h.store.Save(ctx, canonical, store.Record{Passcode: rec.Passcode, State: msg.State}); err != nil {
		lifecycle.StoreFault(ctx, h.pub, lifecycle.StoreFallbackPayload{Operation: "save", Error: err.Error()})
		return
	}
	lifecycle.SaveAccepted(ctx, h.pub, connRef(id), lifecycle.AuthPayload{Name: canonical})
}

func (h *Hub) handleMove(id string, msg proto.Move) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	c.X = msg.X
	c.Y = msg.Y
	if msg.FacingRight != nil {
		c.FacingRight = *msg.FacingRight
	}
	if msg.Name != "" {
		c.Name = truncateName(msg.Name)
	}
	if msg.Avatar != "" {
		c.Avatar = msg.Avatar
	}
	// Held-item and rod fields are absolute, not deltas: a move without them
	// means the player put the item away.
	c.HasRod = msg.HasRod
	c.RodSprite = msg.RodSprite
	c.HeldSprite = msg.HeldSprite
	c.HeldWeight = msg.HeldWeight
	c.HeldRarity = msg.HeldRarity
	c.Money = msg.Money
	players := h.snapshotLocked()
	h.mu.Unlock()

	h.broadcastPlayers(players)
}

func (h *Hub) handlePing(id string, msg proto.Ping) {
	elapsed := int64(0)
	if msg.T > 0 {
		elapsed = time.Now().UnixMilli() - msg.T
		if elapsed < 0 {
			elapsed = 0
		}
	}

	h.mu.Lock()
	if c, ok := h.conns[id]; ok {
		c.PingMs = elapsed
	}
	h.mu.Unlock()

	data, err := proto.EncodePong(proto.Pong{PingMs: elapsed})
	if err != nil {
		return
	}
	h.sendTo(id, data)
}

func (h *Hub) handleWeatherSet(msg proto.WeatherSet) {
	mode, drops := h.weather.Set(msg.Weather)
	h.broadcastWeather(mode, drops)

	// Restart the autonomous toggle countdown.
	select {
	case h.weatherKick <- struct{}{}:
	default:
	}
}

func (h *Hub) handleDevBroadcast(id string, msg proto.DevBroadcast) {
	fromName := "Dev"
	h.mu.Lock()
	if c, ok := h.conns[id]; ok && c.Name != "" {
		fromName = c.Name
	}
	h.mu.Unlock()

	data, err := proto.EncodeDevBroadcast(proto.DevBroadcastOut{Text: msg.Text, FromName: fromName})
	if err != nil {
		return
	}
	h.broadcast(data)
}

func (h *Hub) handleDevPrank(ctx context.Context, id string, msg proto.DevPrank) {
	if msg.ToID == "" || msg.ToID == "all" {
		fromID, fromName := h.senderIdentity(id)
		data, err := proto.EncodeRouted(proto.Routed{
			Type:     proto.TypeDevPrank,
			FromID:   fromID,
			FromName: fromName,
			Payload:  msg,
		})
		if err != nil {
			return
		}
		h.broadcast(data)
		return
	}
	h.route(ctx, id, msg.ToID, proto.TypeDevPrank, msg, economy.TransferPayload{})
}

// route forwards a message to exactly one other connection, stamping the
// sender's identity onto it. A missing target drops the message with no
// notification to the sender.
func (h *Hub) route(ctx context.Context, fromID, toID, msgType string, payload any, transfer economy.TransferPayload) {
	resolvedID, fromName := h.senderIdentity(fromID)

	h.mu.Lock()
	target, ok := h.conns[toID]
	h.mu.Unlock()
	if !ok {
		h.routedDropped.Add(1)
		network.RoutedDropped(ctx, h.pub, connRef(fromID), network.RoutedDropPayload{MessageType: msgType, TargetID: toID})
		return
	}

	data, err := proto.EncodeRouted(proto.Routed{
		Type:     msgType,
		FromID:   resolvedID,
		FromName: fromName,
		Payload:  payload,
	})
	if err != nil {
		return
	}
	if err := target.sub.send(data); err != nil {
		h.Disconnect(toID)
		return
	}

	switch msgType {
	case proto.TypeGift:
		economy.GiftForwarded(ctx, h.pub, connRef(fromID), connRef(toID), transfer)
	case proto.TypeTradeRequest, proto.TypeTradeAccept, proto.TypeTradeDecline:
		economy.TradeForwarded(ctx, h.pub, connRef(fromID), connRef(toID), transfer)
	}
}

func (h *Hub) senderIdentity(id string) (string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		return c.ID, c.Name
	}
	return id, "Player"
}

func (h *Hub) markAuthenticated(id, canonicalName, avatar string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return
	}
	c.authenticated = true
	c.Name = truncateName(canonicalName)
	if avatar != "" {
		c.Avatar = avatar
	}
}

func (h *Hub) sendAuthError(id, message string) {
	data, err := proto.EncodeAuthError(proto.AuthError{Message: message})
	if err != nil {
		return
	}
	h.sendTo(id, data)
}

func (h *Hub) sendTo(id string, data []byte) {
	h.mu.Lock()
	c, ok := h.conns[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := c.sub.send(data); err != nil {
		h.Disconnect(id)
	}
}

// snapshotLocked copies every connection's broadcast state while holding the
// mutex, ordered by id so every client sees a stable listing.
func (h *Hub) snapshotLocked() []proto.PlayerSnapshot {
	players := make([]proto.PlayerSnapshot, 0, len(h.conns))
	for _, c := range h.conns {
		players = append(players, c.snapshot())
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

// broadcastPlayers fans the registry snapshot out to every connection,
// authenticated or not. This is the core real-time channel: last write wins
// per field, deliveries carry no ordering beyond arrival order at the server.
func (h *Hub) broadcastPlayers(players []proto.PlayerSnapshot) {
	data, err := proto.EncodePlayers(proto.Players{Players: players})
	if err != nil {
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcastWeather(mode string, drops []proto.WeatherDrop) {
	data, err := proto.EncodeWeather(proto.Weather{Weather: mode, Drops: drops})
	if err != nil {
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.conns))
	for id, c := range h.conns {
		subs[id] = c.sub
	}
	h.mu.Unlock()

	h.broadcastsTotal.Add(1)
	for id, sub := range subs {
		if err := sub.send(data); err != nil {
			h.Disconnect(id)
		}
	}
}

// RunWeather drives the autonomous weather toggle until stop closes. A
// client-issued weather-set restarts the countdown via weatherKick.
func (h *Hub) RunWeather(stop <-chan struct{}) {
	timer := time.NewTimer(h.weatherInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			mode, drops := h.weather.Toggle()
			h.broadcastWeather(mode, drops)
			timer.Reset(h.weatherInterval)
		case <-h.weatherKick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(h.weatherInterval)
		}
	}
}

// WeatherSnapshot exposes the current mode and drop count for diagnostics.
func (h *Hub) WeatherSnapshot() (string, int) {
	mode, drops := h.weather.Snapshot()
	return mode, len(drops)
}

// DiagnosticsConn is the per-connection view served by the diagnostics
// endpoint.
type DiagnosticsConn struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
	PingMs        int64  `json:"pingMs"`
}

// DiagnosticsSnapshot lists every live connection ordered by id.
func (h *Hub) DiagnosticsSnapshot() []DiagnosticsConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := make([]DiagnosticsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, DiagnosticsConn{
			ID:            c.ID,
			Name:          c.Name,
			Authenticated: c.authenticated,
			PingMs:        c.PingMs,
		})
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns
}

// TelemetrySnapshot reports hub and store counters for diagnostics.
type TelemetrySnapshot struct {
	Connections     int         `json:"connections"`
	BroadcastsTotal uint64      `json:"broadcastsTotal"`
	RoutedDropped   uint64      `json:"routedDropped"`
	Store           store.Stats `json:"store"`
}

// Telemetry snapshots the hub counters.
func (h *Hub) Telemetry() TelemetrySnapshot {
	h.mu.Lock()
	connections := len(h.conns)
	h.mu.Unlock()
	return TelemetrySnapshot{
		Connections:     connections,
		BroadcastsTotal: h.broadcastsTotal.Load(),
		RoutedDropped:   h.routedDropped.Load(),
		Store:           h.store.Stats(),
	}
}

func connRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindConnection}
}
