// Package client implements the game-facing side of the relay protocol: the
// connection state machine with its outbound throttling, the remote-avatar
// smoother, and the gift/trade coordinator. The rendering layer sits on top
// of the callbacks exposed here.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"driftline/server/internal/net/proto"
	"driftline/server/internal/state"
)

type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateConnecting     SessionState = "connecting"
	StateOpen           SessionState = "open"
	StateAuthenticating SessionState = "authenticating"
	StateReady          SessionState = "ready"
	// StateClosed marks a session that lost its socket; Run re-enters
	// StateConnecting from here. StateIdle means Run has never attached.
	StateClosed SessionState = "closed"
)

const (
	moveInterval    = 100 * time.Millisecond
	saveMinInterval = 10 * time.Second
	pingInterval    = 5 * time.Second
	reconnectDelay  = 3 * time.Second
)

// Conn is the slice of *websocket.Conn the session needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Dialer opens one connection attempt.
type Dialer func(ctx context.Context) (Conn, error)

// WebsocketDialer dials the relay's /ws endpoint.
func WebsocketDialer(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Handlers are the session's callbacks into the game. Nil entries are
// skipped. Callbacks run on the session's read goroutine.
type Handlers struct {
	StateChanged func(SessionState)
	AuthOK       func(fresh bool, blob *state.Blob)
	AuthError    func(message string)
	Players      func(players []proto.PlayerSnapshot)
	Weather      func(mode string, drops []proto.WeatherDrop)
	Pong         func(pingMs int64)
	Routed       func(msgType string, raw []byte)
}

// serverMessage is the superset of every server-to-client payload; type
// decides which fields are live.
type serverMessage struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	Weather string                 `json:"weather"`
	Drops   []proto.WeatherDrop    `json:"drops"`
	State   *state.Blob            `json:"state"`
	Message string                 `json:"message"`
	Players []proto.PlayerSnapshot `json:"players"`
	PingMs  int64                  `json:"pingMs"`
}

// Session is the per-client connection state machine. One Run loop owns the
// socket; the game mutates outbound state through the throttled senders.
// ErrNotConnected is returned by senders while no socket is attached.
var ErrNotConnected = errors.New("client: not connected")

type Session struct {
	dial     Dialer
	handlers Handlers
	clock    func() time.Time

	// wmu serializes socket writes; gorilla allows one concurrent writer.
	wmu sync.Mutex

	mu     sync.Mutex
	state  SessionState
	conn   Conn
	connID string

	name     string
	passcode string
	avatar   string

	lastMove     time.Time
	sentMove     bool
	dirty        bool
	lastSave     time.Time
	sentSave     bool
	lastPingSent int64
}

func NewSession(dial Dialer, handlers Handlers) *Session {
	return &Session{
		dial:     dial,
		handlers: handlers,
		clock:    time.Now,
		state:    StateIdle,
	}
}

// SetCredentials stores the name and passcode used for authentication. If the
// session is already open, an auth message is sent immediately.
func (s *Session) SetCredentials(name, passcode, avatar string) {
	s.mu.Lock()
	s.name = name
	s.passcode = passcode
	s.avatar = avatar
	open := s.state == StateOpen
	s.mu.Unlock()

	if open && name != "" {
		s.sendAuth()
	}
}

// State returns the current machine state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnID returns the server-assigned connection id, empty before the welcome
// arrives. Ids are never reused across reconnects.
func (s *Session) ConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Run connects and reconnects until ctx is cancelled. Reconnection uses a
// constant delay and retries indefinitely.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			if !sleepCtx(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		s.attach(conn)
		s.setState(StateOpen)

		s.mu.Lock()
		haveCreds := s.name != "" && s.passcode != ""
		s.mu.Unlock()
		if haveCreds {
			s.sendAuth()
		}

		pingStop := make(chan struct{})
		go s.pingLoop(pingStop)
		go func() {
			// Unblock the read loop when the caller cancels.
			select {
			case <-ctx.Done():
				conn.Close()
			case <-pingStop:
			}
		}()

		s.readLoop(conn)
		close(pingStop)
		conn.Close()
		s.detach()
		s.setState(StateClosed)

		if !sleepCtx(ctx, reconnectDelay) {
			return ctx.Err()
		}
	}
}

// SendMove pushes the local avatar's current state, rate-limited to one send
// per interval. A throttled call is dropped entirely: moves are absolute, so
// the next accepted send carries the latest state anyway.
func (s *Session) SendMove(move proto.Move) bool {
	s.mu.Lock()
	now := s.clock()
	if s.sentMove && now.Sub(s.lastMove) < moveInterval {
		s.mu.Unlock()
		return false
	}
	s.lastMove = now
	s.sentMove = true
	s.mu.Unlock()

	payload := struct {
		Type string `json:"type"`
		proto.Move
	}{Type: proto.TypeMove, Move: move}
	return s.sendJSON(payload) == nil
}

// MarkDirty flags that persisted state changed since the last save.
func (s *Session) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// MaybeSave sends a save-state if the dirty flag is set and the minimum
// inter-save interval has elapsed. Intermediate states between two sends are
// coalesced away.
func (s *Session) MaybeSave(blob state.Blob) bool {
	s.mu.Lock()
	now := s.clock()
	if !s.dirty || (s.sentSave && now.Sub(s.lastSave) < saveMinInterval) {
		s.mu.Unlock()
		return false
	}
	s.dirty = false
	s.lastSave = now
	s.sentSave = true
	s.mu.Unlock()

	return s.sendSave(blob) == nil
}

// ForceSave bypasses the dirty flag and interval, used right after
// authentication to establish a baseline.
func (s *Session) ForceSave(blob state.Blob) error {
	s.mu.Lock()
	s.dirty = false
	s.lastSave = s.clock()
	s.sentSave = true
	s.mu.Unlock()
	return s.sendSave(blob)
}

// Send writes an arbitrary client message, used by the trade coordinator.
func (s *Session) Send(payload any) error {
	return s.sendJSON(payload)
}

func (s *Session) sendSave(blob state.Blob) error {
	payload := struct {
		Type  string     `json:"type"`
		State state.Blob `json:"state"`
	}{Type: proto.TypeSaveState, State: blob}
	return s.sendJSON(payload)
}

func (s *Session) sendAuth() {
	s.mu.Lock()
	payload := struct {
		Type     string `json:"type"`
		Name     string `json:"name"`
		Passcode string `json:"passcode"`
		Avatar   string `json:"avatar,omitempty"`
	}{Type: proto.TypeAuth, Name: s.name, Passcode: s.passcode, Avatar: s.avatar}
	s.mu.Unlock()

	s.setState(StateAuthenticating)
	if err := s.sendJSON(payload); err != nil {
		return
	}
}

func (s *Session) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := s.clock().UnixMilli()
			s.mu.Lock()
			s.lastPingSent = now
			s.mu.Unlock()
			payload := struct {
				Type string `json:"type"`
				T    int64  `json:"t"`
			}{Type: proto.TypePing, T: now}
			s.sendJSON(payload)
		}
	}
}

func (s *Session) readLoop(conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(payload)
	}
}

func (s *Session) handleMessage(payload []byte) {
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	switch msg.Type {
	case proto.TypeWelcome:
		s.mu.Lock()
		s.connID = msg.ID
		s.mu.Unlock()
		if s.handlers.Weather != nil {
			s.handlers.Weather(msg.Weather, msg.Drops)
		}
	case proto.TypeAuthOK:
		s.setState(StateReady)
		if s.handlers.AuthOK != nil {
			s.handlers.AuthOK(false, msg.State)
		}
	case proto.TypeAuthNew:
		s.setState(StateReady)
		if s.handlers.AuthOK != nil {
			s.handlers.AuthOK(true, nil)
		}
	case proto.TypeAuthError:
		s.setState(StateOpen)
		if s.handlers.AuthError != nil {
			s.handlers.AuthError(msg.Message)
		}
	case proto.TypePlayers:
		if s.handlers.Players != nil {
			s.handlers.Players(msg.Players)
		}
	case proto.TypeWeather:
		if s.handlers.Weather != nil {
			s.handlers.Weather(msg.Weather, msg.Drops)
		}
	case proto.TypePong:
		if s.handlers.Pong != nil {
			s.handlers.Pong(msg.PingMs)
		}
	default:
		if s.handlers.Routed != nil {
			s.handlers.Routed(msg.Type, payload)
		}
	}
}

func (s *Session) sendJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) attach(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) detach() {
	s.mu.Lock()
	s.conn = nil
	s.connID = ""
	s.sentMove = false
	s.sentSave = false
	s.mu.Unlock()
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	if s.handlers.StateChanged != nil {
		s.handlers.StateChanged(next)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
