// Package proto defines the wire catalogue for the relay: every inbound
// message is one variant of a closed tagged union keyed by the mandatory
// "type" field, and unknown tags decode to an explicit Ignored variant so the
// dispatch boundary can match exhaustively.
package proto

import (
	"encoding/json"

	"driftline/server/internal/state"
)

// Client message type identifiers.
const (
	TypeAuth         = "auth"
	TypeSaveState    = "save-state"
	TypeMove         = "move"
	TypePing         = "ping"
	TypeWeatherSet   = "weather-set"
	TypeGift         = "gift"
	TypeTradeRequest = "trade-request"
	TypeTradeAccept  = "trade-accept"
	TypeTradeDecline = "trade-decline"
	TypeDevBroadcast = "dev-broadcast"
	TypeDevPrank     = "dev-prank"
)

// Server message type identifiers.
const (
	TypeWelcome   = "welcome"
	TypeAuthOK    = "auth-ok"
	TypeAuthNew   = "auth-new"
	TypeAuthError = "auth-error"
	TypePlayers   = "players"
	TypePong      = "pong"
	TypeWeather   = "weather"
)

// Weather modes shared between server and clients.
const (
	WeatherClear = "clear"
	WeatherRain  = "rain"
)

// PlayerSnapshot is one connection's ephemeral broadcast state as carried in
// a players message.
type PlayerSnapshot struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	FacingRight bool    `json:"facingRight"`
	Name        string  `json:"name"`
	Avatar      string  `json:"avatar"`
	HasRod      bool    `json:"hasRod"`
	RodSprite   string  `json:"rodSprite,omitempty"`
	HeldSprite  string  `json:"heldSprite,omitempty"`
	HeldWeight  float64 `json:"heldWeight,omitempty"`
	HeldRarity  string  `json:"heldRarity,omitempty"`
	Money       int     `json:"money"`
	PingMs      int64   `json:"pingMs"`
}

// WeatherDrop is one particle descriptor in the precipitation field. The
// server generates the field once per toggle and every client renders the
// same descriptors.
type WeatherDrop struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Speed   float64 `json:"speed"`
	Length  float64 `json:"length"`
	Opacity float64 `json:"opacity"`
}

// ClientMessage is the closed union of inbound payloads.
type ClientMessage interface {
	clientMessage()
}

// Auth presents credentials for a display name.
type Auth struct {
	Name     string `json:"name"`
	Passcode string `json:"passcode"`
	Avatar   string `json:"avatar,omitempty"`
}

// SaveState pushes a self-describing state blob for persistence.
type SaveState struct {
	State state.Blob `json:"state"`
}

// Move updates the sender's ephemeral broadcast fields.
type Move struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	FacingRight *bool   `json:"facingRight,omitempty"`
	Name        string  `json:"name,omitempty"`
	Avatar      string  `json:"avatar,omitempty"`
	HasRod      bool    `json:"hasRod,omitempty"`
	RodSprite   string  `json:"rodSprite,omitempty"`
	HeldSprite  string  `json:"heldSprite,omitempty"`
	HeldWeight  float64 `json:"heldWeight,omitempty"`
	HeldRarity  string  `json:"heldRarity,omitempty"`
	Money       int     `json:"money,omitempty"`
}

// Ping carries the client send time for round-trip measurement.
type Ping struct {
	T int64 `json:"t"`
}

// WeatherSet forces the global weather mode.
type WeatherSet struct {
	Weather string `json:"weather"`
}

// Gift hands one item to another connection.
type Gift struct {
	ToID string     `json:"toId"`
	Item state.Item `json:"item"`
}

// TradeRequest opens a trade with an offered item.
type TradeRequest struct {
	ToID      string     `json:"toId"`
	TradeID   string     `json:"tradeId"`
	OfferItem state.Item `json:"offerItem"`
}

// TradeAccept answers a trade request with a return item.
type TradeAccept struct {
	ToID       string     `json:"toId"`
	TradeID    string     `json:"tradeId"`
	OfferItem  state.Item `json:"offerItem"`
	ReturnItem state.Item `json:"returnItem"`
}

// TradeDecline rejects a pending trade.
type TradeDecline struct {
	ToID    string `json:"toId"`
	TradeID string `json:"tradeId"`
}

// DevBroadcast sends text to every connection.
type DevBroadcast struct {
	Text string `json:"text"`
}

// DevPrank forwards an opaque prank payload to one target or everyone.
type DevPrank struct {
	ToID  string          `json:"toId"`
	Prank json.RawMessage `json:"prank"`
}

// Ignored is the explicit variant for unrecognized type tags.
type Ignored struct {
	Type string
}

func (Auth) clientMessage()         {}
func (SaveState) clientMessage()    {}
func (Move) clientMessage()         {}
func (Ping) clientMessage()         {}
func (WeatherSet) clientMessage()   {}
func (Gift) clientMessage()         {}
func (TradeRequest) clientMessage() {}
func (TradeAccept) clientMessage()  {}
func (TradeDecline) clientMessage() {}
func (DevBroadcast) clientMessage() {}
func (DevPrank) clientMessage()     {}
func (Ignored) clientMessage()      {}

// DecodeClientMessage converts a raw websocket payload into one union
// variant. A decode error means the payload is malformed and should be
// dropped without reply.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}

	decode := func(dst any) error {
		return json.Unmarshal(payload, dst)
	}

	switch envelope.Type {
	case TypeAuth:
		var msg Auth
		return msg, decode(&msg)
	case TypeSaveState:
		var msg SaveState
		return msg, decode(&msg)
	case TypeMove:
		var msg Move
		return msg, decode(&msg)
	case TypePing:
		var msg Ping
		return msg, decode(&msg)
	case TypeWeatherSet:
		var msg WeatherSet
		return msg, decode(&msg)
	case TypeGift:
		var msg Gift
		return msg, decode(&msg)
	case TypeTradeRequest:
		var msg TradeRequest
		return msg, decode(&msg)
	case TypeTradeAccept:
		var msg TradeAccept
		return msg, decode(&msg)
	case TypeTradeDecline:
		var msg TradeDecline
		return msg, decode(&msg)
	case TypeDevBroadcast:
		var msg DevBroadcast
		return msg, decode(&msg)
	case TypeDevPrank:
		var msg DevPrank
		return msg, decode(&msg)
	default:
		return Ignored{Type: envelope.Type}, nil
	}
}
