package proto

import (
	"encoding/json"

	"driftline/server/internal/state"
)

// Welcome is sent once per connection, immediately after the upgrade, and
// carries the current weather so a new client does not wait for the next
// toggle.
type Welcome struct {
	ID      string        `json:"id"`
	Weather string        `json:"weather"`
	Drops   []WeatherDrop `json:"drops,omitempty"`
}

// EncodeWelcome renders the welcome payload.
func EncodeWelcome(msg Welcome) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Welcome
	}{Type: TypeWelcome, Welcome: msg})
}

// AuthOK acknowledges a returning player with their stored blob.
type AuthOK struct {
	State *state.Blob `json:"state,omitempty"`
}

// EncodeAuthOK renders the auth-ok payload.
func EncodeAuthOK(msg AuthOK) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		AuthOK
	}{Type: TypeAuthOK, AuthOK: msg})
}

// EncodeAuthNew renders the auth-new payload for a first-contact name.
func EncodeAuthNew() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: TypeAuthNew})
}

// AuthError carries a human-readable refusal; the connection stays open.
type AuthError struct {
	Message string `json:"message"`
}

// EncodeAuthError renders the auth-error payload.
func EncodeAuthError(msg AuthError) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		AuthError
	}{Type: TypeAuthError, AuthError: msg})
}

// Players is the full-registry broadcast triggered by every move.
type Players struct {
	Players []PlayerSnapshot `json:"players"`
}

// EncodePlayers renders the players payload.
func EncodePlayers(msg Players) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Players
	}{Type: TypePlayers, Players: msg})
}

// Pong echoes the measured round-trip time.
type Pong struct {
	PingMs int64 `json:"pingMs"`
}

// EncodePong renders the pong payload.
func EncodePong(msg Pong) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Pong
	}{Type: TypePong, Pong: msg})
}

// Weather announces a mode change along with the regenerated particle field.
type Weather struct {
	Weather string        `json:"weather"`
	Drops   []WeatherDrop `json:"drops,omitempty"`
}

// EncodeWeather renders the weather payload.
func EncodeWeather(msg Weather) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Weather
	}{Type: TypeWeather, Weather: msg})
}

// Routed wraps a forwarded message with the sender's identity. Payload keeps
// the original fields verbatim.
type Routed struct {
	Type     string
	FromID   string
	FromName string
	Payload  any
}

// EncodeRouted renders a forwarded gift/trade/prank message. The original
// payload fields are flattened alongside type, fromId, and fromName.
func EncodeRouted(msg Routed) ([]byte, error) {
	flat := map[string]any{
		"type":     msg.Type,
		"fromId":   msg.FromID,
		"fromName": msg.FromName,
	}
	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, err
		}
		fields := make(map[string]any)
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			if _, reserved := flat[k]; !reserved {
				flat[k] = v
			}
		}
	}
	return json.Marshal(flat)
}

// DevBroadcastOut is the broadcast form of a dev-broadcast message.
type DevBroadcastOut struct {
	Text     string `json:"text"`
	FromName string `json:"fromName"`
}

// EncodeDevBroadcast renders the dev-broadcast payload.
func EncodeDevBroadcast(msg DevBroadcastOut) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		DevBroadcastOut
	}{Type: TypeDevBroadcast, DevBroadcastOut: msg})
}
