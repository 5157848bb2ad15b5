package proto

import (
	"encoding/json"
	"testing"

	"driftline/server/internal/state"
)

func TestDecodeClientMessageVariants(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"auth","name":"Maris","passcode":"reef-rocks","avatar":"reef"}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	auth, ok := msg.(Auth)
	if !ok {
		t.Fatalf("expected Auth variant, got %T", msg)
	}
	if auth.Name != "Maris" || auth.Passcode != "reef-rocks" || auth.Avatar != "reef" {
		t.Fatalf("auth fields did not decode: %+v", auth)
	}

	msg, err = DecodeClientMessage([]byte(`{"type":"move","x":12.5,"y":40,"facingRight":false,"name":"Maris","money":75}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	move, ok := msg.(Move)
	if !ok {
		t.Fatalf("expected Move variant, got %T", msg)
	}
	if move.X != 12.5 || move.Y != 40 || move.FacingRight == nil || *move.FacingRight {
		t.Fatalf("move fields did not decode: %+v", move)
	}

	msg, err = DecodeClientMessage([]byte(`{"type":"gift","toId":"abc123","item":{"id":7,"sprite":"salmon","weight":3.4}}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	gift, ok := msg.(Gift)
	if !ok {
		t.Fatalf("expected Gift variant, got %T", msg)
	}
	if gift.ToID != "abc123" || gift.Item.Sprite != "salmon" || gift.Item.Weight != 3.4 {
		t.Fatalf("gift fields did not decode: %+v", gift)
	}

	msg, err = DecodeClientMessage([]byte(`{"type":"ping","t":172}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if ping, ok := msg.(Ping); !ok || ping.T != 172 {
		t.Fatalf("expected Ping with t=172, got %#v", msg)
	}
}

func TestDecodeClientMessageUnknownTypeIsIgnored(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"teleport","x":1}`))
	if err != nil {
		t.Fatalf("unknown types must not error: %v", err)
	}
	ignored, ok := msg.(Ignored)
	if !ok {
		t.Fatalf("expected Ignored variant, got %T", msg)
	}
	if ignored.Type != "teleport" {
		t.Fatalf("expected original tag to be preserved, got %q", ignored.Type)
	}
}

func TestDecodeClientMessageMalformedPayloadErrors(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for truncated payload")
	}
	if _, err := DecodeClientMessage([]byte(`{"type":"ping","t":"soon"}`)); err == nil {
		t.Fatal("expected error for mistyped field")
	}
}

func TestEncodeRoutedFlattensPayloadWithSender(t *testing.T) {
	data, err := EncodeRouted(Routed{
		Type:     TypeGift,
		FromID:   "abc123",
		FromName: "Maris",
		Payload: Gift{
			ToID: "def456",
			Item: state.Item{ID: 7, Sprite: "salmon", Rarity: "common", Weight: 3.4},
		},
	})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("routed message is not valid JSON: %v", err)
	}
	if wire["type"] != "gift" || wire["fromId"] != "abc123" || wire["fromName"] != "Maris" {
		t.Fatalf("sender identity missing from routed message: %v", wire)
	}
	if wire["toId"] != "def456" {
		t.Fatalf("original payload fields must ride along verbatim: %v", wire)
	}
	item, ok := wire["item"].(map[string]any)
	if !ok || item["sprite"] != "salmon" {
		t.Fatalf("item payload did not survive forwarding: %v", wire)
	}
}

func TestEncodeWelcomeCarriesWeather(t *testing.T) {
	data, err := EncodeWelcome(Welcome{
		ID:      "abc123",
		Weather: WeatherRain,
		Drops:   []WeatherDrop{{X: 0.5, Y: 0.25, Speed: 1.1, Length: 12, Opacity: 0.6}},
	})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("welcome is not valid JSON: %v", err)
	}
	if wire["type"] != "welcome" || wire["id"] != "abc123" || wire["weather"] != "rain" {
		t.Fatalf("welcome fields missing: %v", wire)
	}
	drops, ok := wire["drops"].([]any)
	if !ok || len(drops) != 1 {
		t.Fatalf("expected one drop in welcome, got %v", wire["drops"])
	}
}
