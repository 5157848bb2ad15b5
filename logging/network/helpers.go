package network

import (
	"context"

	"driftline/server/logging"
)

const (
	// EventConnectionOpened is emitted when a websocket session is registered.
	EventConnectionOpened logging.EventType = "network.connection_opened"
	// EventConnectionClosed is emitted when a connection leaves the registry.
	EventConnectionClosed logging.EventType = "network.connection_closed"
	// EventRoutedDropped is emitted when a targeted message has no live recipient.
	EventRoutedDropped logging.EventType = "network.routed_dropped"
	// EventMalformedPayload is emitted when an inbound payload fails to decode.
	EventMalformedPayload logging.EventType = "network.malformed_payload"
)

// RoutedDropPayload captures details about an undeliverable routed message.
type RoutedDropPayload struct {
	MessageType string `json:"messageType"`
	TargetID    string `json:"targetId"`
}

// ConnectionOpened publishes an info event for a newly registered connection.
func ConnectionOpened(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnectionOpened,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}

// ConnectionClosed publishes an info event when a connection is removed.
func ConnectionClosed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnectionClosed,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}

// RoutedDropped publishes a debug event when a routed message is discarded.
func RoutedDropped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RoutedDropPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRoutedDropped,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// MalformedPayload publishes a debug event for an unparseable inbound message.
func MalformedPayload(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedPayload,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Extra:    extra,
	})
}
