package lifecycle

import (
	"context"

	"driftline/server/logging"
)

const (
	// EventAuthAccepted is emitted when a returning player presents the right passcode.
	EventAuthAccepted logging.EventType = "lifecycle.auth_accepted"
	// EventAuthRegistered is emitted when a record is created for a new name.
	EventAuthRegistered logging.EventType = "lifecycle.auth_registered"
	// EventAuthRejected is emitted on missing credentials or a passcode mismatch.
	EventAuthRejected logging.EventType = "lifecycle.auth_rejected"
	// EventSaveAccepted is emitted when a save-state payload is persisted.
	EventSaveAccepted logging.EventType = "lifecycle.save_accepted"
	// EventSaveRejected is emitted when a save-state payload fails its passcode re-check.
	EventSaveRejected logging.EventType = "lifecycle.save_rejected"
	// EventStoreFallback is emitted when a storage tier errors and the next tier takes over.
	EventStoreFallback logging.EventType = "lifecycle.store_fallback"
	// EventStoreFault is emitted when the final tier fails and the operation is abandoned.
	EventStoreFault logging.EventType = "lifecycle.store_fault"
)

// AuthPayload carries the resolved player name for auth events.
type AuthPayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// StoreFallbackPayload describes which tier failed and for which operation.
type StoreFallbackPayload struct {
	Tier      string `json:"tier"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryLifecycle
	pub.Publish(ctx, event)
}

// AuthAccepted records a successful returning-player authentication.
func AuthAccepted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload AuthPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventAuthAccepted,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

// AuthRegistered records a first-contact registration.
func AuthRegistered(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload AuthPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventAuthRegistered,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
	})
}

// AuthRejected records a refused authentication attempt.
func AuthRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload AuthPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventAuthRejected,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Payload:  payload,
	})
}

// SaveAccepted records a persisted save-state payload.
func SaveAccepted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload AuthPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSaveAccepted,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

// SaveRejected records a silently dropped save-state payload.
func SaveRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload AuthPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSaveRejected,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

// StoreFault records an operation abandoned because every tier failed.
func StoreFault(ctx context.Context, pub logging.Publisher, payload StoreFallbackPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventStoreFault,
		Actor:    logging.EntityRef{ID: payload.Tier, Kind: logging.EntityKindStore},
		Severity: logging.SeverityError,
		Payload:  payload,
	})
}

// StoreFallback records a storage tier error that triggered fallback.
func StoreFallback(ctx context.Context, pub logging.Publisher, payload StoreFallbackPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventStoreFallback,
		Actor:    logging.EntityRef{ID: payload.Tier, Kind: logging.EntityKindStore},
		Severity: logging.SeverityWarn,
		Payload:  payload,
	})
}
