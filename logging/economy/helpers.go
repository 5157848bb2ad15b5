package economy

import (
	"context"

	"driftline/server/logging"
)

const (
	// EventGiftForwarded is emitted when a gift is relayed to its recipient.
	EventGiftForwarded logging.EventType = "economy.gift_forwarded"
	// EventTradeForwarded is emitted when a trade message is relayed.
	EventTradeForwarded logging.EventType = "economy.trade_forwarded"
)

// TransferPayload describes a relayed gift or trade message.
type TransferPayload struct {
	MessageType string `json:"messageType"`
	TradeID     string `json:"tradeId,omitempty"`
	ItemSprite  string `json:"itemSprite,omitempty"`
}

// GiftForwarded records a relayed gift.
func GiftForwarded(ctx context.Context, pub logging.Publisher, from, to logging.EntityRef, payload TransferPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGiftForwarded,
		Actor:    from,
		Targets:  []logging.EntityRef{to},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEconomy,
		Payload:  payload,
	})
}

// TradeForwarded records a relayed trade request, acceptance, or decline.
func TradeForwarded(ctx context.Context, pub logging.Publisher, from, to logging.EntityRef, payload TransferPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTradeForwarded,
		Actor:    from,
		Targets:  []logging.EntityRef{to},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEconomy,
		Payload:  payload,
	})
}
