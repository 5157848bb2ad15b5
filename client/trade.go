package client

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"driftline/server/internal/net/proto"
	"driftline/server/internal/state"
)

// CoordinatorEvents are the coordinator's callbacks into the game UI. Nil
// entries are skipped.
type CoordinatorEvents struct {
	GiftReceived  func(from string, item state.Item)
	TradeOffered  func(fromID, fromName, tradeID string, offer state.Item)
	TradeComplete func(tradeID string, received state.Item)
	TradeDeclined func(tradeID string)
}

// Coordinator runs the gift/trade message pattern over the relay. Both halves
// of a trade apply independently and non-atomically: a message lost in
// transit after one side applies its half loses that half. There is no
// escrow and no retry.
type Coordinator struct {
	mu     sync.Mutex
	blob   *state.Blob
	send   func(payload any) error
	events CoordinatorEvents

	// pending maps outgoing trade ids to the offered item's unique id. The
	// offer is not removed until the accept arrives.
	pending map[string]int64
}

func NewCoordinator(blob *state.Blob, send func(payload any) error, events CoordinatorEvents) *Coordinator {
	return &Coordinator{
		blob:    blob,
		send:    send,
		events:  events,
		pending: make(map[string]int64),
	}
}

// SendGift removes one unit of the item locally and sends it to the target.
// The removal happens before the send: if the target is offline the relay
// drops the message and the item is lost. At-most-once, by construction.
func (c *Coordinator) SendGift(toID string, itemID int64) error {
	c.mu.Lock()
	item, ok := c.blob.TakeItem(itemID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: no item %d to gift", itemID)
	}

	payload := struct {
		Type string     `json:"type"`
		ToID string     `json:"toId"`
		Item state.Item `json:"item"`
	}{Type: proto.TypeGift, ToID: toID, Item: item}
	return c.send(payload)
}

// OfferTrade sends a trade request for one of our items. Nothing is removed
// locally until the accept arrives.
func (c *Coordinator) OfferTrade(toID string, itemID int64) (string, error) {
	c.mu.Lock()
	item, ok := c.blob.ItemByID(itemID)
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("client: no item %d to offer", itemID)
	}
	tradeID := newTradeID()
	c.pending[tradeID] = itemID
	c.mu.Unlock()

	payload := struct {
		Type      string     `json:"type"`
		ToID      string     `json:"toId"`
		TradeID   string     `json:"tradeId"`
		OfferItem state.Item `json:"offerItem"`
	}{Type: proto.TypeTradeRequest, ToID: toID, TradeID: tradeID, OfferItem: item}
	if err := c.send(payload); err != nil {
		c.mu.Lock()
		delete(c.pending, tradeID)
		c.mu.Unlock()
		return "", err
	}
	return tradeID, nil
}

// AcceptTrade answers an incoming offer: the return item is removed locally
// right now, the offered item is added, and the accept is sent back carrying
// both so the original sender can apply their half.
func (c *Coordinator) AcceptTrade(fromID, tradeID string, offer state.Item, returnItemID int64) error {
	c.mu.Lock()
	returned, ok := c.blob.TakeItem(returnItemID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("client: no item %d to return", returnItemID)
	}
	c.blob.AddItem(offer)
	c.mu.Unlock()

	payload := struct {
		Type       string     `json:"type"`
		ToID       string     `json:"toId"`
		TradeID    string     `json:"tradeId"`
		OfferItem  state.Item `json:"offerItem"`
		ReturnItem state.Item `json:"returnItem"`
	}{Type: proto.TypeTradeAccept, ToID: fromID, TradeID: tradeID, OfferItem: offer, ReturnItem: returned}
	return c.send(payload)
}

// DeclineTrade answers an incoming offer with a decline. Neither side has
// removed anything yet, so this is a pure state reset.
func (c *Coordinator) DeclineTrade(fromID, tradeID string) error {
	payload := struct {
		Type    string `json:"type"`
		ToID    string `json:"toId"`
		TradeID string `json:"tradeId"`
	}{Type: proto.TypeTradeDecline, ToID: fromID, TradeID: tradeID}
	return c.send(payload)
}

// routedMessage is the superset of the relayed gift/trade payloads.
type routedMessage struct {
	Type       string     `json:"type"`
	FromID     string     `json:"fromId"`
	FromName   string     `json:"fromName"`
	TradeID    string     `json:"tradeId"`
	Item       state.Item `json:"item"`
	OfferItem  state.Item `json:"offerItem"`
	ReturnItem state.Item `json:"returnItem"`
}

// HandleRouted processes one relayed message from a peer. Wire it to the
// session's Routed handler.
func (c *Coordinator) HandleRouted(msgType string, raw []byte) {
	var msg routedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msgType {
	case proto.TypeGift:
		c.mu.Lock()
		added := c.blob.AddItem(msg.Item)
		c.mu.Unlock()
		if c.events.GiftReceived != nil {
			c.events.GiftReceived(msg.FromName, added)
		}
	case proto.TypeTradeRequest:
		if c.events.TradeOffered != nil {
			c.events.TradeOffered(msg.FromID, msg.FromName, msg.TradeID, msg.OfferItem)
		}
	case proto.TypeTradeAccept:
		c.handleAccept(msg)
	case proto.TypeTradeDecline:
		c.mu.Lock()
		delete(c.pending, msg.TradeID)
		c.mu.Unlock()
		if c.events.TradeDeclined != nil {
			c.events.TradeDeclined(msg.TradeID)
		}
	}
}

// handleAccept applies the original sender's half of a trade: the offered
// item leaves the inventory only now, on receipt of the accept, and the
// returned item is added.
func (c *Coordinator) handleAccept(msg routedMessage) {
	c.mu.Lock()
	itemID, ok := c.pending[msg.TradeID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, msg.TradeID)

	if _, taken := c.blob.TakeItem(itemID); !taken {
		// The offered item was spent while the trade was pending. Matching
		// by wire identity is the best recovery available.
		for _, item := range c.blob.Inventory {
			if item.MatchesWire(msg.OfferItem) {
				c.blob.TakeItem(item.ID)
				break
			}
		}
	}
	received := c.blob.AddItem(msg.ReturnItem)
	c.mu.Unlock()

	if c.events.TradeComplete != nil {
		c.events.TradeComplete(msg.TradeID, received)
	}
}

// PendingTrades lists the trade ids awaiting a reply.
func (c *Coordinator) PendingTrades() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

func newTradeID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("t-%d", time.Now().UnixNano())
	}
	return "t-" + hex.EncodeToString(buf[:])
}
