package server

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"driftline/server/internal/net/proto"
)

// messageWriter is the slice of *websocket.Conn the hub needs for outbound
// traffic. Tests substitute in-memory writers.
type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber serializes writes to one connection. gorilla/websocket allows a
// single concurrent writer, so every send takes the write lock and a fresh
// deadline.
type subscriber struct {
	conn messageWriter
	mu   sync.Mutex
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *subscriber) close() {
	s.conn.Close()
}

// connState is one live connection's ephemeral broadcast state. It is created
// on connect, mutated only by that connection's own move/ping messages, and
// destroyed on disconnect; nothing here is persisted directly.
type connState struct {
	ID            string
	X             float64
	Y             float64
	FacingRight   bool
	Name          string
	Avatar        string
	HasRod        bool
	RodSprite     string
	HeldSprite    string
	HeldWeight    float64
	HeldRarity    string
	Money         int
	PingMs        int64
	authenticated bool
	sub           *subscriber
}

func newConnState(id string, sub *subscriber) *connState {
	return &connState{
		ID:          id,
		FacingRight: true,
		Name:        defaultName,
		Avatar:      defaultAvatar,
		sub:         sub,
	}
}

func (c *connState) snapshot() proto.PlayerSnapshot {
	return proto.PlayerSnapshot{
		ID:          c.ID,
		X:           c.X,
		Y:           c.Y,
		FacingRight: c.FacingRight,
		Name:        c.Name,
		Avatar:      c.Avatar,
		HasRod:      c.HasRod,
		RodSprite:   c.RodSprite,
		HeldSprite:  c.HeldSprite,
		HeldWeight:  c.HeldWeight,
		HeldRarity:  c.HeldRarity,
		Money:       c.Money,
		PingMs:      c.PingMs,
	}
}

// newConnID mints the opaque token identifying one live socket. Tokens are
// random so ids are never reused across reconnects.
func newConnID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// timestamp so the server can limp along rather than refuse joins.
		return hex.EncodeToString([]byte(time.Now().Format("150405.000000")))[:16]
	}
	return hex.EncodeToString(buf[:])
}

// truncateName caps display names at maxNameLength characters. The cap is in
// runes, not bytes, so multi-byte names are never split mid-character.
func truncateName(name string) string {
	if utf8.RuneCountInString(name) <= maxNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxNameLength])
}
