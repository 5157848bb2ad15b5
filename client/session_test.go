package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"driftline/server/internal/net/proto"
	"driftline/server/internal/state"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type scriptConn struct {
	mu       sync.Mutex
	written  [][]byte
	failNext bool
}

func (c *scriptConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.written = append(c.written, buf)
	return nil
}

func (c *scriptConn) ReadMessage() (int, []byte, error) { select {} }

func (c *scriptConn) Close() error { return nil }

func (c *scriptConn) sent(t *testing.T, index int) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= len(c.written) {
		t.Fatalf("expected at least %d writes, got %d", index+1, len(c.written))
	}
	var decoded map[string]any
	if err := json.Unmarshal(c.written[index], &decoded); err != nil {
		t.Fatalf("decode write %d: %v", index, err)
	}
	return decoded
}

func newTestSession(handlers Handlers) (*Session, *scriptConn, *stubClock) {
	s := NewSession(nil, handlers)
	clock := newStubClock()
	s.clock = clock.Now
	conn := &scriptConn{}
	s.attach(conn)
	s.state = StateOpen
	return s, conn, clock
}

func TestSendMoveThrottled(t *testing.T) {
	s, conn, clock := newTestSession(Handlers{})

	if !s.SendMove(proto.Move{X: 0.1}) {
		t.Fatalf("first move should send")
	}
	if s.SendMove(proto.Move{X: 0.2}) {
		t.Fatalf("move inside the throttle window should drop")
	}
	clock.Advance(moveInterval)
	if !s.SendMove(proto.Move{X: 0.3}) {
		t.Fatalf("move after the window should send")
	}

	conn.mu.Lock()
	writes := len(conn.written)
	conn.mu.Unlock()
	if writes != 2 {
		t.Fatalf("expected 2 writes, got %d", writes)
	}
	last := conn.sent(t, 1)
	if last["type"] != proto.TypeMove || last["x"].(float64) != 0.3 {
		t.Fatalf("latest state should win: %v", last)
	}
}

func TestMaybeSaveRequiresDirtyFlag(t *testing.T) {
	s, conn, _ := newTestSession(Handlers{})
	blob := state.NewBlob()

	if s.MaybeSave(blob) {
		t.Fatalf("clean session should not save")
	}
	s.MarkDirty()
	if !s.MaybeSave(blob) {
		t.Fatalf("dirty session should save")
	}
	if s.MaybeSave(blob) {
		t.Fatalf("flag should clear after a save")
	}

	msg := conn.sent(t, 0)
	if msg["type"] != proto.TypeSaveState {
		t.Fatalf("expected save-state, got %v", msg["type"])
	}
}

func TestMaybeSaveHonorsMinInterval(t *testing.T) {
	s, _, clock := newTestSession(Handlers{})
	blob := state.NewBlob()

	s.MarkDirty()
	if !s.MaybeSave(blob) {
		t.Fatalf("first save should send")
	}

	s.MarkDirty()
	if s.MaybeSave(blob) {
		t.Fatalf("save inside the minimum interval should wait")
	}
	clock.Advance(saveMinInterval)
	if !s.MaybeSave(blob) {
		t.Fatalf("save after the interval should send")
	}
}

func TestForceSaveBypassesInterval(t *testing.T) {
	s, conn, _ := newTestSession(Handlers{})
	blob := state.NewBlob()

	s.MarkDirty()
	if !s.MaybeSave(blob) {
		t.Fatalf("first save should send")
	}
	if err := s.ForceSave(blob); err != nil {
		t.Fatalf("forced save failed: %v", err)
	}

	conn.mu.Lock()
	writes := len(conn.written)
	conn.mu.Unlock()
	if writes != 2 {
		t.Fatalf("expected 2 writes, got %d", writes)
	}
}

func TestHandleWelcomeStoresConnID(t *testing.T) {
	var gotWeather string
	s, _, _ := newTestSession(Handlers{
		Weather: func(mode string, _ []proto.WeatherDrop) { gotWeather = mode },
	})

	s.handleMessage([]byte(`{"type":"welcome","id":"abc123","weather":"rain","drops":[{"x":0.5,"y":0.5,"speed":1,"length":10,"opacity":0.5}]}`))

	if s.ConnID() != "abc123" {
		t.Fatalf("connID = %q, want abc123", s.ConnID())
	}
	if gotWeather != proto.WeatherRain {
		t.Fatalf("weather handler got %q", gotWeather)
	}
}

func TestHandleAuthTransitions(t *testing.T) {
	var fresh *bool
	var blob *state.Blob
	var authErr string
	s, _, _ := newTestSession(Handlers{
		AuthOK: func(f bool, b *state.Blob) {
			fresh = &f
			blob = b
		},
		AuthError: func(message string) { authErr = message },
	})

	s.handleMessage([]byte(`{"type":"auth-ok","state":{"name":"Maris","money":50}}`))
	if s.State() != StateReady {
		t.Fatalf("auth-ok should reach ready, got %v", s.State())
	}
	if fresh == nil || *fresh || blob == nil || blob.Money != 50 {
		t.Fatalf("auth-ok callback wrong: fresh=%v blob=%v", fresh, blob)
	}

	s.handleMessage([]byte(`{"type":"auth-error","message":"incorrect passcode for that name"}`))
	if s.State() != StateOpen {
		t.Fatalf("auth-error should fall back to open, got %v", s.State())
	}
	if authErr == "" {
		t.Fatalf("auth-error callback not invoked")
	}

	s.handleMessage([]byte(`{"type":"auth-new"}`))
	if s.State() != StateReady {
		t.Fatalf("auth-new should reach ready, got %v", s.State())
	}
	if fresh == nil || !*fresh || blob != nil {
		t.Fatalf("auth-new should report a fresh account")
	}
}

func TestHandlePlayersAndRouted(t *testing.T) {
	var players []proto.PlayerSnapshot
	var routedType string
	s, _, _ := newTestSession(Handlers{
		Players: func(p []proto.PlayerSnapshot) { players = p },
		Routed:  func(msgType string, _ []byte) { routedType = msgType },
	})

	s.handleMessage([]byte(`{"type":"players","players":[{"id":"a","x":0.1,"y":0.2,"name":"Maris"}]}`))
	if len(players) != 1 || players[0].Name != "Maris" {
		t.Fatalf("players handler got %v", players)
	}

	s.handleMessage([]byte(`{"type":"gift","fromId":"a","item":{"sprite":"salmon"}}`))
	if routedType != proto.TypeGift {
		t.Fatalf("routed handler got %q", routedType)
	}
}

func TestSendersFailWhenDetached(t *testing.T) {
	s := NewSession(nil, Handlers{})
	s.clock = newStubClock().Now

	if err := s.ForceSave(state.NewBlob()); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if s.SendMove(proto.Move{}) {
		t.Fatalf("move without a socket should fail")
	}
}

// droppableConn blocks reads until the test injects an error.
type droppableConn struct {
	scriptConn
	readErr chan error
}

func (c *droppableConn) ReadMessage() (int, []byte, error) {
	return 0, nil, <-c.readErr
}

func TestRunReportsClosedAfterDisconnect(t *testing.T) {
	conn := &droppableConn{readErr: make(chan error, 1)}
	var dialMu sync.Mutex
	dials := 0
	dial := func(ctx context.Context) (Conn, error) {
		dialMu.Lock()
		dials++
		first := dials == 1
		dialMu.Unlock()
		if first {
			return conn, nil
		}
		return nil, errors.New("connection refused")
	}

	var stateMu sync.Mutex
	var states []SessionState
	s := NewSession(dial, Handlers{StateChanged: func(st SessionState) {
		stateMu.Lock()
		states = append(states, st)
		stateMu.Unlock()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor := func(want SessionState) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			stateMu.Lock()
			seen := false
			for _, st := range states {
				if st == want {
					seen = true
				}
			}
			stateMu.Unlock()
			if seen {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("never reached state %s", want)
			}
			time.Sleep(time.Millisecond)
		}
	}

	waitFor(StateOpen)
	conn.readErr <- errors.New("socket dropped")
	waitFor(StateClosed)

	cancel()
	<-done

	stateMu.Lock()
	defer stateMu.Unlock()
	for _, st := range states {
		if st == StateIdle {
			t.Fatalf("disconnect reported idle instead of closed: %v", states)
		}
	}
}
