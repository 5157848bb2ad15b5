package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"driftline/server/internal/state"
	"driftline/server/logging"
	"driftline/server/logging/lifecycle"
	"driftline/server/logging/sinks"
)

type stubBackend struct {
	name    string
	records map[string]Record
	fail    bool
	saves   int
}

func newStubBackend(name string) *stubBackend {
	return &stubBackend{name: name, records: make(map[string]Record)}
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Load(_ context.Context, name string) (Record, string, bool, error) {
	if s.fail {
		return Record{}, "", false, errors.New("tier unavailable")
	}
	if rec, ok := s.records[name]; ok {
		return rec, name, true, nil
	}
	for stored, rec := range s.records {
		if strings.EqualFold(stored, name) {
			return rec, stored, true, nil
		}
	}
	return Record{}, "", false, nil
}

func (s *stubBackend) Save(_ context.Context, name string, rec Record) error {
	if s.fail {
		return errors.New("tier unavailable")
	}
	s.saves++
	s.records[name] = rec
	return nil
}

func testRecord(name string) Record {
	weight := 3.4
	id := int64(2)
	blob := state.NewBlob()
	blob.Name = name
	blob.Passcode = "reef-rocks"
	blob.Money = 120
	blob.X = 410.5
	blob.Y = 96
	blob.NextItemID = 3
	blob.Inventory = []state.Item{
		{ID: 1, Name: "Basic Rod", Sprite: "rodBasic", Type: "rod", Price: 50, Count: 1},
		{ID: 2, Name: "Salmon", Sprite: "salmon", Rarity: "common", Weight: weight, Price: 15},
	}
	blob.Hotbar[0] = &id
	blob.SellFilters = map[string]bool{"common": true}
	return Record{Passcode: "reef-rocks", State: blob}
}

func TestTieredLoadFallsThroughFailingTier(t *testing.T) {
	remote := newStubBackend("remote")
	remote.fail = true
	local := newStubBackend("local")
	local.records["Maris"] = testRecord("Maris")

	tiered := NewTiered(nil, remote, local)

	rec, canonical, ok, err := tiered.Load(context.Background(), "Maris")
	if err != nil {
		t.Fatalf("unexpected error loading through failing tier: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found in the local tier")
	}
	if canonical != "Maris" {
		t.Fatalf("expected canonical name Maris, got %q", canonical)
	}
	if rec.Passcode != "reef-rocks" {
		t.Fatalf("unexpected passcode %q", rec.Passcode)
	}
	if got := tiered.Stats().TierErrors; got != 1 {
		t.Fatalf("expected 1 tier error recorded, got %d", got)
	}
}

func TestTieredSaveFallsBackToNextTier(t *testing.T) {
	remote := newStubBackend("remote")
	remote.fail = true
	local := newStubBackend("local")

	tiered := NewTiered(nil, remote, local)

	if err := tiered.Save(context.Background(), "Maris", testRecord("Maris")); err != nil {
		t.Fatalf("expected save to complete via local tier: %v", err)
	}
	if local.saves != 1 {
		t.Fatalf("expected exactly one local save, got %d", local.saves)
	}
	if got := tiered.Stats().FallbackWrites; got != 1 {
		t.Fatalf("expected 1 fallback write recorded, got %d", got)
	}
}

func TestTieredSaveErrorFromFinalTierPropagates(t *testing.T) {
	remote := newStubBackend("remote")
	remote.fail = true
	local := newStubBackend("local")
	local.fail = true

	tiered := NewTiered(nil, remote, local)

	if err := tiered.Save(context.Background(), "Maris", testRecord("Maris")); err == nil {
		t.Fatal("expected error when every tier fails")
	}
}

func TestTieredLoadHitsHotCacheFirst(t *testing.T) {
	remote := newStubBackend("remote")
	local := newStubBackend("local")
	tiered := NewTiered(nil, remote, local)

	if err := tiered.Save(context.Background(), "Maris", testRecord("Maris")); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	// Break every backend; the cache alone must satisfy the lookup.
	remote.fail = true
	local.fail = true

	rec, canonical, ok, err := tiered.Load(context.Background(), "maris")
	if err != nil || !ok {
		t.Fatalf("expected cache hit, got ok=%v err=%v", ok, err)
	}
	if canonical != "Maris" {
		t.Fatalf("expected canonical casing Maris from cache, got %q", canonical)
	}
	if rec.State.Money != 120 {
		t.Fatalf("unexpected money in cached record: %d", rec.State.Money)
	}
}

func TestTieredCacheReturnsCopies(t *testing.T) {
	local := newStubBackend("local")
	tiered := NewTiered(nil, local)

	if err := tiered.Save(context.Background(), "Maris", testRecord("Maris")); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	first, _, _, _ := tiered.Load(context.Background(), "Maris")
	first.State.Inventory[0].Count = 99

	second, _, _, _ := tiered.Load(context.Background(), "Maris")
	if second.State.Inventory[0].Count != 1 {
		t.Fatalf("cache entry was mutated through a returned record: count=%d", second.State.Inventory[0].Count)
	}
}

func TestTieredColdRestartFindsRecordInFallbackFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.json")
	remote := newStubBackend("remote")
	remote.fail = true

	warm := NewTiered(nil, remote, NewFileBackend(path))
	want := testRecord("Maris")
	if err := warm.Save(context.Background(), "Maris", want); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	// Fresh store over the same file simulates a process restart with a cold
	// cache and the remote tier still down.
	cold := NewTiered(nil, remote, NewFileBackend(path))
	got, canonical, ok, err := cold.Load(context.Background(), "maris")
	if err != nil {
		t.Fatalf("unexpected error on cold load: %v", err)
	}
	if !ok {
		t.Fatal("expected record to survive restart via fallback file")
	}
	if canonical != "Maris" {
		t.Fatalf("expected canonical name Maris, got %q", canonical)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("record did not round-trip: got %+v want %+v", got, want)
	}
}

func TestTieredTierErrorLandsInLogSink(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	memory := sinks.NewMemorySink()
	clock := logging.ClockFunc(func() time.Time { return now })
	router, err := logging.NewRouter(clock, logging.DefaultConfig(), []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("unexpected router error: %v", err)
	}
	if router.Sink("memory") != logging.Sink(memory) {
		t.Fatal("router did not register the memory sink under its name")
	}

	remote := newStubBackend("redis")
	remote.fail = true
	file := newStubBackend("file")
	file.records["Maris"] = testRecord("Maris")

	tiered := NewTiered(router, remote, file)
	if _, _, ok, loadErr := tiered.Load(context.Background(), "Maris"); loadErr != nil || !ok {
		t.Fatalf("expected fallback load to succeed, got ok=%v err=%v", ok, loadErr)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(closeCtx); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	var fallback *logging.Event
	for _, event := range memory.Events() {
		if event.Type == lifecycle.EventStoreFallback {
			copied := event
			fallback = &copied
		}
	}
	if fallback == nil {
		t.Fatalf("no %s event reached the sink, got %d events", lifecycle.EventStoreFallback, len(memory.Events()))
	}
	payload, ok := fallback.Payload.(lifecycle.StoreFallbackPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", fallback.Payload)
	}
	if payload.Tier != "redis" || payload.Operation != "load" {
		t.Fatalf("payload = %+v, want tier redis operation load", payload)
	}
	if fallback.Severity != logging.SeverityWarn {
		t.Fatalf("severity = %v, want warn", fallback.Severity)
	}
	if !fallback.Time.Equal(now) {
		t.Fatalf("time = %v, want the router clock's %v", fallback.Time, now)
	}
}
