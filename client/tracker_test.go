package client

import (
	"math"
	"testing"

	"driftline/server/internal/net/proto"
)

func TestTrackerExcludesSelf(t *testing.T) {
	tracker := NewTracker()
	tracker.SetSelfID("me")

	tracker.Observe([]proto.PlayerSnapshot{
		{ID: "me", X: 0.5, Y: 0.5},
		{ID: "peer", X: 0.1, Y: 0.2, Name: "Maris"},
	})

	avatars := tracker.Avatars()
	if len(avatars) != 1 || avatars[0].ID != "peer" {
		t.Fatalf("expected only the peer, got %v", avatars)
	}
}

func TestTrackerSpawnsAtReportedPosition(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe([]proto.PlayerSnapshot{{ID: "peer", X: 0.4, Y: 0.6}})

	avatar, ok := tracker.Lookup("peer")
	if !ok {
		t.Fatalf("peer not tracked")
	}
	if avatar.RenderX != 0.4 || avatar.RenderY != 0.6 {
		t.Fatalf("new peer should spawn at its target, got (%v, %v)", avatar.RenderX, avatar.RenderY)
	}
}

func TestTrackerStepApproachesTarget(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe([]proto.PlayerSnapshot{{ID: "peer", X: 0, Y: 0}})
	tracker.Observe([]proto.PlayerSnapshot{{ID: "peer", X: 1, Y: 1}})

	tracker.Step()
	avatar, _ := tracker.Lookup("peer")
	if math.Abs(avatar.RenderX-smoothingFactor) > 1e-9 {
		t.Fatalf("one step should cover the smoothing fraction, got %v", avatar.RenderX)
	}

	prev := avatar.RenderX
	for i := 0; i < 100; i++ {
		tracker.Step()
		avatar, _ = tracker.Lookup("peer")
		if avatar.RenderX > 1 {
			t.Fatalf("smoothing must not overshoot, got %v", avatar.RenderX)
		}
		if avatar.RenderX < prev {
			t.Fatalf("render position must approach monotonically")
		}
		prev = avatar.RenderX
	}
	if 1-avatar.RenderX > 1e-3 {
		t.Fatalf("render position should converge, got %v", avatar.RenderX)
	}
}

func TestTrackerPrunesAbsentPeers(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe([]proto.PlayerSnapshot{
		{ID: "a", X: 0.1},
		{ID: "b", X: 0.2},
	})
	tracker.Observe([]proto.PlayerSnapshot{{ID: "b", X: 0.3}})

	if _, ok := tracker.Lookup("a"); ok {
		t.Fatalf("absent peer should be pruned")
	}
	if _, ok := tracker.Lookup("b"); !ok {
		t.Fatalf("present peer should survive")
	}
}

func TestTrackerUpdatesDisplayFields(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe([]proto.PlayerSnapshot{{ID: "peer", Name: "Guest"}})
	tracker.Observe([]proto.PlayerSnapshot{{
		ID: "peer", Name: "Maris", Avatar: "reef", HasRod: true,
		RodSprite: "bamboo", HeldSprite: "salmon", HeldWeight: 3.2,
		HeldRarity: "rare", Money: 42, PingMs: 17,
	}})

	avatar, _ := tracker.Lookup("peer")
	if avatar.Name != "Maris" || !avatar.HasRod || avatar.HeldSprite != "salmon" || avatar.PingMs != 17 {
		t.Fatalf("display fields not updated: %+v", avatar)
	}
}
