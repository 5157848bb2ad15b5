package server

import (
	"testing"

	"driftline/server/internal/net/proto"
)

func TestWeatherStartsClear(t *testing.T) {
	w := newWeatherState(1)
	mode, drops := w.Snapshot()
	if mode != proto.WeatherClear {
		t.Fatalf("initial mode = %q, want clear", mode)
	}
	if len(drops) != 0 {
		t.Fatalf("clear weather should have no drops, got %d", len(drops))
	}
}

func TestWeatherToggleAlternates(t *testing.T) {
	w := newWeatherState(1)

	mode, drops := w.Toggle()
	if mode != proto.WeatherRain {
		t.Fatalf("first toggle = %q, want rain", mode)
	}
	if len(drops) != weatherDropCount {
		t.Fatalf("rain should generate %d drops, got %d", weatherDropCount, len(drops))
	}

	mode, drops = w.Toggle()
	if mode != proto.WeatherClear {
		t.Fatalf("second toggle = %q, want clear", mode)
	}
	if len(drops) != 0 {
		t.Fatalf("clear should discard drops, got %d", len(drops))
	}
}

func TestWeatherDropRanges(t *testing.T) {
	w := newWeatherState(42)
	_, drops := w.Toggle()

	for i, d := range drops {
		if d.X < 0 || d.X >= 1 || d.Y < 0 || d.Y >= 1 {
			t.Fatalf("drop %d position out of range: (%v, %v)", i, d.X, d.Y)
		}
		if d.Speed < 0.5 || d.Speed >= 1.5 {
			t.Fatalf("drop %d speed out of range: %v", i, d.Speed)
		}
		if d.Length < 8 || d.Length >= 24 {
			t.Fatalf("drop %d length out of range: %v", i, d.Length)
		}
		if d.Opacity < 0.25 || d.Opacity >= 0.85 {
			t.Fatalf("drop %d opacity out of range: %v", i, d.Opacity)
		}
	}
}

func TestWeatherSetUnknownFallsBackToClear(t *testing.T) {
	w := newWeatherState(1)
	w.Set(proto.WeatherRain)

	mode, drops := w.Set("hurricane")
	if mode != proto.WeatherClear {
		t.Fatalf("unknown mode should fall back to clear, got %q", mode)
	}
	if len(drops) != 0 {
		t.Fatalf("fallback to clear should discard drops, got %d", len(drops))
	}
}

func TestWeatherSnapshotReturnsCopies(t *testing.T) {
	w := newWeatherState(1)
	w.Set(proto.WeatherRain)

	_, drops := w.Snapshot()
	drops[0].X = -99

	_, again := w.Snapshot()
	if again[0].X == -99 {
		t.Fatalf("snapshot must not alias internal state")
	}
}

func TestWeatherRegeneratesDropsPerRain(t *testing.T) {
	w := newWeatherState(7)
	_, first := w.Toggle()
	w.Toggle()
	_, second := w.Toggle()

	same := len(first) == len(second)
	if same {
		for i := range first {
			if first[i] != second[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatalf("each rain spell should generate a fresh particle field")
	}
}
