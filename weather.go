package server

import (
	"math/rand"
	"sync"

	"driftline/server/internal/net/proto"
)

// weatherState is the process-wide weather: a mode plus, while raining, the
// generated particle field shared verbatim with every client so their visuals
// match.
type weatherState struct {
	mu    sync.Mutex
	mode  string
	drops []proto.WeatherDrop
	rng   *rand.Rand
}

func newWeatherState(seed int64) *weatherState {
	return &weatherState{
		mode: proto.WeatherClear,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Snapshot returns the current mode and a copy of the particle field.
func (w *weatherState) Snapshot() (string, []proto.WeatherDrop) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode, w.cloneDropsLocked()
}

// Toggle flips between clear and rain, regenerating the particle field when
// entering rain.
func (w *weatherState) Toggle() (string, []proto.WeatherDrop) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode == proto.WeatherRain {
		w.setModeLocked(proto.WeatherClear)
	} else {
		w.setModeLocked(proto.WeatherRain)
	}
	return w.mode, w.cloneDropsLocked()
}

// Set forces a specific mode. Unknown values fall back to clear.
func (w *weatherState) Set(mode string) (string, []proto.WeatherDrop) {
	if mode != proto.WeatherRain {
		mode = proto.WeatherClear
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setModeLocked(mode)
	return w.mode, w.cloneDropsLocked()
}

func (w *weatherState) setModeLocked(mode string) {
	w.mode = mode
	if mode == proto.WeatherRain {
		w.drops = w.generateDropsLocked()
	} else {
		w.drops = nil
	}
}

func (w *weatherState) generateDropsLocked() []proto.WeatherDrop {
	drops := make([]proto.WeatherDrop, weatherDropCount)
	for i := range drops {
		drops[i] = proto.WeatherDrop{
			X:       w.rng.Float64(),
			Y:       w.rng.Float64(),
			Speed:   0.5 + w.rng.Float64(),
			Length:  8 + w.rng.Float64()*16,
			Opacity: 0.25 + w.rng.Float64()*0.6,
		}
	}
	return drops
}

func (w *weatherState) cloneDropsLocked() []proto.WeatherDrop {
	if len(w.drops) == 0 {
		return nil
	}
	cloned := make([]proto.WeatherDrop, len(w.drops))
	copy(cloned, w.drops)
	return cloned
}
