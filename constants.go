package server

import "time"

const (
	writeWait = 10 * time.Second

	// Display names are capped and defaulted the same way the browser client
	// renders them.
	maxNameLength = 16
	defaultName   = "Guest"
	defaultAvatar = "reef"

	// Weather toggles autonomously on a fixed cadence; a client-issued
	// weather-set restarts the countdown from that point.
	weatherToggleInterval = 90 * time.Second
	weatherDropCount      = 120
)

// WeatherToggleInterval exposes the weather cadence for diagnostics.
func WeatherToggleInterval() time.Duration { return weatherToggleInterval }
