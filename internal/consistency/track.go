package consistency

import (
	"fmt"
	"sync"
	"time"
)

// PositionSample is one resolved position as seen by one receiver.
type PositionSample struct {
	Lat            float64
	Lon            float64
	Altitude       int32
	HasAltitude    bool
	HighConfidence bool
	Signal         float64 // percent of receiver full scale
	Timestamp      time.Time
}

// VelocitySample is the most recent velocity report on a track.
type VelocitySample struct {
	GroundSpeed  int // knots
	Track        float64
	VerticalRate int
	Timestamp    time.Time
}

// SignalSample is a raw strength observation, kept even for messages that
// carry no position.
type SignalSample struct {
	Signal    float64
	Timestamp time.Time
}

// Track is the rolling state for one (aircraft, receiver) pair. Tracks never
// reference each other; the registry indexes them by composite key only.
// All fields behind mu; the engine takes the lock per update, so writers on
// different aircraft never contend.
type Track struct {
	mu sync.Mutex

	icao     uint32
	receiver string

	positions []PositionSample // bounded, oldest first
	velocity  *VelocitySample
	signals   []SignalSample // bounded, oldest first
	lastSeen  time.Time
}

func newTrack(icao uint32, receiver string) *Track {
	return &Track{icao: icao, receiver: receiver}
}

// trackKey builds the registry key for an (aircraft, receiver) pair.
func trackKey(icao uint32, receiver string) string {
	return fmt.Sprintf("%06X|%s", icao, receiver)
}

func (t *Track) addPosition(sample PositionSample, maxPositions int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.positions = append(t.positions, sample)
	if len(t.positions) > maxPositions {
		t.positions = t.positions[len(t.positions)-maxPositions:]
	}
	if sample.Timestamp.After(t.lastSeen) {
		t.lastSeen = sample.Timestamp
	}
}

func (t *Track) addVelocity(sample VelocitySample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.velocity = &sample
	if sample.Timestamp.After(t.lastSeen) {
		t.lastSeen = sample.Timestamp
	}
}

func (t *Track) addSignal(sample SignalSample, maxSignals int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.signals = append(t.signals, sample)
	if len(t.signals) > maxSignals {
		t.signals = t.signals[len(t.signals)-maxSignals:]
	}
	if sample.Timestamp.After(t.lastSeen) {
		t.lastSeen = sample.Timestamp
	}
}

// snapshot copies the positions inside the window plus bookkeeping, so the
// correlation pass never holds a track lock while doing geometry.
func (t *Track) snapshot(windowStart time.Time) trackSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := trackSnapshot{
		icao:     t.icao,
		receiver: t.receiver,
		lastSeen: t.lastSeen,
	}
	for _, p := range t.positions {
		if !p.Timestamp.Before(windowStart) {
			snap.positions = append(snap.positions, p)
		}
	}
	if t.velocity != nil && !t.velocity.Timestamp.Before(windowStart) {
		v := *t.velocity
		snap.velocity = &v
	}
	return snap
}

func (t *Track) lastSeenTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

type trackSnapshot struct {
	icao      uint32
	receiver  string
	positions []PositionSample
	velocity  *VelocitySample
	lastSeen  time.Time
}
