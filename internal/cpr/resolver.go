package cpr

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sentinel1090/internal/geo"
	"sentinel1090/internal/modes"
)

// Pairing failure taxonomy. Both mean the position was dropped; neither is
// retried with stale data.
var (
	// ErrZoneMismatch marks an even/odd pair whose reports imply different
	// latitude zone counts: internally inconsistent encoding.
	ErrZoneMismatch = errors.New("cpr zone mismatch")
	// ErrImplausible marks a local decode landing outside the plausibility
	// radius of its reference position.
	ErrImplausible = errors.New("position outside plausibility radius")
)

// Method records how a position was resolved.
type Method uint8

const (
	MethodGlobal Method = iota // complementary even/odd pair
	MethodLocal                // single report against a trusted reference
)

func (m Method) String() string {
	if m == MethodLocal {
		return "local"
	}
	return "global"
}

// FixedPosition is an absolute position resolved from CPR reports.
// Lat is in [-90,90], Lon in [-180,180).
type FixedPosition struct {
	ICAO           uint32    `json:"icao"`
	Receiver       string    `json:"receiver"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	Altitude       int32     `json:"altitude,omitempty"` // feet
	HasAltitude    bool      `json:"has_altitude"`
	Method         Method    `json:"-"`
	MethodName     string    `json:"method"`
	HighConfidence bool      `json:"high_confidence"`
	Timestamp      time.Time `json:"timestamp"`
}

// Config carries the resolver's policy tunables. The pairing window and
// safety factor are deployment policy, not protocol constants.
type Config struct {
	PairingWindow time.Duration // max even/odd age difference for global decode
	MaxRefAge     time.Duration // max reference age for local decode
	MaxSpeedKts   float64       // fastest aircraft the plausibility radius allows
	SafetyFactor  float64       // slack multiplier on the plausibility radius
}

// DefaultConfig returns the tunables the research grid runs with.
func DefaultConfig() Config {
	return Config{
		PairingWindow: 10 * time.Second,
		MaxRefAge:     3 * time.Minute,
		MaxSpeedKts:   600,
		SafetyFactor:  1.5,
	}
}

type cprFrame struct {
	latCPR, lonCPR uint32
	altitude       int32
	hasAltitude    bool
	ts             time.Time
}

type pairState struct {
	even, odd *cprFrame
	lastFix   *FixedPosition
}

type stateKey struct {
	icao     uint32
	receiver string
}

// Resolver buffers single-parity position reports per (aircraft, receiver)
// and emits FixedPositions when a resolvable pair, or a trusted reference,
// exists. Reports must arrive in timestamp order per aircraft per receiver;
// the per-receiver ingest pipelines guarantee that.
type Resolver struct {
	logger *logrus.Logger
	cfg    Config

	mu     sync.Mutex
	states map[stateKey]*pairState
}

// NewResolver creates a resolver with the given policy tunables.
func NewResolver(cfg Config, logger *logrus.Logger) *Resolver {
	if cfg.PairingWindow <= 0 {
		cfg.PairingWindow = DefaultConfig().PairingWindow
	}
	if cfg.MaxRefAge <= 0 {
		cfg.MaxRefAge = DefaultConfig().MaxRefAge
	}
	if cfg.MaxSpeedKts <= 0 {
		cfg.MaxSpeedKts = DefaultConfig().MaxSpeedKts
	}
	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = DefaultConfig().SafetyFactor
	}
	return &Resolver{
		logger: logger,
		cfg:    cfg,
		states: make(map[stateKey]*pairState),
	}
}

// Resolve consumes one airborne position report. It returns a FixedPosition
// when a resolvable pair or usable reference exists, (nil, nil) when the
// report was buffered pending its complementary parity, or an error when
// the position had to be dropped.
func (r *Resolver) Resolve(msg *modes.Message, pos modes.AirbornePosition) (*FixedPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stateKey{icao: msg.ICAO, receiver: msg.Receiver}
	st, ok := r.states[key]
	if !ok {
		st = &pairState{}
		r.states[key] = st
	}

	frame := &cprFrame{
		latCPR:      pos.LatCPR,
		lonCPR:      pos.LonCPR,
		altitude:    pos.Altitude,
		hasAltitude: pos.HasAltitude,
		ts:          msg.Timestamp,
	}
	if pos.OddParity {
		st.odd = frame
	} else {
		st.even = frame
	}

	if st.even != nil && st.odd != nil {
		delta := st.even.ts.Sub(st.odd.ts)
		if delta < 0 {
			delta = -delta
		}
		if delta <= r.cfg.PairingWindow {
			return r.resolveGlobal(key, st, pos.OddParity)
		}
	}

	if st.lastFix != nil && msg.Timestamp.Sub(st.lastFix.Timestamp) <= r.cfg.MaxRefAge {
		return r.resolveLocal(key, st, frame, pos.OddParity)
	}

	// buffered pending the complementary parity
	return nil, nil
}

func (r *Resolver) resolveGlobal(key stateKey, st *pairState, newestOdd bool) (*FixedPosition, error) {
	lat, lon, ok := decodeGlobal(st.even.latCPR, st.even.lonCPR, st.odd.latCPR, st.odd.lonCPR, newestOdd)
	if !ok {
		// Inconsistent pair: discard both halves so neither stale report
		// seeds a later decode.
		st.even, st.odd = nil, nil
		return nil, fmt.Errorf("aircraft %06X: %w", key.icao, ErrZoneMismatch)
	}

	newest := st.even
	if newestOdd {
		newest = st.odd
	}

	fix := &FixedPosition{
		ICAO:           key.icao,
		Receiver:       key.receiver,
		Lat:            lat,
		Lon:            lon,
		Altitude:       newest.altitude,
		HasAltitude:    newest.hasAltitude,
		Method:         MethodGlobal,
		MethodName:     MethodGlobal.String(),
		HighConfidence: true,
		Timestamp:      newest.ts,
	}
	st.lastFix = fix
	return fix, nil
}

func (r *Resolver) resolveLocal(key stateKey, st *pairState, frame *cprFrame, odd bool) (*FixedPosition, error) {
	ref := st.lastFix
	lat, lon, ok := decodeLocal(frame.latCPR, frame.lonCPR, odd, ref.Lat, ref.Lon)
	if !ok {
		return nil, fmt.Errorf("aircraft %06X: %w", key.icao, ErrImplausible)
	}

	radius := r.plausibilityRadiusKM(frame.ts.Sub(ref.Timestamp))
	if dist := geo.HaversineKM(ref.Lat, ref.Lon, lat, lon); dist > radius {
		r.logger.WithFields(logrus.Fields{
			"icao":      fmt.Sprintf("%06X", key.icao),
			"receiver":  key.receiver,
			"dist_km":   dist,
			"radius_km": radius,
		}).Debug("Local CPR decode outside plausibility radius")
		return nil, fmt.Errorf("aircraft %06X: %.1f km from reference: %w", key.icao, dist, ErrImplausible)
	}

	fix := &FixedPosition{
		ICAO:           key.icao,
		Receiver:       key.receiver,
		Lat:            lat,
		Lon:            lon,
		Altitude:       frame.altitude,
		HasAltitude:    frame.hasAltitude,
		Method:         MethodLocal,
		MethodName:     MethodLocal.String(),
		HighConfidence: false,
		Timestamp:      frame.ts,
	}
	st.lastFix = fix
	return fix, nil
}

// plausibilityRadiusKM bounds how far an aircraft can credibly have moved
// since the reference fix. The floor absorbs CPR quantization error.
func (r *Resolver) plausibilityRadiusKM(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	kmPerSec := r.cfg.MaxSpeedKts * 1.852 / 3600.0
	radius := kmPerSec * elapsed.Seconds() * r.cfg.SafetyFactor
	if radius < 0.5 {
		radius = 0.5
	}
	return radius
}

// Sweep drops pairing state for aircraft silent longer than maxAge and
// returns the number of entries removed.
func (r *Resolver) Sweep(now time.Time, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, st := range r.states {
		last := time.Time{}
		if st.even != nil && st.even.ts.After(last) {
			last = st.even.ts
		}
		if st.odd != nil && st.odd.ts.After(last) {
			last = st.odd.ts
		}
		if st.lastFix != nil && st.lastFix.Timestamp.After(last) {
			last = st.lastFix.Timestamp
		}
		if now.Sub(last) > maxAge {
			delete(r.states, key)
			removed++
		}
	}
	return removed
}

// Pending returns the number of buffered (aircraft, receiver) states.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
