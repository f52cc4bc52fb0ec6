// Package consistency cross-validates resolved aircraft reports against
// physical law and against each other, flagging candidate ghost aircraft.
package consistency

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"

	"sentinel1090/internal/cpr"
	"sentinel1090/internal/geo"
	"sentinel1090/internal/modes"
)

// Receiver is the known identity and geometry of one grid node.
type Receiver struct {
	ID       string
	Lat      float64
	Lon      float64
	AntennaM float64 // antenna height above ground, meters
}

// Config carries the engine's policy tunables.
type Config struct {
	CorrelationWindow time.Duration // window a verdict looks back over
	SweepInterval     time.Duration // verdict emission cadence
	SilenceTimeout    time.Duration // track eviction after silence
	MaxTracks         int           // registry pressure limit
	MaxPositions      int           // positions retained per track
	MaxSignals        int           // signal samples retained per track

	MaxGroundSpeedKts    float64 // kinematic limit on implied speed
	MaxTurnRateDegS      float64 // kinematic limit on implied turn rate
	DecayMaxRatio        float64 // observed/predicted signal ratio that flags
	DecayMinSamples      int     // samples before the decay fit is trusted
	AgreementToleranceKM float64 // cross-receiver position tolerance
	HorizonMarginFactor  float64 // fraction of radio horizon counted as clear LOS
}

// DefaultConfig returns the grid's default policy.
func DefaultConfig() Config {
	return Config{
		CorrelationWindow:    30 * time.Second,
		SweepInterval:        5 * time.Second,
		SilenceTimeout:       60 * time.Second,
		MaxTracks:            10000,
		MaxPositions:         16,
		MaxSignals:           32,
		MaxGroundSpeedKts:    650,
		MaxTurnRateDegS:      20,
		DecayMaxRatio:        5.0,
		DecayMinSamples:      20,
		AgreementToleranceKM: 5.0,
		HorizonMarginFactor:  0.8,
	}
}

// Engine owns the per-(aircraft, receiver) track registry and runs the
// correlation sweeps. The registry is a sharded concurrent map with a mutex
// per track: one writer per aircraft entry, no blocking across aircraft.
type Engine struct {
	logger    *logrus.Logger
	cfg       Config
	receivers map[string]Receiver

	tracks cmap.ConcurrentMap[string, *Track]
	decay  map[string]*decayModel

	sink func(*Verdict)

	sweepBusy     atomic.Bool
	sweepsDropped atomic.Uint64
	evicted       atomic.Uint64
}

// NewEngine builds an engine for the given receiver grid. sink receives
// every emitted verdict; it must not block for long.
func NewEngine(cfg Config, receivers []Receiver, sink func(*Verdict), logger *logrus.Logger) *Engine {
	def := DefaultConfig()
	if cfg.CorrelationWindow <= 0 {
		cfg.CorrelationWindow = def.CorrelationWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.MaxTracks <= 0 {
		cfg.MaxTracks = def.MaxTracks
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = def.MaxPositions
	}
	if cfg.MaxSignals <= 0 {
		cfg.MaxSignals = def.MaxSignals
	}
	if cfg.MaxGroundSpeedKts <= 0 {
		cfg.MaxGroundSpeedKts = def.MaxGroundSpeedKts
	}
	if cfg.MaxTurnRateDegS <= 0 {
		cfg.MaxTurnRateDegS = def.MaxTurnRateDegS
	}
	if cfg.DecayMaxRatio <= 0 {
		cfg.DecayMaxRatio = def.DecayMaxRatio
	}
	if cfg.DecayMinSamples <= 0 {
		cfg.DecayMinSamples = def.DecayMinSamples
	}
	if cfg.AgreementToleranceKM <= 0 {
		cfg.AgreementToleranceKM = def.AgreementToleranceKM
	}
	if cfg.HorizonMarginFactor <= 0 {
		cfg.HorizonMarginFactor = def.HorizonMarginFactor
	}

	e := &Engine{
		logger:    logger,
		cfg:       cfg,
		receivers: make(map[string]Receiver, len(receivers)),
		tracks:    cmap.New[*Track](),
		decay:     make(map[string]*decayModel, len(receivers)),
		sink:      sink,
	}
	for _, r := range receivers {
		e.receivers[r.ID] = r
		e.decay[r.ID] = newDecayModel(cfg.DecayMinSamples)
	}
	return e
}

// AddPosition feeds one resolved position into the track registry and the
// receiver's signal-decay model.
func (e *Engine) AddPosition(fix *cpr.FixedPosition, signal float64) {
	track := e.getOrCreate(fix.ICAO, fix.Receiver)
	track.addPosition(PositionSample{
		Lat:            fix.Lat,
		Lon:            fix.Lon,
		Altitude:       fix.Altitude,
		HasAltitude:    fix.HasAltitude,
		HighConfidence: fix.HighConfidence,
		Signal:         signal,
		Timestamp:      fix.Timestamp,
	}, e.cfg.MaxPositions)

	if recv, ok := e.receivers[fix.Receiver]; ok {
		dist := geo.HaversineKM(recv.Lat, recv.Lon, fix.Lat, fix.Lon)
		e.decay[fix.Receiver].add(dist, signal)
	}
}

// AddVelocity feeds one velocity report into the track registry.
func (e *Engine) AddVelocity(msg *modes.Message, vel modes.AirborneVelocity) {
	track := e.getOrCreate(msg.ICAO, msg.Receiver)
	track.addVelocity(VelocitySample{
		GroundSpeed:  vel.GroundSpeed,
		Track:        vel.Track,
		VerticalRate: vel.VerticalRate,
		Timestamp:    msg.Timestamp,
	})
}

// Observe records activity for messages that carry no position, keeping the
// track alive and the signal history populated.
func (e *Engine) Observe(msg *modes.Message) {
	track := e.getOrCreate(msg.ICAO, msg.Receiver)
	track.addSignal(SignalSample{Signal: msg.Signal, Timestamp: msg.Timestamp}, e.cfg.MaxSignals)
}

func (e *Engine) getOrCreate(icao uint32, receiver string) *Track {
	key := trackKey(icao, receiver)
	if track, ok := e.tracks.Get(key); ok {
		return track
	}

	track := newTrack(icao, receiver)
	if !e.tracks.SetIfAbsent(key, track) {
		existing, _ := e.tracks.Get(key)
		if existing != nil {
			return existing
		}
	}

	if e.tracks.Count() > e.cfg.MaxTracks {
		e.evictOverflow()
	}
	return track
}

// evictOverflow removes the oldest-silent tracks when the registry exceeds
// its limit. New aircraft are never refused.
func (e *Engine) evictOverflow() {
	type aged struct {
		key  string
		seen time.Time
	}
	var all []aged
	for tuple := range e.tracks.IterBuffered() {
		seen := tuple.Val.lastSeenTime()
		if seen.IsZero() {
			// mid-insertion, no sample recorded yet
			continue
		}
		all = append(all, aged{key: tuple.Key, seen: seen})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seen.Before(all[j].seen) })

	excess := e.tracks.Count() - e.cfg.MaxTracks
	for i := 0; i < excess && i < len(all); i++ {
		e.tracks.Remove(all[i].key)
		e.evicted.Add(1)
	}
	if excess > 0 {
		e.logger.WithField("evicted", excess).Warn("Track registry over limit, evicted oldest-silent tracks")
	}
}

// TrackCount returns the current registry size.
func (e *Engine) TrackCount() int {
	return e.tracks.Count()
}

// SweepsDropped returns the number of sweep cycles skipped under load.
func (e *Engine) SweepsDropped() uint64 {
	return e.sweepsDropped.Load()
}

// Run executes correlation sweeps on the configured interval until the
// context is canceled, then performs one final flush sweep so in-flight
// state is not lost on shutdown.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Consistency engine stopping, flushing final sweep")
			e.Sweep(time.Now())
			return
		case <-ticker.C:
			// Sweeps run off the ticker goroutine; a tick that fires while
			// one is still in flight is dropped. Dropping a sweep cycle
			// under back-pressure is acceptable, dropping messages never is.
			// The message path does not pass through here.
			if !e.sweepBusy.CompareAndSwap(false, true) {
				e.sweepsDropped.Add(1)
				continue
			}
			go func() {
				defer e.sweepBusy.Store(false)
				e.Sweep(time.Now())
			}()
		}
	}
}

// Sweep evicts silent tracks and emits one verdict per live aircraft.
func (e *Engine) Sweep(now time.Time) {
	// eviction first, oldest-silent tracks go before anything else
	for tuple := range e.tracks.IterBuffered() {
		if now.Sub(tuple.Val.lastSeenTime()) > e.cfg.SilenceTimeout {
			e.tracks.Remove(tuple.Key)
			e.evicted.Add(1)
		}
	}

	windowStart := now.Add(-e.cfg.CorrelationWindow)

	byAircraft := make(map[uint32][]trackSnapshot)
	for tuple := range e.tracks.IterBuffered() {
		snap := tuple.Val.snapshot(windowStart)
		byAircraft[snap.icao] = append(byAircraft[snap.icao], snap)
	}

	for icao, snaps := range byAircraft {
		verdict := e.evaluate(icao, snaps, windowStart, now)
		if e.sink != nil {
			e.sink(verdict)
		}
	}
}

// evaluate runs all checks for one aircraft over the correlation window and
// folds them into a verdict.
func (e *Engine) evaluate(icao uint32, snaps []trackSnapshot, windowStart, now time.Time) *Verdict {
	var receivers []string
	totalPositions := 0
	for _, s := range snaps {
		receivers = append(receivers, s.receiver)
		totalPositions += len(s.positions)
	}
	sort.Strings(receivers)

	checks := []CheckResult{
		e.checkSignalDecay(snaps),
		e.checkKinematics(snaps),
		e.checkAgreement(snaps),
		e.checkAbsence(snaps, windowStart),
	}

	verdict := &Verdict{
		ID:             uuid.NewString(),
		ICAO:           icao,
		ICAOHex:        fmt.Sprintf("%06X", icao),
		Receivers:      receivers,
		Checks:         checks,
		WindowStart:    windowStart,
		WindowEnd:      now,
		GeneratedAt:    now,
		Classification: ClassInsufficientData,
	}

	anyEvaluated := false
	anyFailed := false
	for _, c := range checks {
		if c.Evaluated {
			anyEvaluated = true
			if !c.Passed {
				anyFailed = true
			}
		}
	}

	verdict.PlausibilityScore = scoreChecks(checks[0], checks[1])
	verdict.AgreementScore = scoreChecks(checks[2], checks[3])

	switch {
	case anyFailed:
		verdict.Classification = ClassAnomalous
	case anyEvaluated && totalPositions > 0:
		verdict.Classification = ClassNominal
	default:
		verdict.Classification = ClassInsufficientData
	}

	return verdict
}

// scoreChecks maps a group of checks to [0,1]: the fraction of evaluated
// checks that passed, 1 when nothing was evaluated (the classification
// carries the insufficient-data signal, not the score).
func scoreChecks(checks ...CheckResult) float64 {
	evaluated, passed := 0, 0
	for _, c := range checks {
		if c.Evaluated {
			evaluated++
			if c.Passed {
				passed++
			}
		}
	}
	if evaluated == 0 {
		return 1
	}
	return float64(passed) / float64(evaluated)
}

// checkSignalDecay flags reports whose strength is implausibly high for
// their distance from the receiver. The flag limit widens with the
// receiver's fitted residual spread, so a noisy antenna does not flag its
// own honest traffic.
func (e *Engine) checkSignalDecay(snaps []trackSnapshot) CheckResult {
	result := CheckResult{Name: CheckSignalDecay, Passed: true}

	worst := 0.0
	for _, snap := range snaps {
		recv, ok := e.receivers[snap.receiver]
		if !ok {
			continue
		}
		model := e.decay[snap.receiver]

		limit := e.cfg.DecayMaxRatio
		if spread, fitted := model.band(); fitted {
			// two residual standard deviations of slack, in linear units
			limit *= math.Pow(10, 2*spread)
		}

		for _, p := range snap.positions {
			dist := geo.HaversineKM(recv.Lat, recv.Lon, p.Lat, p.Lon)
			ratio, ok := model.ratio(dist, p.Signal)
			if !ok {
				continue
			}
			result.Evaluated = true
			if ratio > limit && ratio > worst {
				worst = ratio
			}
		}
	}

	if worst > 0 {
		result.Passed = false
		result.Detail = fmt.Sprintf("signal %.1fx stronger than decay fit allows", worst)
	}
	return result
}

// checkKinematics flags implied speeds or turn rates beyond realistic
// aircraft limits, per receiver so resolver differences cannot mix.
func (e *Engine) checkKinematics(snaps []trackSnapshot) CheckResult {
	result := CheckResult{Name: CheckKinematics, Passed: true}

	for _, snap := range snaps {
		pos := snap.positions
		if len(pos) < 2 {
			continue
		}
		result.Evaluated = true

		var prevBearing float64
		var prevBearingAt time.Time
		hasBearing := false

		for i := 1; i < len(pos); i++ {
			a, b := pos[i-1], pos[i]
			dt := b.Timestamp.Sub(a.Timestamp).Seconds()
			if dt <= 0.1 {
				continue
			}

			distKM := geo.HaversineKM(a.Lat, a.Lon, b.Lat, b.Lon)
			speedKts := distKM / dt * 3600.0 / 1.852
			if speedKts > e.cfg.MaxGroundSpeedKts {
				result.Passed = false
				result.Detail = fmt.Sprintf("implied %0.f kt on %s", speedKts, snap.receiver)
				return result
			}

			if distKM > 0.05 {
				bearing := geo.InitialBearing(a.Lat, a.Lon, b.Lat, b.Lon)
				if hasBearing {
					turnDt := b.Timestamp.Sub(prevBearingAt).Seconds()
					if turnDt > 0.1 {
						rate := geo.HeadingDelta(bearing, prevBearing) / turnDt
						if rate > e.cfg.MaxTurnRateDegS {
							result.Passed = false
							result.Detail = fmt.Sprintf("implied %.1f deg/s turn on %s", rate, snap.receiver)
							return result
						}
					}
				}
				prevBearing = bearing
				prevBearingAt = b.Timestamp
				hasBearing = true
			}
		}
	}

	return result
}

// checkAgreement verifies that independently resolved positions from
// different receivers coincide within tolerance.
func (e *Engine) checkAgreement(snaps []trackSnapshot) CheckResult {
	result := CheckResult{Name: CheckAgreement, Passed: true}

	withPos := snaps[:0:0]
	for _, s := range snaps {
		if len(s.positions) > 0 {
			withPos = append(withPos, s)
		}
	}
	if len(withPos) < 2 {
		return result
	}
	result.Evaluated = true

	for i := 0; i < len(withPos); i++ {
		for j := i + 1; j < len(withPos); j++ {
			dist, dt, ok := closestPair(withPos[i].positions, withPos[j].positions)
			if !ok {
				continue
			}
			// allow for genuine motion between the two observations
			allowance := e.cfg.AgreementToleranceKM +
				e.cfg.MaxGroundSpeedKts*1.852/3600.0*dt
			if dist > allowance {
				result.Passed = false
				result.Detail = fmt.Sprintf("%s and %s disagree by %.1f km (tolerance %.1f km)",
					withPos[i].receiver, withPos[j].receiver, dist, allowance)
				return result
			}
		}
	}

	return result
}

// closestPair finds the closest-in-time position pair across two receivers
// and returns their separation and time skew.
func closestPair(a, b []PositionSample) (distKM, dtSec float64, ok bool) {
	best := time.Duration(1<<63 - 1)
	var pa, pb PositionSample
	for _, x := range a {
		for _, y := range b {
			dt := x.Timestamp.Sub(y.Timestamp)
			if dt < 0 {
				dt = -dt
			}
			if dt < best {
				best = dt
				pa, pb = x, y
				ok = true
			}
		}
	}
	if !ok {
		return 0, 0, false
	}
	return geo.HaversineKM(pa.Lat, pa.Lon, pb.Lat, pb.Lon), best.Seconds(), true
}

// checkAbsence flags an aircraft that is within clear line-of-sight range
// of a receiver which nevertheless never heard it in the window.
func (e *Engine) checkAbsence(snaps []trackSnapshot, windowStart time.Time) CheckResult {
	result := CheckResult{Name: CheckAbsence, Passed: true}
	if len(e.receivers) < 2 {
		return result
	}

	heard := make(map[string]bool, len(snaps))
	var best *PositionSample
	for i, s := range snaps {
		if len(s.positions) > 0 {
			heard[s.receiver] = true
			last := s.positions[len(s.positions)-1]
			if best == nil || last.Timestamp.After(best.Timestamp) {
				best = &snaps[i].positions[len(s.positions)-1]
			}
		}
	}
	if best == nil || !best.HasAltitude {
		return result
	}
	result.Evaluated = true

	for id, recv := range e.receivers {
		if heard[id] {
			continue
		}
		horizon := geo.RadioHorizonKM(recv.AntennaM, float64(best.Altitude))
		dist := geo.HaversineKM(recv.Lat, recv.Lon, best.Lat, best.Lon)
		if dist < horizon*e.cfg.HorizonMarginFactor {
			result.Passed = false
			result.Detail = fmt.Sprintf("within %.0f km of %s (horizon %.0f km) yet unheard",
				dist, id, horizon)
			return result
		}
	}

	return result
}
