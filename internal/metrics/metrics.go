// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector bundles the pipeline metrics. All vectors are labeled by
// receiver so a single degraded feed is visible in isolation.
type Collector struct {
	gatherer prometheus.Gatherer

	BytesIngested   *prometheus.CounterVec
	FramesRecovered *prometheus.CounterVec
	Resyncs         *prometheus.CounterVec

	MessagesDecoded *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec

	PositionsResolved *prometheus.CounterVec
	PositionsDropped  *prometheus.CounterVec

	Verdicts      *prometheus.CounterVec
	ActiveTracks  prometheus.Gauge
	SweepsDropped prometheus.Counter
}

// NewCollector registers the pipeline metrics against the given registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	factory := promauto{reg: reg}

	return &Collector{
		gatherer: gatherer,

		BytesIngested: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_bytes_ingested_total",
			Help: "Raw bytes fed to the frame synchronizer, by receiver.",
		}, []string{"receiver"}),
		FramesRecovered: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_frames_recovered_total",
			Help: "Frames recovered from the byte stream, by receiver.",
		}, []string{"receiver"}),
		Resyncs: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_resyncs_total",
			Help: "Synchronizer re-seek events, by receiver.",
		}, []string{"receiver"}),

		MessagesDecoded: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_messages_decoded_total",
			Help: "Messages passing grammar and integrity checks, by receiver and downlink format.",
		}, []string{"receiver", "df"}),
		DecodeFailures: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_decode_failures_total",
			Help: "Frames rejected by the decoder, by receiver and reason.",
		}, []string{"receiver", "reason"}),

		PositionsResolved: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_positions_resolved_total",
			Help: "Positions resolved from CPR reports, by receiver and method.",
		}, []string{"receiver", "method"}),
		PositionsDropped: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_positions_dropped_total",
			Help: "Position reports dropped by the resolver, by receiver and reason.",
		}, []string{"receiver", "reason"}),

		Verdicts: factory.counterVec(prometheus.CounterOpts{
			Name: "sentinel_verdicts_total",
			Help: "Verdicts emitted by the consistency engine, by classification.",
		}, []string{"classification"}),
		ActiveTracks: factory.gauge(prometheus.GaugeOpts{
			Name: "sentinel_active_tracks",
			Help: "Current (aircraft, receiver) tracks in the registry.",
		}),
		SweepsDropped: factory.counter(prometheus.CounterOpts{
			Name: "sentinel_sweeps_dropped_total",
			Help: "Correlation sweep cycles skipped under load.",
		}),
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve runs the metrics HTTP endpoint until the context is canceled.
func (c *Collector) Serve(ctx context.Context, listen string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("listen", listen).Info("Serving Prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("Metrics endpoint failed")
	}
}

// promauto registers collectors, reusing an existing compatible collector
// when one is already registered.
type promauto struct {
	reg prometheus.Registerer
}

func (f promauto) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := f.reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return vec
}

func (f promauto) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	if err := f.reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}

func (f promauto) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	if err := f.reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing
			}
		}
	}
	return g
}
