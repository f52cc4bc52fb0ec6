// Package app wires the receiver pipelines, the consistency engine and the
// record sinks into one process.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"sentinel1090/internal/config"
	"sentinel1090/internal/consistency"
	"sentinel1090/internal/cpr"
	"sentinel1090/internal/metrics"
	"sentinel1090/internal/output"
)

// Application owns every long-lived component and their shutdown order.
type Application struct {
	cfg    *config.Config
	logger *logrus.Logger

	collector *metrics.Collector
	recordLog *output.RecordLog
	publisher *output.Publisher
	sink      output.Sink
	resolver  *cpr.Resolver
	engine    *consistency.Engine
	pipelines []*pipeline

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pipelineWG sync.WaitGroup
}

// NewApplication builds the component graph from configuration. Nothing
// runs until Start.
func NewApplication(cfg *config.Config, logger *logrus.Logger) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, err
	}
	return app, nil
}

func (app *Application) initializeComponents() error {
	var err error

	app.collector = metrics.NewCollector(nil)

	app.recordLog, err = output.NewRecordLog(app.cfg.Output.LogDir, app.cfg.Output.LogRotateUTC, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize record log: %w", err)
	}

	sinks := output.MultiSink{app.recordLog}
	if app.cfg.Output.NATSURL != "" {
		app.publisher, err = output.NewPublisher(app.cfg.Output.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to initialize NATS publisher: %w", err)
		}
		sinks = append(sinks, app.publisher)
	}
	app.sink = sinks

	app.resolver = cpr.NewResolver(cpr.Config{
		PairingWindow: app.cfg.Resolver.PairingWindow,
		MaxRefAge:     app.cfg.Resolver.MaxRefAge,
		MaxSpeedKts:   app.cfg.Resolver.MaxSpeedKts,
		SafetyFactor:  app.cfg.Resolver.SafetyFactor,
	}, app.logger)

	receivers := make([]consistency.Receiver, 0, len(app.cfg.Receivers))
	for _, r := range app.cfg.Receivers {
		receivers = append(receivers, consistency.Receiver{
			ID:       r.ID,
			Lat:      r.Lat,
			Lon:      r.Lon,
			AntennaM: r.AntennaM,
		})
	}

	app.engine = consistency.NewEngine(consistency.Config{
		CorrelationWindow:    app.cfg.Engine.CorrelationWindow,
		SweepInterval:        app.cfg.Engine.SweepInterval,
		SilenceTimeout:       app.cfg.Engine.SilenceTimeout,
		MaxTracks:            app.cfg.Engine.MaxTracks,
		MaxPositions:         app.cfg.Engine.MaxPositions,
		MaxSignals:           app.cfg.Engine.MaxSignals,
		MaxGroundSpeedKts:    app.cfg.Engine.MaxGroundSpeedKts,
		MaxTurnRateDegS:      app.cfg.Engine.MaxTurnRateDegS,
		DecayMaxRatio:        app.cfg.Engine.DecayMaxRatio,
		DecayMinSamples:      app.cfg.Engine.DecayMinSamples,
		AgreementToleranceKM: app.cfg.Engine.AgreementToleranceKM,
		HorizonMarginFactor:  app.cfg.Engine.HorizonMarginFactor,
	}, receivers, app.emitVerdict, app.logger)

	for _, r := range app.cfg.Receivers {
		app.pipelines = append(app.pipelines,
			newPipeline(r, app.resolver, app.engine, app.sink, app.collector, app.logger))
	}
	return nil
}

// emitVerdict is the engine's sink: every verdict goes to the record log
// and, when configured, to NATS.
func (app *Application) emitVerdict(v *consistency.Verdict) {
	app.collector.Verdicts.WithLabelValues(v.Classification.String()).Inc()

	if v.Classification == consistency.ClassAnomalous {
		app.logger.WithFields(logrus.Fields{
			"icao":      v.ICAOHex,
			"receivers": v.Receivers,
			"checks":    failedChecks(v),
		}).Warn("Anomalous aircraft")
	}

	if err := app.sink.WriteVerdict(v); err != nil {
		app.logger.WithError(err).Debug("Failed to write verdict")
	}
}

func failedChecks(v *consistency.Verdict) []string {
	var failed []string
	for _, c := range v.Checks {
		if c.Evaluated && !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return failed
}

// Start runs the application until a shutdown signal arrives or, when every
// receiver is a file replay, until all captures are exhausted.
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":   Version,
		"receivers": len(app.cfg.Receivers),
	}).Info("Starting ghost-aircraft detection grid")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app.run()

	replayOnly := true
	for _, r := range app.cfg.Receivers {
		if r.File == "" {
			replayOnly = false
		}
	}

	if replayOnly {
		done := make(chan struct{})
		go func() {
			app.pipelineWG.Wait()
			close(done)
		}()
		select {
		case <-done:
			app.logger.Info("All capture replays finished")
			// sweep once more so the replays' final window is judged
			app.engine.Sweep(time.Now())
		case <-sigChan:
			app.logger.Info("Received shutdown signal")
		}
	} else {
		<-sigChan
		app.logger.Info("Received shutdown signal")
	}

	app.shutdown()
	return nil
}

func (app *Application) run() {
	if app.cfg.Metrics.Enabled {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.collector.Serve(app.ctx, app.cfg.Metrics.Listen, app.logger)
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.recordLog.Start(app.ctx)
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.engine.Run(app.ctx)
	}()

	for _, p := range app.pipelines {
		p := p
		app.wg.Add(1)
		app.pipelineWG.Add(1)
		go func() {
			defer app.wg.Done()
			defer app.pipelineWG.Done()
			if err := p.run(app.ctx); err != nil {
				app.logger.WithError(err).WithField("receiver", p.recv.ID).Error("Pipeline failed")
			}
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.reportStatistics()
	}()

	app.logger.Info("All components started")
}

// reportStatistics logs pipeline throughput periodically and keeps the
// registry gauges current.
func (app *Application) reportStatistics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var lastSweepsDropped uint64
	lastResyncs := make(map[string]uint64, len(app.pipelines))

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			app.resolver.Sweep(time.Now(), app.cfg.Resolver.MaxRefAge)
			app.collector.ActiveTracks.Set(float64(app.engine.TrackCount()))
			if dropped := app.engine.SweepsDropped(); dropped > lastSweepsDropped {
				app.collector.SweepsDropped.Add(float64(dropped - lastSweepsDropped))
				lastSweepsDropped = dropped
			}

			for _, p := range app.pipelines {
				frames, resyncs, fed := p.sync.Stats()
				if resyncs > lastResyncs[p.recv.ID] {
					app.collector.Resyncs.WithLabelValues(p.recv.ID).
						Add(float64(resyncs - lastResyncs[p.recv.ID]))
					lastResyncs[p.recv.ID] = resyncs
				}
				yield := 0.0
				if fed > 0 {
					yield = float64(frames) / float64(fed) * 1024.0
				}
				app.logger.WithFields(logrus.Fields{
					"receiver":       p.recv.ID,
					"frames":         frames,
					"resyncs":        resyncs,
					"bytes":          fed,
					"frames_per_kib": fmt.Sprintf("%.1f", yield),
					"tracks":         app.engine.TrackCount(),
					"pending_pairs":  app.resolver.Pending(),
				}).Info("Pipeline statistics")
			}
		}
	}
}

// shutdown stops everything in dependency order and flushes the sinks.
func (app *Application) shutdown() {
	app.logger.Info("Shutting down")
	app.cancel()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		app.logger.Info("All goroutines finished")
	case <-time.After(10 * time.Second):
		app.logger.Warn("Shutdown timeout, forcing exit")
	}

	if err := app.sink.Close(); err != nil {
		app.logger.WithError(err).Error("Failed to close record sinks")
	}
	app.logger.Info("Shutdown completed")
}
