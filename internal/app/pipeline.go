package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"sentinel1090/internal/beast"
	"sentinel1090/internal/config"
	"sentinel1090/internal/consistency"
	"sentinel1090/internal/cpr"
	"sentinel1090/internal/metrics"
	"sentinel1090/internal/modes"
	"sentinel1090/internal/output"
)

const (
	readBufferSize = 4096
	reconnectDelay = 5 * time.Second
	readDeadline   = 2 * time.Second
)

// pipeline processes one receiver's byte stream end to end: frame recovery,
// decoding, position resolution, track feeding and record output. Each
// receiver gets its own synchronizer and decoder; the resolver and engine
// are shared and safe for concurrent use.
type pipeline struct {
	recv     config.ReceiverConfig
	logger   *logrus.Logger
	sync     *beast.Synchronizer
	decoder  *modes.Decoder
	resolver *cpr.Resolver
	engine   *consistency.Engine
	sink     output.Sink
	metrics  *metrics.Collector
}

func newPipeline(recv config.ReceiverConfig, resolver *cpr.Resolver, engine *consistency.Engine,
	sink output.Sink, collector *metrics.Collector, logger *logrus.Logger) *pipeline {
	return &pipeline{
		recv:     recv,
		logger:   logger,
		sync:     beast.NewSynchronizer(recv.ID, logger),
		decoder:  modes.NewDecoder(logger),
		resolver: resolver,
		engine:   engine,
		sink:     sink,
		metrics:  collector,
	}
}

// run ingests the receiver's stream until the context is canceled or, for
// file replay, until the capture is exhausted.
func (p *pipeline) run(ctx context.Context) error {
	if p.recv.File != "" {
		return p.replayFile(ctx)
	}
	return p.streamTCP(ctx)
}

// replayFile feeds a capture file through the pipeline in chunks.
func (p *pipeline) replayFile(ctx context.Context) error {
	f, err := os.Open(p.recv.File)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	p.logger.WithFields(logrus.Fields{
		"receiver": p.recv.ID,
		"file":     p.recv.File,
	}).Info("Replaying capture file")

	buffer := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := f.Read(buffer)
		if n > 0 {
			p.feed(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read capture file: %w", err)
		}
	}

	p.sync.Finish()
	p.drain()

	frames, resyncs, fed := p.sync.Stats()
	p.logger.WithFields(logrus.Fields{
		"receiver": p.recv.ID,
		"frames":   frames,
		"resyncs":  resyncs,
		"bytes":    fed,
	}).Info("Capture replay finished")
	return nil
}

// streamTCP connects to the receiver's Beast feed and reconnects forever
// until the context is canceled.
func (p *pipeline) streamTCP(ctx context.Context) error {
	firstAttempt := true
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if firstAttempt {
			p.logger.WithFields(logrus.Fields{
				"receiver": p.recv.ID,
				"address":  p.recv.Address,
			}).Info("Connecting to receiver feed")
			firstAttempt = false
		}

		dialer := net.Dialer{Timeout: 10 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", p.recv.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.WithError(err).WithField("receiver", p.recv.ID).Debug("Connection failed, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectDelay):
			}
			continue
		}

		p.configureKeepalive(conn)
		p.logger.WithFields(logrus.Fields{
			"receiver": p.recv.ID,
			"address":  p.recv.Address,
		}).Info("Connected to receiver feed")

		p.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		p.logger.WithField("receiver", p.recv.ID).Warn("Receiver feed disconnected, reconnecting")
	}
}

func (p *pipeline) configureKeepalive(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(2 * time.Second)
		_ = tcpConn.SetNoDelay(true)
	}
}

// readLoop pumps one connection's bytes into the synchronizer until the
// connection breaks or the context is canceled.
func (p *pipeline) readLoop(ctx context.Context, conn net.Conn) {
	buffer := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
		n, err := conn.Read(buffer)
		if n > 0 {
			p.feed(buffer[:n])
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
	}
}

// feed pushes raw bytes into the synchronizer and processes every frame it
// can recover.
func (p *pipeline) feed(data []byte) {
	p.sync.Feed(data)
	p.metrics.BytesIngested.WithLabelValues(p.recv.ID).Add(float64(len(data)))
	p.drain()
}

func (p *pipeline) drain() {
	for {
		frame, ok := p.sync.Next()
		if !ok {
			return
		}
		p.metrics.FramesRecovered.WithLabelValues(p.recv.ID).Inc()
		p.handleFrame(frame)
	}
}

// handleFrame decodes one candidate frame and routes the result. A frame
// the decoder rejects for grammar or integrity reasons sends the
// synchronizer back to one byte past the candidate's marker; a field range
// error does not, because the frame boundary itself was sound.
func (p *pipeline) handleFrame(frame *beast.RawFrame) {
	msg, err := p.decoder.Decode(frame)
	if err != nil {
		p.metrics.DecodeFailures.WithLabelValues(p.recv.ID, failureReason(err)).Inc()
		if errors.Is(err, modes.ErrFormatUnrecognized) || errors.Is(err, modes.ErrIntegrityCheck) {
			p.sync.Reject()
		}
		return
	}

	p.metrics.MessagesDecoded.WithLabelValues(p.recv.ID, fmt.Sprintf("%d", msg.DF)).Inc()

	var fix *cpr.FixedPosition
	switch payload := msg.Payload.(type) {
	case modes.AirbornePosition:
		fix = p.resolvePosition(msg, payload)
	case modes.AirborneVelocity:
		p.engine.AddVelocity(msg, payload)
	default:
		p.engine.Observe(msg)
	}

	if err := p.sink.WriteMessage(output.NewMessageRecord(msg, fix)); err != nil {
		p.logger.WithError(err).Debug("Failed to write message record")
	}
}

func (p *pipeline) resolvePosition(msg *modes.Message, pos modes.AirbornePosition) *cpr.FixedPosition {
	fix, err := p.resolver.Resolve(msg, pos)
	if err != nil {
		p.metrics.PositionsDropped.WithLabelValues(p.recv.ID, dropReason(err)).Inc()
		p.engine.Observe(msg)
		return nil
	}
	if fix == nil {
		// buffered pending the complementary parity
		p.engine.Observe(msg)
		return nil
	}

	p.metrics.PositionsResolved.WithLabelValues(p.recv.ID, fix.MethodName).Inc()
	p.engine.AddPosition(fix, msg.Signal)
	return fix
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, modes.ErrFormatUnrecognized):
		return "format"
	case errors.Is(err, modes.ErrIntegrityCheck):
		return "integrity"
	case errors.Is(err, modes.ErrFieldRange):
		return "field_range"
	default:
		return "other"
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, cpr.ErrZoneMismatch):
		return "zone_mismatch"
	case errors.Is(err, cpr.ErrImplausible):
		return "implausible"
	default:
		return "other"
	}
}
