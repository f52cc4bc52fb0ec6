// Package output persists the pipeline's products: decoded-message records
// for dataset building and verdict records for the audit trail.
package output

import (
	"fmt"
	"time"

	"sentinel1090/internal/consistency"
	"sentinel1090/internal/cpr"
	"sentinel1090/internal/modes"
)

// MessageRecord is one decoded message as written to the record log. Fields
// absent from the message are omitted rather than zero-filled.
type MessageRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Receiver  string    `json:"receiver"`
	ICAO      string    `json:"icao"`
	DF        uint8     `json:"df"`
	TypeCode  uint8     `json:"tc,omitempty"`
	Kind      string    `json:"kind"`
	Signal    float64   `json:"signal"`
	Raw       string    `json:"raw"`

	Callsign     string   `json:"callsign,omitempty"`
	Squawk       string   `json:"squawk,omitempty"`
	Altitude     *int32   `json:"altitude,omitempty"`
	GroundSpeed  *int     `json:"ground_speed,omitempty"`
	Track        *float64 `json:"track,omitempty"`
	VerticalRate *int     `json:"vertical_rate,omitempty"`

	Position *PositionRecord `json:"position,omitempty"`
}

// PositionRecord is the resolved position attached to a message record.
type PositionRecord struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Method         string  `json:"method"`
	HighConfidence bool    `json:"high_confidence"`
}

// NewMessageRecord flattens a decoded message, and optionally its resolved
// position, into the record-log shape.
func NewMessageRecord(msg *modes.Message, fix *cpr.FixedPosition) *MessageRecord {
	rec := &MessageRecord{
		Timestamp: msg.Timestamp,
		Receiver:  msg.Receiver,
		ICAO:      msg.ICAOHex(),
		DF:        msg.DF,
		TypeCode:  msg.TypeCode,
		Kind:      msg.Kind(),
		Signal:    msg.Signal,
		Raw:       msg.RawHex(),
	}

	switch p := msg.Payload.(type) {
	case modes.Identification:
		rec.Callsign = p.Callsign
	case modes.AirbornePosition:
		if p.HasAltitude {
			alt := p.Altitude
			rec.Altitude = &alt
		}
	case modes.AirborneVelocity:
		gs := p.GroundSpeed
		trk := p.Track
		vr := p.VerticalRate
		rec.GroundSpeed = &gs
		rec.Track = &trk
		rec.VerticalRate = &vr
	case modes.SurveillanceAltitude:
		alt := p.Altitude
		rec.Altitude = &alt
	case modes.SurveillanceIdentity:
		rec.Squawk = fmt.Sprintf("%04d", p.Squawk)
	}

	if fix != nil {
		rec.Position = &PositionRecord{
			Lat:            fix.Lat,
			Lon:            fix.Lon,
			Method:         fix.MethodName,
			HighConfidence: fix.HighConfidence,
		}
	}
	return rec
}

// Sink receives pipeline products. Implementations must be safe for
// concurrent use; the per-receiver pipelines all write to the same sink.
type Sink interface {
	WriteMessage(rec *MessageRecord) error
	WriteVerdict(v *consistency.Verdict) error
	Close() error
}

// MultiSink fans records out to several sinks, returning the first error.
type MultiSink []Sink

func (m MultiSink) WriteMessage(rec *MessageRecord) error {
	for _, s := range m {
		if err := s.WriteMessage(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) WriteVerdict(v *consistency.Verdict) error {
	for _, s := range m {
		if err := s.WriteVerdict(v); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
