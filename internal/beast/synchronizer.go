package beast

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"
)

// frame header after the type byte: 6 byte MLAT counter + 1 signal byte
const headerLen = 7

// maxBuffer bounds the lookahead window; a stream that never produces a
// decodable frame within this many bytes is resynchronized hard.
const maxBuffer = 64 * 1024

// Synchronizer recovers candidate frames from an append-only, possibly
// corrupted byte stream. It never blocks waiting for bytes beyond what is
// buffered: Next returns false when the buffer holds no complete candidate.
//
// Error recovery is deliberately conservative: when the decoder rejects a
// candidate, Reject rewinds the search cursor to one byte past the
// candidate's marker instead of skipping the whole frame window. A marker
// byte lost to corruption then costs only the frames it actually damaged.
type Synchronizer struct {
	receiver string
	logger   *logrus.Logger
	clock    func() time.Time

	buf    []byte
	cursor int
	// marker offset of the last candidate handed out, -1 when none
	lastStart int
	eof       bool

	framesOut uint64
	resyncs   uint64
	bytesFed  uint64
}

// NewSynchronizer creates a synchronizer for one receiver stream.
func NewSynchronizer(receiver string, logger *logrus.Logger) *Synchronizer {
	return &Synchronizer{
		receiver:  receiver,
		logger:    logger,
		clock:     time.Now,
		buf:       make([]byte, 0, 4096),
		lastStart: -1,
	}
}

// Feed appends raw bytes from the receiver stream.
func (s *Synchronizer) Feed(data []byte) {
	s.buf = append(s.buf, data...)
	s.bytesFed += uint64(len(data))

	if len(s.buf) > maxBuffer {
		// Pathological stream with no extractable frames. Drop the oldest
		// half; the next marker search restarts from the remainder.
		drop := len(s.buf) / 2
		s.logger.WithFields(logrus.Fields{
			"receiver": s.receiver,
			"dropped":  drop,
		}).Warn("Frame synchronizer buffer overflow, resynchronizing")
		s.discard(drop)
		s.resyncs++
	}
}

// Finish marks the end of the stream. Remaining fully-buffered frames are
// still returned by Next; a trailing partial frame is abandoned instead of
// waited for.
func (s *Synchronizer) Finish() {
	s.eof = true
}

// Next extracts the next candidate frame from the buffer. It returns false
// when the buffered bytes hold no further complete candidate.
func (s *Synchronizer) Next() (*RawFrame, bool) {
	for {
		idx := bytes.IndexByte(s.buf[s.cursor:], Marker)
		if idx < 0 {
			s.cursor = len(s.buf)
			s.compact()
			return nil, false
		}
		start := s.cursor + idx

		if start+2 > len(s.buf) {
			// marker seen, type byte not buffered yet
			s.cursor = start
			if s.eof {
				s.cursor = len(s.buf)
			}
			s.compact()
			return nil, false
		}

		frameType := s.buf[start+1]
		plen := PayloadLength(frameType)
		if plen == 0 {
			// Not a frame start: either garbage or the second half of an
			// escape pair. Re-seek one byte on.
			s.cursor = start + 1
			continue
		}

		content, consumed, state := unescape(s.buf[start+2:], headerLen+plen)
		switch state {
		case unescapeShort:
			if !s.eof {
				s.cursor = start
				s.compact()
				return nil, false
			}
			// stream ended mid-frame: abandon and drain
			s.cursor = start + 1
			continue
		case unescapeBroken:
			// An unescaped marker interrupted the frame body: the candidate
			// was truncated by corruption. Framing errors are recovered
			// locally, never surfaced.
			s.resyncs++
			s.cursor = start + 1
			continue
		}

		mlat := uint64(0)
		for i := 0; i < 6; i++ {
			mlat = (mlat << 8) | uint64(content[i])
		}

		payload := make([]byte, plen)
		copy(payload, content[headerLen:])

		s.lastStart = start
		s.cursor = start + 2 + consumed
		s.framesOut++
		s.compact()

		return &RawFrame{
			Receiver:  s.receiver,
			Type:      frameType,
			MLAT:      mlat,
			Signal:    content[6],
			Payload:   payload,
			Timestamp: s.clock(),
		}, true
	}
}

// Reject reports that the decoder found the last candidate invalid. The
// cursor rewinds to exactly one byte past the candidate's marker so that
// frames hidden behind a corrupted marker are not swallowed.
func (s *Synchronizer) Reject() {
	if s.lastStart < 0 {
		return
	}
	s.cursor = s.lastStart + 1
	s.lastStart = -1
	s.resyncs++
}

// Stats returns frames extracted, resync events and bytes fed so far.
func (s *Synchronizer) Stats() (frames, resyncs, fed uint64) {
	return s.framesOut, s.resyncs, s.bytesFed
}

// compact drops fully-consumed bytes once nothing can rewind into them.
// Bytes before lastStart stay reachable until the decoder accepts or rejects
// the candidate, so compaction only trims up to the candidate's marker.
func (s *Synchronizer) compact() {
	keepFrom := s.cursor
	if s.lastStart >= 0 && s.lastStart < keepFrom {
		keepFrom = s.lastStart
	}
	if keepFrom < 2048 {
		return
	}
	s.discard(keepFrom)
}

func (s *Synchronizer) discard(n int) {
	if n > len(s.buf) {
		n = len(s.buf)
	}
	s.buf = s.buf[:copy(s.buf, s.buf[n:])]
	s.cursor -= n
	if s.cursor < 0 {
		s.cursor = 0
	}
	if s.lastStart >= 0 {
		s.lastStart -= n
		if s.lastStart < 0 {
			s.lastStart = -1
		}
	}
}

type unescapeState int

const (
	unescapeOK     unescapeState = iota
	unescapeShort                // buffer ends before the frame is complete
	unescapeBroken               // unescaped marker inside the frame body
)

// unescape reads need logical bytes starting at raw, undoing the capture
// format's marker doubling. consumed is the number of raw bytes covered.
func unescape(raw []byte, need int) (content []byte, consumed int, state unescapeState) {
	content = make([]byte, 0, need)
	i := 0
	for len(content) < need {
		if i >= len(raw) {
			return nil, 0, unescapeShort
		}
		b := raw[i]
		if b == Marker {
			if i+1 >= len(raw) {
				return nil, 0, unescapeShort
			}
			if raw[i+1] != Marker {
				return nil, 0, unescapeBroken
			}
			content = append(content, Marker)
			i += 2
			continue
		}
		content = append(content, b)
		i++
	}
	return content, i, unescapeOK
}
