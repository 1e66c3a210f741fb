package dacadc

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/cryolab/dacadc/comm"
)

// State is the phase of an acquisition
type State int

const (
	// Idle means no acquisition has been started
	Idle State = iota

	// CommandSent means the ramp command is on the wire
	CommandSent

	// Streaming means samples are being drained
	Streaming

	// Completed means every expected byte arrived
	Completed

	// Failed means the box reported a failure or the transport broke
	Failed

	// Cancelled means the acquisition was stopped early
	Cancelled
)

var stateNames = [...]string{"idle", "command-sent", "streaming", "completed", "failed", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state as its name
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses the names MarshalText produces
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("dacadc: unknown state %q", b)
}

// Status summarizes the current or most recent acquisition
type Status struct {
	State    State     `json:"state"`
	Kind     string    `json:"kind,omitempty"`
	Rows     int       `json:"rows"`
	RowsDone int       `json:"rowsDone"`
	Bytes    int       `json:"bytes"`
	Started  time.Time `json:"started,omitempty"`
}

// session is the run time state of one acquisition.  It belongs to the call
// that created it; the Box holds a pointer only so StopRamp can reach it.
type session struct {
	mu      sync.Mutex
	status  Status
	stopped bool

	// active is the ramping flag polled by the drain loop
	active atomic.Bool

	// carry holds bytes read past the end of a row
	carry []byte

	pace *rate.Limiter
	done chan struct{}
}

func newSession(kind string, rows int, poll time.Duration) *session {
	return &session{
		status: Status{State: Idle, Kind: kind, Rows: rows, Started: time.Now()},
		pace:   rate.NewLimiter(rate.Every(poll), 1),
		done:   make(chan struct{}),
	}
}

func (s *session) setState(st State) {
	s.mu.Lock()
	prev := s.status.State
	s.status.State = st
	s.mu.Unlock()
	glog.V(1).Infof("dacadc: %s acquisition %s -> %s", s.status.Kind, prev, st)
}

func (s *session) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// begin raises the ramping flag unless a stop already arrived
func (s *session) begin() {
	s.mu.Lock()
	if !s.stopped {
		s.active.Store(true)
	}
	s.mu.Unlock()
	s.setState(Streaming)
}

// cancel lowers the ramping flag for good
func (s *session) cancel() {
	s.stop()
}

// stop lowers the ramping flag for good and returns the state the session
// was in.  first is false if it had already been stopped.
func (s *session) stop() (prev State, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first = !s.stopped
	s.stopped = true
	s.active.Store(false)
	return s.status.State, first
}

// send moves the session to CommandSent unless it was stopped first
func (s *session) send() bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.status.State = CommandSent
	s.status.Started = time.Now()
	s.mu.Unlock()
	glog.V(1).Infof("dacadc: %s acquisition %s -> %s", s.status.Kind, Idle, CommandSent)
	return true
}

func (s *session) rowDone(n int) {
	s.mu.Lock()
	s.status.RowsDone++
	s.status.Bytes += n
	s.mu.Unlock()
}

// frameReader drains one row of streamed samples
type frameReader struct {
	t        comm.Transport
	s        *session
	sentinel []byte
	rxTerm   byte
}

// drain reads until total bytes have arrived or the ramping flag is lowered.
// Fragmented deliveries are reassembled.  If the stream begins with the
// failure sentinel the rest of the line is read and returned as an
// *AcquisitionError.  A cancelled drain returns what it has without error.
func (fr frameReader) drain(ctx context.Context, total int) ([]byte, error) {
	buf := make([]byte, 0, total)
	buf = append(buf, fr.s.carry...)
	fr.s.carry = nil
	failing := false
	for fr.s.active.Load() {
		if err := ctx.Err(); err != nil {
			return fr.interrupted(buf, failing, err)
		}
		need := total - len(buf)
		if failing {
			if i := bytes.IndexByte(buf, fr.rxTerm); i >= 0 {
				return nil, fr.failure(buf[:i])
			}
			need = -1
		} else if need <= 0 {
			if !fr.prefixOfSentinel(buf) {
				return fr.keep(buf, total), nil
			}
			// a short payload that reads like the start of a failure message,
			// wait one read timeout for the rest of the sentinel
			more, err := fr.t.ReadExact(len(fr.sentinel) - len(buf))
			if err != nil {
				return buf, errors.Wrap(err, "dacadc: reading stream")
			}
			if len(more) == 0 {
				return fr.keep(buf, total), nil
			}
			buf = append(buf, more...)
			if bytes.HasPrefix(buf, fr.sentinel) {
				failing = true
			}
			continue
		}

		avail, err := fr.t.BytesAvailable()
		if err != nil {
			return buf, errors.Wrap(err, "dacadc: polling transport")
		}
		if avail == 0 {
			if err := fr.s.pace.Wait(ctx); err != nil {
				// the deadline falls before the next poll
				<-ctx.Done()
				return fr.interrupted(buf, failing, ctx.Err())
			}
			continue
		}
		if need > 0 && avail > need {
			avail = need
		}
		chunk, err := fr.t.ReadExact(avail)
		if err != nil {
			return buf, errors.Wrap(err, "dacadc: reading stream")
		}
		buf = append(buf, chunk...)
		glog.V(2).Infof("dacadc: drained %d bytes, %d of %d", len(chunk), len(buf), total)
		if !failing && len(buf) >= len(fr.sentinel) && bytes.HasPrefix(buf, fr.sentinel) {
			failing = true
			glog.V(1).Info("dacadc: failure sentinel in stream")
		}
	}
	if failing {
		return nil, fr.failure(buf)
	}
	return buf, nil
}

// interrupted ends a drain cut off by its context.  A failure message
// already under way still wins.
func (fr frameReader) interrupted(buf []byte, failing bool, err error) ([]byte, error) {
	if failing {
		return nil, fr.failure(buf)
	}
	return buf, err
}

// keep returns the first total bytes of buf and holds any excess, read
// while ruling out a failure message, for the next row
func (fr frameReader) keep(buf []byte, total int) []byte {
	if len(buf) > total {
		fr.s.carry = append([]byte(nil), buf[total:]...)
		return buf[:total]
	}
	return buf
}

// prefixOfSentinel reports whether buf is a proper prefix of the sentinel
func (fr frameReader) prefixOfSentinel(buf []byte) bool {
	return len(buf) < len(fr.sentinel) && bytes.HasPrefix(fr.sentinel, buf)
}

func (fr frameReader) failure(msg []byte) error {
	return &AcquisitionError{Message: strings.TrimSpace(string(msg))}
}
