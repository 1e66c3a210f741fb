package comm

import (
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const pumpChunk = 4096

// Pump adapts a plain io.ReadWriteCloser into a Transport.  A goroutine
// drains the connection into a buffer so that the number of waiting bytes
// can be known without blocking.
type Pump struct {
	rwc io.ReadWriteCloser

	// tolerateEOF treats io.EOF from the connection as "no data this time",
	// which is how some serial drivers report a read timeout
	tolerateEOF bool

	mu      sync.Mutex
	buf     []byte
	err     error // terminal error from the reader goroutine
	closed  bool
	timeout time.Duration
	notify  chan struct{}
	done    chan struct{}
}

// NewPump starts pumping rwc.  tolerateEOF should be true for serial ports
// whose driver returns io.EOF on a read timeout.
func NewPump(rwc io.ReadWriteCloser, timeout time.Duration, tolerateEOF bool) *Pump {
	p := &Pump{
		rwc:         rwc,
		tolerateEOF: tolerateEOF,
		timeout:     timeout,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pump) run() {
	defer close(p.done)
	chunk := make([]byte, pumpChunk)
	for {
		n, err := p.rwc.Read(chunk)
		p.mu.Lock()
		if n > 0 {
			p.buf = append(p.buf, chunk[:n]...)
		}
		if err == io.EOF && p.tolerateEOF && !p.closed {
			err = nil
		}
		if err != nil {
			if p.closed {
				err = ErrNotConnected
			}
			p.err = err
		}
		p.mu.Unlock()
		if n > 0 || err != nil {
			select {
			case p.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			if err != ErrNotConnected {
				glog.Warningf("comm: pump stopped: %v", err)
			}
			return
		}
	}
}

// Write sends b to the remote
func (p *Pump) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrNotConnected
	}
	n, err := p.rwc.Write(b)
	if err != nil {
		return n, errors.Wrap(err, "comm: write")
	}
	return n, nil
}

// BytesAvailable returns the number of bytes waiting in the buffer.  If the
// buffer is empty and the connection has failed, the failure is returned.
func (p *Pump) BytesAvailable() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 && p.err != nil {
		return 0, p.err
	}
	return len(p.buf), nil
}

// ReadExact waits up to the read timeout for n bytes to be buffered and
// returns up to n of them
func (p *Pump) ReadExact(n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		if len(p.buf) >= n || p.err != nil {
			out := p.take(n)
			err := p.err
			p.mu.Unlock()
			if len(out) == 0 && err != nil {
				return out, err
			}
			return out, nil
		}
		p.mu.Unlock()
		select {
		case <-p.notify:
		case <-p.done:
		case <-timer.C:
			p.mu.Lock()
			out := p.take(n)
			p.mu.Unlock()
			return out, nil
		}
	}
}

// take removes up to n bytes from the head of the buffer.  p.mu must be held.
func (p *Pump) take(n int) []byte {
	if n > len(p.buf) {
		n = len(p.buf)
	}
	out := make([]byte, n)
	copy(out, p.buf[:n])
	p.buf = p.buf[n:]
	return out
}

// ResetInputBuffer discards everything received so far
func (p *Pump) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
	if f, ok := p.rwc.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// SetReadTimeout sets the time ReadExact will wait for data
func (p *Pump) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
	return nil
}

// Close closes the underlying connection and stops the pump
func (p *Pump) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.rwc.Close()
}
