//go:build !windows
// +build !windows

package comm

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/term"
)

const defaultBackend = BackendTerm

// Term is a Transport over a raw-mode POSIX terminal device.  The kernel
// keeps the receive buffer, so no goroutine is needed.
type Term struct {
	t       *term.Term
	timeout time.Duration
}

func openTerm(c Config) (Transport, error) {
	t, err := term.Open(c.Addr, term.Speed(c.Baud), term.RawMode)
	if err != nil {
		return nil, err
	}
	tt := &Term{t: t}
	if err := tt.SetReadTimeout(c.Timeout); err != nil {
		t.Close()
		return nil, err
	}
	return tt, nil
}

// Write sends b to the device
func (t *Term) Write(b []byte) (int, error) {
	if t.t == nil {
		return 0, ErrNotConnected
	}
	n, err := t.t.Write(b)
	if err != nil {
		return n, errors.Wrap(err, "comm: write")
	}
	return n, nil
}

// BytesAvailable asks the kernel how many bytes are waiting
func (t *Term) BytesAvailable() (int, error) {
	if t.t == nil {
		return 0, ErrNotConnected
	}
	n, err := t.t.Available()
	if err != nil {
		return 0, errors.Wrap(err, "comm: available")
	}
	return n, nil
}

// ReadExact reads until n bytes have arrived or a read times out
func (t *Term) ReadExact(n int) ([]byte, error) {
	if t.t == nil {
		return nil, ErrNotConnected
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		got, err := t.t.Read(buf[:n-len(out)])
		out = append(out, buf[:got]...)
		if err == io.EOF {
			break // VTIME expired with nothing received
		}
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return out, errors.Wrap(err, "comm: read")
		}
		if got == 0 {
			break // VTIME expired
		}
	}
	return out, nil
}

// ResetInputBuffer flushes the kernel buffers
func (t *Term) ResetInputBuffer() error {
	if t.t == nil {
		return ErrNotConnected
	}
	return t.t.Flush()
}

// SetReadTimeout sets VTIME on the device
func (t *Term) SetReadTimeout(d time.Duration) error {
	if t.t == nil {
		return ErrNotConnected
	}
	t.timeout = d
	return t.t.SetReadTimeout(d)
}

// Close releases the device
func (t *Term) Close() error {
	if t.t == nil {
		return nil
	}
	err := t.t.Close()
	t.t = nil
	return err
}
