/*Package comm provides the byte transport used to talk to lab hardware over
a serial line or a serial-over-ethernet port server.

Most usages of this package will boil down to:
	1.  build a Config describing the port (address, backend, baud, timeout)
	2.  Dial it, which retries with an exponential backoff
	3.  send ASCII command lines with Query, or drive a binary stream with
		BytesAvailable / ReadExact for instruments that stream samples

A minimal example is provided below for a box that responds to "*IDN?" with
a single line terminated by a newline:

	t, err := comm.Dial(comm.Config{Addr: "/dev/ttyACM0", Serial: true, Baud: 115200})
	if err != nil {
		return err
	}
	defer t.Close()
	id, err := comm.Query(t, "*IDN?", "\r", '\n')
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrNotConnected is generated when the transport has been closed and a
	// read or write is attempted.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTimeout is generated when a line read does not see its terminator
	// before the read timeout elapses.
	ErrTimeout = errors.New("timeout waiting for response from remote")

	// ErrUnknownBackend is generated when Config.Backend is not understood
	ErrUnknownBackend = errors.New("unknown transport backend")
)

// Transport is a byte oriented channel to an instrument.  It is the only
// view of the wire the rest of the repository has.
type Transport interface {
	io.Writer
	io.Closer

	// BytesAvailable returns the number of received bytes that can be read
	// without waiting
	BytesAvailable() (int, error)

	// ReadExact waits up to the read timeout for n bytes.  It may return
	// fewer; the caller must poll again for the remainder.  An error is only
	// returned for a failure of the underlying channel.
	ReadExact(n int) ([]byte, error)

	// ResetInputBuffer discards all received but unread bytes
	ResetInputBuffer() error

	// SetReadTimeout configures the maximum silence a read will wait for
	SetReadTimeout(time.Duration) error
}

const (
	// BackendTerm uses github.com/pkg/term, POSIX only
	BackendTerm = "term"

	// BackendTarm uses github.com/tarm/serial behind a Pump
	BackendTarm = "tarm"

	// DefaultBaud is the baud rate used when Config.Baud is zero
	DefaultBaud = 115200

	// DefaultTimeout is the read timeout used when Config.Timeout is zero
	DefaultTimeout = 5 * time.Second
)

// Config describes how to reach a remote device
type Config struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyACM0 for a USB serial device
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Backend selects the serial implementation, "term" or "tarm".
	// Ignored for TCP.  Empty selects the platform default.
	Backend string `koanf:"Backend" yaml:"Backend"`

	// Baud is the serial baud rate
	Baud int `koanf:"Baud" yaml:"Baud"`

	// Timeout is the read timeout
	Timeout time.Duration `koanf:"Timeout" yaml:"Timeout"`
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Backend == "" {
		c.Backend = defaultBackend
	}
	return c
}

// Dial opens a transport to the remote described by c.
func Dial(c Config) (Transport, error) {
	c = c.withDefaults()
	var t Transport

	// we use an exponential backoff; USB serial devices that have just
	// been plugged in are not always ready on the first attempt
	wasTimeout := false
	op := func() error {
		var err error
		t, err = open(c)
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || errors.Is(err, ErrUnknownBackend) {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return t, nil
	}
	if wasTimeout {
		return nil, fmt.Errorf("connection timeout to %s: %w", c.Addr, err)
	}
	return nil, err
}

func open(c Config) (Transport, error) {
	if !c.Serial {
		conn, err := TCPSetup(c.Addr, c.Timeout)
		if err != nil {
			return nil, err
		}
		return NewPump(conn, c.Timeout, false), nil
	}
	switch c.Backend {
	case BackendTerm:
		return openTerm(c)
	case BackendTarm:
		return openTarm(c)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
}

// TCPSetup opens a new TCP connection with a timeout on connect.  No
// deadline is left on the connection; reads are bounded by the Pump.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
