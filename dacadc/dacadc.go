/*Package dacadc controls an AD5791/AD7734 based DAC-ADC box over a serial link.

The box accepts one-line ASCII commands.  Plain commands such as SET or
GET_ADC answer with one line of text.  Buffered ramps answer with a raw,
unframed stream of 4-byte floats, interleaved by ADC channel, whose length
is known only from the request that started it.  A Box owns one transport
and allows one such stream in flight at a time.
*/
package dacadc

import (
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/cryolab/dacadc/comm"
)

const (
	// DefaultStepBudget is the size of the step counter shared by the fast
	// and slow axes of a raster in the stock firmware
	DefaultStepBudget = 65535

	// StopCommand aborts an in-flight buffered ramp
	StopCommand = "STOP"

	// sampleSize is the width of one streamed sample, a float32
	sampleSize = 4
)

// Config describes the box.  These are fixed by the hardware and firmware;
// nothing here is negotiated with the device.
type Config struct {
	// DACChannels is the number of output channels, default 4
	DACChannels int `koanf:"DACChannels" yaml:"DACChannels"`

	// ADCChannels is the number of input channels, default 4
	ADCChannels int `koanf:"ADCChannels" yaml:"ADCChannels"`

	// FullScale is the symmetric output range in volts, default 10
	FullScale float64 `koanf:"FullScale" yaml:"FullScale"`

	// StepBudget bounds the number of fast steps in a raster
	StepBudget int `koanf:"StepBudget" yaml:"StepBudget"`

	// ByteOrder of streamed floats, "little" (default) or "big"
	ByteOrder string `koanf:"ByteOrder" yaml:"ByteOrder"`

	// PollInterval is the pause between polls that find no bytes waiting
	PollInterval time.Duration `koanf:"PollInterval" yaml:"PollInterval"`

	// StopGrace is how long the box is given to flush after STOP
	StopGrace time.Duration `koanf:"StopGrace" yaml:"StopGrace"`

	// TxTerminator ends every command line, default "\r"
	TxTerminator string `koanf:"TxTerminator" yaml:"TxTerminator"`

	// RxTerminator ends every reply line, default "\n"
	RxTerminator string `koanf:"RxTerminator" yaml:"RxTerminator"`

	// FailureSentinel begins a textual error sent in place of a stream
	FailureSentinel string `koanf:"FailureSentinel" yaml:"FailureSentinel"`
}

// DefaultConfig returns the configuration of a stock box
func DefaultConfig() Config {
	return Config{
		DACChannels:     4,
		ADCChannels:     4,
		FullScale:       10,
		StepBudget:      DefaultStepBudget,
		ByteOrder:       "little",
		PollInterval:    time.Millisecond,
		StopGrace:       250 * time.Millisecond,
		TxTerminator:    "\r",
		RxTerminator:    "\n",
		FailureSentinel: "FAILURE",
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DACChannels <= 0 {
		c.DACChannels = d.DACChannels
	}
	if c.ADCChannels <= 0 {
		c.ADCChannels = d.ADCChannels
	}
	if c.FullScale <= 0 {
		c.FullScale = d.FullScale
	}
	if c.StepBudget <= 0 {
		c.StepBudget = d.StepBudget
	}
	if c.ByteOrder == "" {
		c.ByteOrder = d.ByteOrder
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	if c.TxTerminator == "" {
		c.TxTerminator = d.TxTerminator
	}
	if c.RxTerminator == "" {
		c.RxTerminator = d.RxTerminator
	}
	if c.FailureSentinel == "" {
		c.FailureSentinel = d.FailureSentinel
	}
	return c
}

func (c Config) order() binary.ByteOrder {
	if strings.EqualFold(c.ByteOrder, "big") {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (c Config) rxTerm() byte {
	return c.RxTerminator[0]
}

// Box is a DAC-ADC box on one transport
type Box struct {
	t   comm.Transport
	cfg Config

	// mu serializes users of the transport, plain commands queue on it
	mu sync.Mutex

	// wmu serializes writes so STOP can be sent while a ramp holds mu
	wmu sync.Mutex

	// smu guards session and last
	smu     sync.Mutex
	session *session
	last    Status
}

// New returns a Box using an already open transport
func New(t comm.Transport, cfg Config) *Box {
	return &Box{t: t, cfg: cfg.withDefaults(), last: Status{State: Idle}}
}

// Open dials the transport described by c and discards anything the box
// sent before we were listening
func Open(c comm.Config, cfg Config) (*Box, error) {
	t, err := comm.Dial(c)
	if err != nil {
		return nil, err
	}
	b := New(t, cfg)
	if err := t.ResetInputBuffer(); err != nil {
		glog.Warningf("dacadc: clearing input on open: %v", err)
	}
	glog.Infof("dacadc: opened %s", c.Addr)
	return b, nil
}

// Config returns the configuration in use, with defaults applied
func (b *Box) Config() Config { return b.cfg }

// Close stops any acquisition and closes the transport
func (b *Box) Close() error {
	b.StopRamp()
	return b.t.Close()
}

// writeLine writes one terminated command line
func (b *Box) writeLine(cmd string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if err := comm.WriteLine(b.t, cmd, b.cfg.TxTerminator); err != nil {
		return errors.Wrapf(err, "dacadc: writing %s", verb(cmd))
	}
	return nil
}

// query writes cmd and reads one reply line
func (b *Box) query(cmd string) (string, error) {
	lines, err := b.queryLines(cmd, 1)
	if len(lines) == 0 {
		return "", err
	}
	return lines[0], err
}

// queryLines writes cmd and reads n reply lines
func (b *Box) queryLines(cmd string, n int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeLine(cmd); err != nil {
		return nil, err
	}
	out, err := b.readLinesStretched(n, 0)
	if err != nil {
		return out, errors.Wrapf(err, "dacadc: reading reply to %s", verb(cmd))
	}
	glog.V(2).Infof("dacadc: %s -> %q", verb(cmd), out)
	return out, nil
}

// readLinesStretched reads n lines, tolerating read timeouts until extra
// has elapsed.  b.mu must be held.
func (b *Box) readLinesStretched(n int, extra time.Duration) ([]string, error) {
	deadline := time.Now().Add(extra)
	out := make([]string, 0, n)
	var partial []byte
	for len(out) < n {
		line, err := comm.ReadLine(b.t, b.cfg.rxTerm())
		partial = append(partial, line...)
		if err == comm.ErrTimeout && time.Now().Before(deadline) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, string(partial))
		partial = nil
	}
	return out, nil
}

// verb is the first field of a command line
func verb(cmd string) string {
	if i := strings.IndexByte(cmd, ','); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

// parseFloatReply parses a reply like "1.234567" or "1.234567V"
func parseFloatReply(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "V")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "dacadc: unexpected reply %q", s)
	}
	return f, nil
}
