package dacadc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cryolab/dacadc/comm"
	"github.com/cryolab/dacadc/util"
)

// Mock is a simulated box.  It implements comm.Transport, answers plain
// commands, and streams buffered ramps as little or big endian float32 per
// its Config.  By default each ADC channel reads back the DAC channel with
// the same number.
type Mock struct {
	// Chunk limits the bytes that become readable per poll, 0 is unlimited
	Chunk int

	// Source, when set, gives the k-th float of row row of every ramp
	Source func(row, k int) float32

	// Fail, when set, is sent in place of every ramp stream
	Fail string

	// Stall, when positive, truncates every ramp stream to that many bytes
	Stall int

	// Residual is the number of bytes still sent after STOP
	Residual int

	cfg   Config
	order binary.ByteOrder

	mu       sync.Mutex
	pending  []byte
	visible  []byte
	line     []byte
	commands []string
	dac      []float64
	osg      []float64
	closed   bool
	timeout  time.Duration
}

// NewMock returns a simulated box with every DAC at zero volts
func NewMock(cfg Config) *Mock {
	cfg = cfg.withDefaults()
	osg := make([]float64, osgLinesPerChan*cfg.DACChannels)
	for i := cfg.DACChannels; i < len(osg); i++ {
		osg[i] = 1
	}
	return &Mock{
		cfg:     cfg,
		order:   cfg.order(),
		dac:     make([]float64, cfg.DACChannels),
		osg:     osg,
		timeout: comm.DefaultTimeout,
	}
}

// Commands returns every command line received, without terminators
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Write accepts command lines
func (m *Mock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, comm.ErrNotConnected
	}
	m.line = append(m.line, b...)
	for {
		i := bytes.IndexAny(m.line, "\r\n")
		if i < 0 {
			break
		}
		cmd := string(m.line[:i])
		m.line = m.line[i+1:]
		if cmd == "" {
			continue
		}
		m.commands = append(m.commands, cmd)
		m.handle(cmd)
	}
	return len(b), nil
}

// BytesAvailable makes up to Chunk more bytes readable and reports how many are
func (m *Mock) BytesAvailable() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, comm.ErrNotConnected
	}
	m.release()
	return len(m.visible), nil
}

// ReadExact returns up to n readable bytes.  It never waits.
func (m *Mock) ReadExact(n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, comm.ErrNotConnected
	}
	if len(m.visible) == 0 {
		m.release()
	}
	if n > len(m.visible) {
		n = len(m.visible)
	}
	out := append([]byte(nil), m.visible[:n]...)
	m.visible = m.visible[n:]
	return out, nil
}

// ResetInputBuffer discards everything sent so far
func (m *Mock) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = nil
	m.pending = nil
	return nil
}

// SetReadTimeout is recorded but the mock never waits
func (m *Mock) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
	return nil
}

// Close disconnects the mock
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// release moves pending bytes to visible.  m.mu must be held.
func (m *Mock) release() {
	n := len(m.pending)
	if m.Chunk > 0 && n > m.Chunk {
		n = m.Chunk
	}
	m.visible = append(m.visible, m.pending[:n]...)
	m.pending = m.pending[n:]
}

func (m *Mock) reply(lines ...string) {
	for _, l := range lines {
		m.pending = append(m.pending, l+"\r\n"...)
	}
}

// handle runs one command.  m.mu must be held.
func (m *Mock) handle(cmd string) {
	f := strings.Split(cmd, ",")
	a := &args{f: f[1:]}
	switch f[0] {
	case StopCommand:
		m.pending = nil
		m.pending = append(m.pending, bytes.Repeat([]byte{0xFF}, m.Residual)...)
		return
	case "BUFFER_RAMP", "BUFFER_RAMP_DIS", "TIME_SERIES_BUFFER_RAMP",
		"2D_TIME_SERIES_BUFFER_RAMP", "2D_BUFFER_RAMP", "BOXCAR_BUFFER_RAMP":
		m.ramp(f[0], a)
		return
	case "SET":
		ch, v := a.int(), a.float()
		if a.err != nil || !m.dacOK(ch) {
			break
		}
		m.dac[ch] = v
		m.reply(fmt.Sprintf("DAC %d UPDATED TO %sV", ch, formatVolts(v)))
		return
	case "GET_ADC":
		ch := a.int()
		if a.err != nil || ch < 0 || ch >= m.cfg.ADCChannels {
			break
		}
		m.reply(formatVolts(m.loopback(ch)))
		return
	case "GET_DAC":
		ch := a.int()
		if a.err != nil || !m.dacOK(ch) {
			break
		}
		m.reply(formatVolts(m.dac[ch]))
		return
	case "RAMP1":
		ch, _, vf := a.int(), a.float(), a.float()
		if a.err != nil || !m.dacOK(ch) {
			break
		}
		m.dac[ch] = vf
		m.reply("RAMP_FINISHED")
		return
	case "RAMP2":
		ch1, ch2 := a.int(), a.int()
		_, _, vf1, vf2 := a.float(), a.float(), a.float(), a.float()
		if a.err != nil || !m.dacOK(ch1) || !m.dacOK(ch2) {
			break
		}
		m.dac[ch1], m.dac[ch2] = vf1, vf2
		m.reply("RAMP_FINISHED")
		return
	case "CONVERT_TIME":
		_, t := a.int(), a.float()
		if a.err != nil {
			break
		}
		m.reply(strconv.FormatFloat(t, 'f', 2, 64))
		return
	case "*IDN?":
		m.reply("DAC-ADC_AD7734-AD5791 (simulated)")
		return
	case "*RDY?":
		m.reply("READY")
		return
	case CalDAC, CalADCZero, CalADCChanZero, CalADCChanFull:
		m.reply("CALIBRATION_FINISHED")
		return
	case "INITIALIZE":
		for i := range m.dac {
			m.dac[i] = 0
		}
		m.reply("INITIALIZATION COMPLETE")
		return
	case "SET_DUNIT":
		switch a.int() {
		case 0:
			m.reply("Delay unit set to microseconds")
			return
		case 1:
			m.reply("Delay unit set to milliseconds")
			return
		}
	case "FULL_SCALE":
		a.float()
		if a.err != nil {
			break
		}
		m.reply("FULL_SCALE_UPDATED")
		return
	case "SET_OSG":
		vals := make([]float64, len(m.osg))
		for i := range vals {
			vals[i] = a.float()
		}
		if a.err != nil {
			break
		}
		m.osg = vals
		m.replyOSG()
		return
	case "INQUIRY_OSG":
		m.replyOSG()
		return
	case "SERIAL_NUMBER":
		m.reply("SIM0001")
		return
	case "SET_DAC_CODE":
		ch, code := a.int(), a.int()
		if a.err != nil || !m.dacOK(ch) {
			break
		}
		m.dac[ch] = float64(code)/float64(maxDACCode)*2*m.cfg.FullScale - m.cfg.FullScale
		m.reply(fmt.Sprintf("DAC %d CODE SET TO %d", ch, code))
		return
	case "NOP":
		m.reply("NOP")
		return
	default:
		m.reply("FAILURE: unknown command " + f[0])
		return
	}
	m.reply("FAILURE: bad arguments to " + f[0])
}

func (m *Mock) replyOSG() {
	lines := make([]string, len(m.osg))
	for i, v := range m.osg {
		lines[i] = formatVolts(v)
	}
	m.reply(lines...)
}

func (m *Mock) dacOK(ch int) bool { return ch >= 0 && ch < len(m.dac) }

// loopback is the voltage ADC channel ch sees with no ramp running.  The
// converter saturates at full scale.
func (m *Mock) loopback(ch int) float64 {
	if ch < len(m.dac) {
		return util.Clamp(m.dac[ch], -m.cfg.FullScale, m.cfg.FullScale)
	}
	return 0
}

// mockSweep is one DAC channel moving from vi to vf
type mockSweep struct {
	ch     int
	vi, vf float64
}

func (s mockSweep) at(i, n int) float64 {
	if n < 2 {
		return s.vi
	}
	return s.vi + (s.vf-s.vi)*float64(i)/float64(n-1)
}

// ramp parses a buffered ramp command and queues its stream
func (m *Mock) ramp(name string, a *args) {
	var fast, slow []mockSweep
	var adc []int
	rows, perRow := 1, 0
	switch name {
	case "BUFFER_RAMP", "BUFFER_RAMP_DIS", "TIME_SERIES_BUFFER_RAMP":
		nd, na := a.int(), a.int()
		fast = a.sweeps(nd)
		adc = a.ints(na)
		steps := a.int()
		switch name {
		case "BUFFER_RAMP":
			a.int()
			a.int()
			perRow = steps
		case "BUFFER_RAMP_DIS":
			a.int()
			a.int()
			perRow = a.int()
		default:
			perRow = timeSeriesSamples(steps, a.int(), a.int())
		}
	case "2D_TIME_SERIES_BUFFER_RAMP", "2D_BUFFER_RAMP":
		nf, ns, na := a.int(), a.int(), a.int()
		fast = a.sweeps(nf)
		slow = a.sweeps(ns)
		adc = a.ints(na)
		fastSteps, slowSteps := a.int(), a.int()
		a.int() // retrace
		rows = slowSteps
		if name == "2D_BUFFER_RAMP" {
			perRow = fastSteps
		} else {
			perRow = timeSeriesSamples(fastSteps, a.int(), a.int())
		}
	case "BOXCAR_BUFFER_RAMP":
		nd, na := a.int(), a.int()
		for i := 0; i < nd; i++ {
			fast = append(fast, mockSweep{ch: a.int(), vi: a.float(), vf: a.float()})
			a.float()
			a.float()
		}
		adc = a.ints(na)
		fastSteps, mps := a.int(), a.int()
		perRow = fastSteps * 2 * mps
	}
	if a.err != nil {
		m.reply("FAILURE: bad arguments to " + name)
		return
	}
	if m.Fail != "" {
		m.pending = append(m.pending, m.Fail...)
		return
	}

	var stream []byte
	word := make([]byte, sampleSize)
	for r := 0; r < rows; r++ {
		for i := 0; i < perRow; i++ {
			for c, ch := range adc {
				v := float32(m.sample(r, rows, i, perRow, ch, fast, slow))
				if m.Source != nil {
					v = m.Source(r, i*len(adc)+c)
				}
				m.order.PutUint32(word, math.Float32bits(v))
				stream = append(stream, word...)
			}
		}
	}
	for _, s := range append(fast, slow...) {
		if m.dacOK(s.ch) {
			m.dac[s.ch] = s.vf
		}
	}
	if m.Stall > 0 && len(stream) > m.Stall {
		stream = stream[:m.Stall]
	}
	m.pending = append(m.pending, stream...)
}

func (m *Mock) sample(r, rows, i, perRow, ch int, fast, slow []mockSweep) float64 {
	for _, s := range fast {
		if s.ch == ch {
			return s.at(i, perRow)
		}
	}
	for _, s := range slow {
		if s.ch == ch {
			return s.at(r, rows)
		}
	}
	return m.loopback(ch)
}

// args walks the fields of a command, remembering the first parse error
type args struct {
	f   []string
	err error
}

func (a *args) next() string {
	if len(a.f) == 0 {
		if a.err == nil {
			a.err = fmt.Errorf("too few arguments")
		}
		return ""
	}
	s := a.f[0]
	a.f = a.f[1:]
	return s
}

func (a *args) int() int {
	s := a.next()
	i, err := strconv.Atoi(s)
	if err != nil && a.err == nil {
		a.err = err
	}
	return i
}

func (a *args) float() float64 {
	s := a.next()
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && a.err == nil {
		a.err = err
	}
	return v
}

func (a *args) ints(n int) []int {
	out := make([]int, 0, max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, a.int())
	}
	return out
}

func (a *args) sweeps(n int) []mockSweep {
	out := make([]mockSweep, 0, max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, mockSweep{ch: a.int(), vi: a.float(), vf: a.float()})
	}
	return out
}
