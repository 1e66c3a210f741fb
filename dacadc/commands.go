package dacadc

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cryolab/dacadc/util"
)

// calibration commands understood by the box
const (
	CalDAC          = "DAC_CH_CAL"
	CalADCZero      = "ADC_ZERO_SC_CAL"
	CalADCChanZero  = "ADC_CH_ZERO_SC_CAL"
	CalADCChanFull  = "ADC_CH_FULL_SC_CAL"
	minConvTime     = 82
	maxConvTime     = 2686
	maxDACCode      = 1 << 20
	osgLinesPerChan = 2
)

var calibrations = map[string]bool{
	CalDAC:         true,
	CalADCZero:     true,
	CalADCChanZero: true,
	CalADCChanFull: true,
}

// SetVoltage sets DAC channel ch to v volts and returns the box's reply,
// e.g. "DAC 0 UPDATED TO 1.000000V"
func (b *Box) SetVoltage(ch int, v float64) (string, error) {
	var chk checker
	b.cfg.checkDACChannel(&chk, ch)
	b.cfg.checkVoltages(&chk, "voltage", 1, []float64{v})
	if err := chk.result(); err != nil {
		return "", err
	}
	return b.query(fmt.Sprintf("SET,%d,%s", ch, formatVolts(v)))
}

// Output sets DAC channel ch to v volts
func (b *Box) Output(ch int, v float64) error {
	_, err := b.SetVoltage(ch, v)
	return err
}

// Input reads ADC channel ch once, in volts
func (b *Box) Input(ch int) (float64, error) {
	var chk checker
	b.cfg.checkADC(&chk, []int{ch})
	if err := chk.result(); err != nil {
		return 0, err
	}
	resp, err := b.query(fmt.Sprintf("GET_ADC,%d", ch))
	if err != nil {
		return 0, err
	}
	return parseFloatReply(resp)
}

// Inputs reads every ADC channel in turn.  The box has no command for all
// of them at once.
func (b *Box) Inputs() ([]float64, error) {
	out := make([]float64, b.cfg.ADCChannels)
	for ch := range out {
		v, err := b.Input(ch)
		if err != nil {
			return out[:ch], errors.Wrapf(err, "dacadc: reading ADC %d", ch)
		}
		out[ch] = v
	}
	return out, nil
}

// GetOutput reads back the voltage DAC channel ch is set to
func (b *Box) GetOutput(ch int) (float64, error) {
	var chk checker
	b.cfg.checkDACChannel(&chk, ch)
	if err := chk.result(); err != nil {
		return 0, err
	}
	resp, err := b.query(fmt.Sprintf("GET_DAC,%d", ch))
	if err != nil {
		return 0, err
	}
	return parseFloatReply(resp)
}

// Ramp1 ramps one DAC channel without reading anything back.  delay is in
// device time units per step.
func (b *Box) Ramp1(ch int, vi, vf float64, steps, delay int) (string, error) {
	var chk checker
	b.cfg.checkSweep(&chk, "", []int{ch}, []float64{vi}, []float64{vf})
	checkAtLeast(&chk, "steps", steps, 1)
	checkAtLeast(&chk, "delay", delay, 0)
	if err := chk.result(); err != nil {
		return "", err
	}
	var f fields
	f.str("RAMP1")
	f.ints(ch)
	f.volts(vi, vf)
	f.ints(steps, delay)
	return b.queryWithin(f.String(), steps, delay)
}

// Ramp2 ramps two DAC channels together
func (b *Box) Ramp2(ch1, ch2 int, vi1, vi2, vf1, vf2 float64, steps, delay int) (string, error) {
	var chk checker
	b.cfg.checkSweep(&chk, "", []int{ch1, ch2}, []float64{vi1, vi2}, []float64{vf1, vf2})
	checkAtLeast(&chk, "steps", steps, 1)
	checkAtLeast(&chk, "delay", delay, 0)
	if err := chk.result(); err != nil {
		return "", err
	}
	var f fields
	f.str("RAMP2")
	f.ints(ch1, ch2)
	f.volts(vi1, vi2, vf1, vf2)
	f.ints(steps, delay)
	return b.queryWithin(f.String(), steps, delay)
}

// queryWithin is query for commands that answer only once a ramp of steps
// steps of delay microseconds has run.  The read timeout is stretched to cover it.
func (b *Box) queryWithin(cmd string, steps, delay int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeLine(cmd); err != nil {
		return "", err
	}
	run := time.Duration(steps*delay) * time.Microsecond
	lines, err := b.readLinesStretched(1, run)
	if err != nil {
		return "", errors.Wrapf(err, "dacadc: waiting for %s", verb(cmd))
	}
	return lines[0], nil
}

// SetConversionTime sets the conversion time of ADC channel ch in
// microseconds and returns the time the converter actually uses
func (b *Box) SetConversionTime(ch int, us float64) (float64, error) {
	var chk checker
	b.cfg.checkADC(&chk, []int{ch})
	checkConversionTime(&chk, us)
	if err := chk.result(); err != nil {
		return 0, err
	}
	resp, err := b.query(fmt.Sprintf("CONVERT_TIME,%d,%s", ch, util.FormatFloat(us)))
	if err != nil {
		return 0, err
	}
	return parseFloatReply(resp)
}

// Identification returns the response to *IDN?
func (b *Box) Identification() (string, error) {
	return b.query("*IDN?")
}

// Ready returns the response to *RDY?, "READY" when the box is idle
func (b *Box) Ready() (string, error) {
	return b.query("*RDY?")
}

// SerialNumber returns the serial number of the box
func (b *Box) SerialNumber() (string, error) {
	return b.query("SERIAL_NUMBER")
}

// Calibrate runs one of the built-in calibration routines; see the Cal constants
func (b *Box) Calibrate(kind string) (string, error) {
	kind = strings.ToUpper(kind)
	if !calibrations[kind] {
		var chk checker
		chk.addf("calibration %q is not one of %s", kind,
			strings.Join([]string{CalDAC, CalADCZero, CalADCChanZero, CalADCChanFull}, ", "))
		return "", chk.result()
	}
	return b.query(kind)
}

// Initialize returns the box to its power-on state
func (b *Box) Initialize() (string, error) {
	return b.query("INITIALIZE")
}

// SetDelayUnit selects microseconds (0) or milliseconds (1) for ramp delays
func (b *Box) SetDelayUnit(unit int) (string, error) {
	if unit != 0 && unit != 1 {
		var chk checker
		chk.addf("delay unit must be 0 (microseconds) or 1 (milliseconds), got %d", unit)
		return "", chk.result()
	}
	return b.query(fmt.Sprintf("SET_DUNIT,%d", unit))
}

// SetFullScale tells the box the full scale of its DAC outputs in volts
func (b *Box) SetFullScale(v float64) (string, error) {
	if !(v > 0) {
		var chk checker
		chk.addf("full scale must be positive, got %g", v)
		return "", chk.result()
	}
	return b.query("FULL_SCALE," + formatVolts(v))
}

// SetOffsetAndGain writes the offset and gain correction of every DAC
// channel, offsets first, and returns the box's reply for each
func (b *Box) SetOffsetAndGain(vals []float64) ([]string, error) {
	n := osgLinesPerChan * b.cfg.DACChannels
	if len(vals) != n {
		var chk checker
		chk.addf("%d offset and gain values given, need %d", len(vals), n)
		return nil, chk.result()
	}
	var f fields
	f.str("SET_OSG")
	for _, v := range vals {
		f.str(util.FormatFloat(v))
	}
	return b.queryLines(f.String(), n)
}

// OffsetAndGain reads back the offset and gain corrections
func (b *Box) OffsetAndGain() ([]string, error) {
	return b.queryLines("INQUIRY_OSG", osgLinesPerChan*b.cfg.DACChannels)
}

// SetDACCode writes a raw 20 bit code to DAC channel ch
func (b *Box) SetDACCode(ch, code int) (string, error) {
	var chk checker
	b.cfg.checkDACChannel(&chk, ch)
	if code < 0 || code > maxDACCode {
		chk.addf("DAC code %d outside [0,%d]", code, maxDACCode)
	}
	if err := chk.result(); err != nil {
		return "", err
	}
	return b.query(fmt.Sprintf("SET_DAC_CODE,%d,%d", ch, code))
}

// Raw sends cmd verbatim and returns the single line reply.  Every command
// the box understands answers with a line, so a reply is read either way.
func (b *Box) Raw(cmd string) (string, error) {
	cmd = strings.TrimRight(cmd, "\r\n")
	if cmd == "" {
		var chk checker
		chk.addf("command is empty")
		return "", chk.result()
	}
	return b.query(cmd)
}

// BytesWaiting returns the number of unread bytes from the box
func (b *Box) BytesWaiting() (int, error) {
	return b.t.BytesAvailable()
}

// SetTimeout sets the read timeout of the transport
func (b *Box) SetTimeout(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.t.SetReadTimeout(d)
}

func (c Config) checkDACChannel(chk *checker, ch int) {
	if ch < 0 || ch >= c.DACChannels {
		chk.addf("DAC channel %d out of range [0,%d)", ch, c.DACChannels)
	}
}

func checkConversionTime(chk *checker, us float64) {
	if !(us >= minConvTime && us <= maxConvTime) {
		chk.addf("conversion time %g us outside [%d,%d]", us, minConvTime, maxConvTime)
	}
}
