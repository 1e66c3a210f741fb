package dacadc

import (
	"math"
	"strconv"
	"strings"
)

// shape is one kind of buffered acquisition.  Each request type below is a
// shape; the orchestrator in ramp.go treats them uniformly.
type shape interface {
	kind() string

	// validate reports every problem with the request as a *ParameterError
	validate(c Config) error

	// command is the unterminated command line
	command() string

	// rows is the number of separate drains; 1 for a 1-D ramp
	rows() int

	// samplesPerRow is the number of sample sets streamed per row
	samplesPerRow() int

	// channels is the number of ADC channels interleaved in the stream
	channels() int
}

// BufferRampRequest sweeps DACChannels from StartVoltages to EndVoltages in
// Steps steps, reading ADCChannels after each one.  Delay is the time in
// device units between the last DAC update and the first ADC read.
type BufferRampRequest struct {
	DACChannels        []int     `json:"dacChannels"`
	ADCChannels        []int     `json:"adcChannels"`
	StartVoltages      []float64 `json:"startVoltages"`
	EndVoltages        []float64 `json:"endVoltages"`
	Steps              int       `json:"steps"`
	Delay              int       `json:"delay"`
	NumReadingsIgnored int       `json:"numReadingsIgnored"`
}

func (r BufferRampRequest) kind() string { return "buffer" }

func (r BufferRampRequest) validate(c Config) error {
	var chk checker
	c.checkSweep(&chk, "", r.DACChannels, r.StartVoltages, r.EndVoltages)
	c.checkADC(&chk, r.ADCChannels)
	checkAtLeast(&chk, "steps", r.Steps, 1)
	checkAtLeast(&chk, "delay", r.Delay, 0)
	checkAtLeast(&chk, "numReadingsIgnored", r.NumReadingsIgnored, 0)
	return chk.result()
}

func (r BufferRampRequest) command() string {
	var f fields
	f.str("BUFFER_RAMP")
	f.ints(len(r.DACChannels), len(r.ADCChannels))
	f.triples(r.DACChannels, r.StartVoltages, r.EndVoltages)
	f.ints(r.ADCChannels...)
	f.ints(r.Steps, r.Delay, r.NumReadingsIgnored)
	return f.String()
}

func (r BufferRampRequest) rows() int          { return 1 }
func (r BufferRampRequest) samplesPerRow() int { return r.Steps }
func (r BufferRampRequest) channels() int      { return len(r.ADCChannels) }

// DisjointRampRequest is a BufferRampRequest whose ADCs are read on only
// ADCSteps of the Steps DAC updates
type DisjointRampRequest struct {
	BufferRampRequest
	ADCSteps int `json:"adcSteps"`
}

func (r DisjointRampRequest) kind() string { return "buffer-dis" }

func (r DisjointRampRequest) validate(c Config) error {
	var chk checker
	if err := r.BufferRampRequest.validate(c); err != nil {
		chk.err = err.(*ParameterError).err
	}
	checkAtLeast(&chk, "adcSteps", r.ADCSteps, 1)
	if r.ADCSteps > r.Steps {
		chk.addf("adcSteps (%d) must not exceed steps (%d)", r.ADCSteps, r.Steps)
	}
	return chk.result()
}

func (r DisjointRampRequest) command() string {
	var f fields
	f.str("BUFFER_RAMP_DIS")
	f.ints(len(r.DACChannels), len(r.ADCChannels))
	f.triples(r.DACChannels, r.StartVoltages, r.EndVoltages)
	f.ints(r.ADCChannels...)
	f.ints(r.Steps, r.Delay, r.NumReadingsIgnored, r.ADCSteps)
	return f.String()
}

func (r DisjointRampRequest) samplesPerRow() int { return r.ADCSteps }

// TimeSeriesRequest sweeps the DACs every DACPeriod and samples the ADCs
// every ADCPeriod, both in device time units
type TimeSeriesRequest struct {
	DACChannels   []int     `json:"dacChannels"`
	ADCChannels   []int     `json:"adcChannels"`
	StartVoltages []float64 `json:"startVoltages"`
	EndVoltages   []float64 `json:"endVoltages"`
	Steps         int       `json:"steps"`
	DACPeriod     int       `json:"dacPeriod"`
	ADCPeriod     int       `json:"adcPeriod"`
}

func (r TimeSeriesRequest) kind() string { return "time-series" }

func (r TimeSeriesRequest) validate(c Config) error {
	var chk checker
	c.checkSweep(&chk, "", r.DACChannels, r.StartVoltages, r.EndVoltages)
	c.checkADC(&chk, r.ADCChannels)
	checkAtLeast(&chk, "steps", r.Steps, 1)
	checkPeriods(&chk, r.Steps, r.DACPeriod, r.ADCPeriod)
	return chk.result()
}

func (r TimeSeriesRequest) command() string {
	var f fields
	f.str("TIME_SERIES_BUFFER_RAMP")
	f.ints(len(r.DACChannels), len(r.ADCChannels))
	f.triples(r.DACChannels, r.StartVoltages, r.EndVoltages)
	f.ints(r.ADCChannels...)
	f.ints(r.Steps, r.DACPeriod, r.ADCPeriod)
	return f.String()
}

func (r TimeSeriesRequest) rows() int { return 1 }
func (r TimeSeriesRequest) samplesPerRow() int {
	return timeSeriesSamples(r.Steps, r.DACPeriod, r.ADCPeriod)
}
func (r TimeSeriesRequest) channels() int { return len(r.ADCChannels) }

// TimeSeries2DRequest is a raster.  For each of SlowSteps slow steps the
// fast DACs are swept as in a TimeSeriesRequest.
type TimeSeries2DRequest struct {
	FastDACChannels []int     `json:"fastDacChannels"`
	SlowDACChannels []int     `json:"slowDacChannels"`
	ADCChannels     []int     `json:"adcChannels"`
	FastStart       []float64 `json:"fastStart"`
	FastEnd         []float64 `json:"fastEnd"`
	SlowStart       []float64 `json:"slowStart"`
	SlowEnd         []float64 `json:"slowEnd"`
	FastSteps       int       `json:"fastSteps"`
	SlowSteps       int       `json:"slowSteps"`
	Retrace         bool      `json:"retrace"`
	DACPeriod       int       `json:"dacPeriod"`
	ADCPeriod       int       `json:"adcPeriod"`
}

func (r TimeSeries2DRequest) kind() string { return "time-series-2d" }

func (r TimeSeries2DRequest) validate(c Config) error {
	var chk checker
	c.checkSweep(&chk, "fast", r.FastDACChannels, r.FastStart, r.FastEnd)
	c.checkSweep(&chk, "slow", r.SlowDACChannels, r.SlowStart, r.SlowEnd)
	c.checkADC(&chk, r.ADCChannels)
	checkAtLeast(&chk, "fastSteps", r.FastSteps, 1)
	checkAtLeast(&chk, "slowSteps", r.SlowSteps, 1)
	if r.FastSteps > c.StepBudget {
		chk.addf("fastSteps (%d) exceeds the step budget (%d)", r.FastSteps, c.StepBudget)
	}
	checkPeriods(&chk, r.FastSteps, r.DACPeriod, r.ADCPeriod)
	return chk.result()
}

func (r TimeSeries2DRequest) command() string {
	var f fields
	f.str("2D_TIME_SERIES_BUFFER_RAMP")
	f.ints(len(r.FastDACChannels), len(r.SlowDACChannels), len(r.ADCChannels))
	f.triples(r.FastDACChannels, r.FastStart, r.FastEnd)
	f.triples(r.SlowDACChannels, r.SlowStart, r.SlowEnd)
	f.ints(r.ADCChannels...)
	f.ints(r.FastSteps, r.SlowSteps, boolInt(r.Retrace), r.DACPeriod, r.ADCPeriod)
	return f.String()
}

func (r TimeSeries2DRequest) rows() int { return r.SlowSteps }
func (r TimeSeries2DRequest) samplesPerRow() int {
	return timeSeriesSamples(r.FastSteps, r.DACPeriod, r.ADCPeriod)
}
func (r TimeSeries2DRequest) channels() int { return len(r.ADCChannels) }

// Raster2DRequest is a raster in which each row waits SettlingTime after
// the slow step and then averages NumReadings conversions per fast step
type Raster2DRequest struct {
	FastDACChannels []int     `json:"fastDacChannels"`
	SlowDACChannels []int     `json:"slowDacChannels"`
	ADCChannels     []int     `json:"adcChannels"`
	FastStart       []float64 `json:"fastStart"`
	FastEnd         []float64 `json:"fastEnd"`
	SlowStart       []float64 `json:"slowStart"`
	SlowEnd         []float64 `json:"slowEnd"`
	FastSteps       int       `json:"fastSteps"`
	SlowSteps       int       `json:"slowSteps"`
	Retrace         bool      `json:"retrace"`
	SettlingTime    int       `json:"settlingTime"`
	Delay           int       `json:"delay"`
	NumReadings     int       `json:"numReadings"`
}

func (r Raster2DRequest) kind() string { return "2d" }

func (r Raster2DRequest) validate(c Config) error {
	var chk checker
	c.checkSweep(&chk, "fast", r.FastDACChannels, r.FastStart, r.FastEnd)
	c.checkSweep(&chk, "slow", r.SlowDACChannels, r.SlowStart, r.SlowEnd)
	c.checkADC(&chk, r.ADCChannels)
	checkAtLeast(&chk, "fastSteps", r.FastSteps, 1)
	checkAtLeast(&chk, "slowSteps", r.SlowSteps, 1)
	checkAtLeast(&chk, "settlingTime", r.SettlingTime, 0)
	checkAtLeast(&chk, "delay", r.Delay, 1)
	checkAtLeast(&chk, "numReadings", r.NumReadings, 1)
	if r.Delay >= 1 {
		// the settling wait is counted in fast steps of length delay
		settle := int(math.Ceil(float64(r.SettlingTime) / float64(r.Delay)))
		if r.FastSteps+settle > c.StepBudget {
			chk.addf("fastSteps (%d) plus %d settling steps exceeds the step budget (%d)",
				r.FastSteps, settle, c.StepBudget)
		}
	}
	return chk.result()
}

func (r Raster2DRequest) command() string {
	var f fields
	f.str("2D_BUFFER_RAMP")
	f.ints(len(r.FastDACChannels), len(r.SlowDACChannels), len(r.ADCChannels))
	f.triples(r.FastDACChannels, r.FastStart, r.FastEnd)
	f.triples(r.SlowDACChannels, r.SlowStart, r.SlowEnd)
	f.ints(r.ADCChannels...)
	f.ints(r.FastSteps, r.SlowSteps, boolInt(r.Retrace), r.SettlingTime, r.Delay, r.NumReadings)
	return f.String()
}

func (r Raster2DRequest) rows() int          { return r.SlowSteps }
func (r Raster2DRequest) samplesPerRow() int { return r.FastSteps }
func (r Raster2DRequest) channels() int      { return len(r.ADCChannels) }

// BoxcarRequest sweeps each DAC forward from StartVoltages1 to EndVoltages1
// and back from StartVoltages2 to EndVoltages2, taking MeasurementsPerStep
// conversions in each direction.  AveragingDepth is applied on the host.
type BoxcarRequest struct {
	DACChannels         []int     `json:"dacChannels"`
	ADCChannels         []int     `json:"adcChannels"`
	StartVoltages1      []float64 `json:"startVoltages1"`
	EndVoltages1        []float64 `json:"endVoltages1"`
	StartVoltages2      []float64 `json:"startVoltages2"`
	EndVoltages2        []float64 `json:"endVoltages2"`
	FastSteps           int       `json:"fastSteps"`
	MeasurementsPerStep int       `json:"measurementsPerStep"`
	AveragingDepth      int       `json:"averagingDepth"`
	ConversionSkips     int       `json:"conversionSkips"`
	ConversionTime      int       `json:"conversionTime"`
}

func (r BoxcarRequest) kind() string { return "boxcar" }

func (r BoxcarRequest) validate(c Config) error {
	var chk checker
	c.checkSweep(&chk, "", r.DACChannels, r.StartVoltages1, r.EndVoltages1)
	c.checkVoltages(&chk, "startVoltages2", len(r.DACChannels), r.StartVoltages2)
	c.checkVoltages(&chk, "endVoltages2", len(r.DACChannels), r.EndVoltages2)
	c.checkADC(&chk, r.ADCChannels)
	checkAtLeast(&chk, "fastSteps", r.FastSteps, 1)
	checkAtLeast(&chk, "measurementsPerStep", r.MeasurementsPerStep, 1)
	checkAtLeast(&chk, "averagingDepth", r.AveragingDepth, 1)
	checkAtLeast(&chk, "conversionSkips", r.ConversionSkips, 0)
	checkConversionTime(&chk, float64(r.ConversionTime))
	return chk.result()
}

func (r BoxcarRequest) command() string {
	var f fields
	f.str("BOXCAR_BUFFER_RAMP")
	f.ints(len(r.DACChannels), len(r.ADCChannels))
	for i, ch := range r.DACChannels {
		f.ints(ch)
		f.volts(r.StartVoltages1[i], r.EndVoltages1[i], r.StartVoltages2[i], r.EndVoltages2[i])
	}
	f.ints(r.ADCChannels...)
	f.ints(r.FastSteps, r.MeasurementsPerStep, r.ConversionSkips, r.ConversionTime)
	return f.String()
}

func (r BoxcarRequest) rows() int          { return 1 }
func (r BoxcarRequest) samplesPerRow() int { return r.FastSteps * r.period() }
func (r BoxcarRequest) channels() int      { return len(r.ADCChannels) }

// period is the length of one forward and back measurement block
func (r BoxcarRequest) period() int { return 2 * r.MeasurementsPerStep }

// timeSeriesSamples is the number of ADC samples in steps DAC updates,
// rounded toward zero
func timeSeriesSamples(steps, dacPeriod, adcPeriod int) int {
	if adcPeriod <= 0 {
		return 0
	}
	return steps * dacPeriod / adcPeriod
}

// checkSweep checks a DAC channel list and its start and end voltages.
// prefix names the axis of a raster.
func (c Config) checkSweep(chk *checker, prefix string, chs []int, start, end []float64) {
	name := func(s string) string {
		if prefix == "" {
			return s
		}
		return prefix + strings.ToUpper(s[:1]) + s[1:]
	}
	if len(chs) == 0 {
		chk.addf("%s: at least one channel is required", name("dacChannels"))
	}
	for _, ch := range chs {
		if ch < 0 || ch >= c.DACChannels {
			chk.addf("%s: DAC channel %d out of range [0,%d)", name("dacChannels"), ch, c.DACChannels)
		}
	}
	startName, endName := name("start"), name("end")
	if prefix == "" {
		startName, endName = "startVoltages", "endVoltages"
	}
	c.checkVoltages(chk, startName, len(chs), start)
	c.checkVoltages(chk, endName, len(chs), end)
}

// checkVoltages checks that vs has n entries, each within full scale
func (c Config) checkVoltages(chk *checker, name string, n int, vs []float64) {
	if len(vs) != n {
		chk.addf("%s: %d voltages given for %d channels", name, len(vs), n)
	}
	for _, v := range vs {
		if math.IsNaN(v) || math.Abs(v) > c.FullScale {
			chk.addf("%s: %g V is outside +/-%g V", name, v, c.FullScale)
		}
	}
}

func (c Config) checkADC(chk *checker, chs []int) {
	if len(chs) == 0 {
		chk.addf("adcChannels: at least one channel is required")
	}
	for _, ch := range chs {
		if ch < 0 || ch >= c.ADCChannels {
			chk.addf("adcChannels: ADC channel %d out of range [0,%d)", ch, c.ADCChannels)
		}
	}
}

func checkAtLeast(chk *checker, name string, v, least int) {
	if v < least {
		chk.addf("%s must be at least %d, got %d", name, least, v)
	}
}

func checkPeriods(chk *checker, steps, dacPeriod, adcPeriod int) {
	checkAtLeast(chk, "dacPeriod", dacPeriod, 1)
	checkAtLeast(chk, "adcPeriod", adcPeriod, 1)
	if adcPeriod >= 1 && dacPeriod >= 1 && steps >= 1 {
		if n := timeSeriesSamples(steps, dacPeriod, adcPeriod); n < 1 {
			chk.addf("%d steps at dacPeriod %d and adcPeriod %d yield no samples", steps, dacPeriod, adcPeriod)
		}
	}
}

// fields builds a comma separated command line
type fields []string

func (f *fields) str(s ...string) { *f = append(*f, s...) }

func (f *fields) ints(vs ...int) {
	for _, v := range vs {
		*f = append(*f, strconv.Itoa(v))
	}
}

func (f *fields) volts(vs ...float64) {
	for _, v := range vs {
		*f = append(*f, formatVolts(v))
	}
}

// triples appends ch,vi,vf for each channel
func (f *fields) triples(chs []int, vi, vf []float64) {
	for i, ch := range chs {
		f.ints(ch)
		f.volts(vi[i], vf[i])
	}
}

func (f fields) String() string { return strings.Join(f, ",") }

// formatVolts gives six decimals, the resolution of the 20 bit DAC
func formatVolts(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
