package dacadc_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cryolab/dacadc/dacadc"
)

func testConfig() dacadc.Config {
	cfg := dacadc.DefaultConfig()
	cfg.StopGrace = 10 * time.Millisecond
	return cfg
}

func newBox(t *testing.T) (*dacadc.Box, *dacadc.Mock) {
	t.Helper()
	cfg := testConfig()
	m := dacadc.NewMock(cfg)
	b := dacadc.New(m, cfg)
	return b, m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDemuxRoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		for c := 1; c <= 4; c++ {
			in := make([][]float64, c)
			for ch := range in {
				for i := 0; i < 7; i++ {
					in[ch] = append(in[ch], float64(ch)*10+float64(i)*0.25)
				}
			}
			got := dacadc.Demux(dacadc.Interleave(in, order), c, order)
			if diff := cmp.Diff(in, got); diff != "" {
				t.Errorf("%v, %d channels (-want +got):\n%s", order, c, diff)
			}
		}
	}
}

func TestDemuxDropsTrailingPartialSample(t *testing.T) {
	in := [][]float64{{1, 2}, {3, 4}}
	buf := dacadc.Interleave(in, binary.LittleEndian)
	got := dacadc.Demux(buf[:len(buf)-3], 2, binary.LittleEndian)
	want := [][]float64{{1}, {3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func scenarioRamp() dacadc.BufferRampRequest {
	return dacadc.BufferRampRequest{
		DACChannels:        []int{0},
		ADCChannels:        []int{0, 1},
		StartVoltages:      []float64{0},
		EndVoltages:        []float64{5},
		Steps:              4,
		Delay:              1000,
		NumReadingsIgnored: 1,
	}
}

func TestBufferRampInterleavedScenario(t *testing.T) {
	b, m := newBox(t)
	m.Source = func(row, k int) float32 { return float32(k) * 0.5 }
	got, err := b.BufferRamp(context.Background(), scenarioRamp())
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{{0, 1, 2, 3}, {0.5, 1.5, 2.5, 3.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	cmds := m.Commands()
	if diff := cmp.Diff([]string{"BUFFER_RAMP,1,2,0,0.000000,5.000000,0,1,4,1000,1"}, cmds); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	if st := b.State(); st != dacadc.Completed {
		t.Errorf("expected state completed, got %s", st)
	}
	if b.Ramping() {
		t.Error("still ramping after completion")
	}
}

func TestBufferRampSingleByteChunks(t *testing.T) {
	whole, _ := newBox(t)
	want, err := whole.BufferRamp(context.Background(), scenarioRamp())
	if err != nil {
		t.Fatal(err)
	}

	b, m := newBox(t)
	m.Chunk = 1
	got, err := b.BufferRamp(context.Background(), scenarioRamp())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chunked delivery differs (-whole +chunked):\n%s", diff)
	}
	// loopback: channel 0 follows DAC 0 from 0 to 5 V
	if diff := cmp.Diff([]float64{0, 5.0 / 3, 10.0 / 3, 5}, got[0], cmpFloat32); diff != "" {
		t.Errorf("loopback mismatch (-want +got):\n%s", diff)
	}
}

var cmpFloat32 = cmp.Comparer(func(a, b float64) bool {
	return float32(a) == float32(b)
})

func TestFailureSentinel(t *testing.T) {
	for _, chunk := range []int{0, 1, 3} {
		b, m := newBox(t)
		m.Chunk = chunk
		m.Fail = "FAILURE: bad channel\r\n"
		data, err := b.BufferRamp(context.Background(), scenarioRamp())
		var acqErr *dacadc.AcquisitionError
		if !errors.As(err, &acqErr) {
			t.Fatalf("chunk %d: expected AcquisitionError, got %v", chunk, err)
		}
		if acqErr.Message != "FAILURE: bad channel" {
			t.Errorf("chunk %d: expected message %q, got %q", chunk, "FAILURE: bad channel", acqErr.Message)
		}
		if data != nil {
			t.Errorf("chunk %d: failed acquisition decoded data %v", chunk, data)
		}
		if st := b.State(); st != dacadc.Failed {
			t.Errorf("chunk %d: expected state failed, got %s", chunk, st)
		}
	}
}

func TestFailureSentinelLongerThanPayload(t *testing.T) {
	b, m := newBox(t)
	m.Fail = "FAILURE: busy\r\n"
	r := scenarioRamp()
	r.ADCChannels = []int{0}
	r.Steps = 1 // four payload bytes, fewer than the sentinel
	_, err := b.BufferRamp(context.Background(), r)
	var acqErr *dacadc.AcquisitionError
	if !errors.As(err, &acqErr) || acqErr.Message != "FAILURE: busy" {
		t.Errorf("expected AcquisitionError FAILURE: busy, got %v", err)
	}
}

func TestStopRampWithoutAcquisitionIsNoop(t *testing.T) {
	b, m := newBox(t)
	for i := 0; i < 2; i++ {
		if err := b.StopRamp(); err != nil {
			t.Fatal(err)
		}
	}
	if cmds := m.Commands(); len(cmds) != 0 {
		t.Errorf("expected nothing written, got %v", cmds)
	}
	if st := b.State(); st != dacadc.Idle {
		t.Errorf("expected idle, got %s", st)
	}
}

func TestStopRampReturnsPartialResult(t *testing.T) {
	b, m := newBox(t)
	m.Stall = 2 * 2 * 4 // two of four steps, two channels
	m.Residual = 5
	type result struct {
		data [][]float64
		err  error
	}
	done := make(chan result)
	go func() {
		data, err := b.BufferRamp(context.Background(), scenarioRamp())
		done <- result{data, err}
	}()
	waitFor(t, "ramp to start", b.Ramping)
	waitFor(t, "stalled bytes to drain", func() bool {
		n, _ := m.BytesAvailable()
		return n == 0
	})
	if err := b.StopRamp(); err != nil {
		t.Fatal(err)
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("a stopped ramp is not an error, got %v", res.err)
	}
	if len(res.data) != 2 || len(res.data[0]) != 2 || len(res.data[1]) != 2 {
		t.Errorf("expected two channels of two samples, got %v", res.data)
	}
	if st := b.State(); st != dacadc.Cancelled {
		t.Errorf("expected cancelled, got %s", st)
	}
	cmds := m.Commands()
	if cmds[len(cmds)-1] != dacadc.StopCommand {
		t.Errorf("expected STOP to be the last command, got %v", cmds)
	}
	if n, _ := b.BytesWaiting(); n != 0 {
		t.Errorf("expected bytes after STOP to be discarded, %d remain", n)
	}
	if err := b.StopRamp(); err != nil {
		t.Errorf("second stop returned %v", err)
	}
}

func TestSecondRampIsBusy(t *testing.T) {
	b, m := newBox(t)
	m.Stall = 4
	done := make(chan error)
	go func() {
		_, err := b.BufferRamp(context.Background(), scenarioRamp())
		done <- err
	}()
	waitFor(t, "ramp to start", b.Ramping)
	if _, err := b.BufferRamp(context.Background(), scenarioRamp()); err != dacadc.ErrBusy {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	b.StopRamp()
	if err := <-done; err != nil {
		t.Error(err)
	}
}

func TestContextDeadlineStopsRamp(t *testing.T) {
	b, m := newBox(t)
	m.Stall = 2 * 4
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	data, err := b.BufferRamp(ctx, scenarioRamp())
	if err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if len(data) != 2 || len(data[0]) != 1 {
		t.Errorf("expected one sample per channel, got %v", data)
	}
	cmds := m.Commands()
	if cmds[len(cmds)-1] != dacadc.StopCommand {
		t.Errorf("expected STOP after the deadline, got %v", cmds)
	}
	if st := b.State(); st != dacadc.Cancelled {
		t.Errorf("expected cancelled, got %s", st)
	}
}

func TestTimeSeries2DOneCommandPerRaster(t *testing.T) {
	b, m := newBox(t)
	r := dacadc.TimeSeries2DRequest{
		FastDACChannels: []int{0},
		SlowDACChannels: []int{1},
		ADCChannels:     []int{0, 1},
		FastStart:       []float64{-1},
		FastEnd:         []float64{1},
		SlowStart:       []float64{0},
		SlowEnd:         []float64{2},
		FastSteps:       2,
		SlowSteps:       3,
		Retrace:         false,
		DACPeriod:       100,
		ADCPeriod:       100,
	}
	got, err := b.TimeSeriesBufferRamp2D(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(m.Commands()); n != 1 {
		t.Errorf("expected exactly one command, got %d", n)
	}
	if st := b.Status(); st.RowsDone != 3 || st.Rows != 3 {
		t.Errorf("expected 3 drains of 3 rows, got %+v", st)
	}
	want := [][][]float64{
		{{-1, 1}, {0, 0}},
		{{-1, 1}, {1, 1}},
		{{-1, 1}, {2, 2}},
	}
	if diff := cmp.Diff(want, got, cmpFloat32); diff != "" {
		t.Errorf("raster mismatch (-want +got):\n%s", diff)
	}
}

func TestRaster2DStoppedMidway(t *testing.T) {
	b, m := newBox(t)
	// one full row of 3 fast steps on one channel, and one sample of the next
	m.Stall = 3*4 + 4
	r := dacadc.Raster2DRequest{
		FastDACChannels: []int{0},
		SlowDACChannels: []int{1},
		ADCChannels:     []int{0},
		FastStart:       []float64{0},
		FastEnd:         []float64{1},
		SlowStart:       []float64{0},
		SlowEnd:         []float64{1},
		FastSteps:       3,
		SlowSteps:       4,
		SettlingTime:    100,
		Delay:           10,
		NumReadings:     1,
	}
	done := make(chan [][][]float64)
	go func() {
		got, err := b.BufferRamp2D(context.Background(), r)
		if err != nil {
			t.Error(err)
		}
		done <- got
	}()
	waitFor(t, "first row and the start of the second", func() bool {
		n, _ := m.BytesAvailable()
		return b.Status().RowsDone == 1 && n == 0
	})
	b.StopRamp()
	got := <-done
	if len(got) != 2 || len(got[0][0]) != 3 || len(got[1][0]) != 1 {
		t.Errorf("expected a full row and a one sample row, got %v", got)
	}
}

func TestBoxcarBufferRampAverages(t *testing.T) {
	r := dacadc.BoxcarRequest{
		DACChannels:         []int{0},
		ADCChannels:         []int{0},
		StartVoltages1:      []float64{0},
		EndVoltages1:        []float64{1},
		StartVoltages2:      []float64{1},
		EndVoltages2:        []float64{0},
		FastSteps:           3,
		MeasurementsPerStep: 2,
		AveragingDepth:      1,
		ConversionSkips:     0,
		ConversionTime:      100,
	}
	raw, _ := newBox(t)
	plain, err := raw.BoxcarBufferRamp(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(plain[0]); n != 3*2*2 {
		t.Fatalf("expected %d samples, got %d", 3*2*2, n)
	}

	b, _ := newBox(t)
	r.AveragingDepth = 3
	got, err := b.BoxcarBufferRamp(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	want := dacadc.Boxcar(plain[0], 4, 3)
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestInvalidParametersAreNotSent(t *testing.T) {
	budget := testConfig().StepBudget
	tests := []struct {
		name string
		run  func(*dacadc.Box) error
	}{
		{"dac channel", func(b *dacadc.Box) error {
			r := scenarioRamp()
			r.DACChannels = []int{4}
			_, err := b.BufferRamp(context.Background(), r)
			return err
		}},
		{"adc channel", func(b *dacadc.Box) error {
			r := scenarioRamp()
			r.ADCChannels = []int{-1}
			_, err := b.BufferRamp(context.Background(), r)
			return err
		}},
		{"voltage", func(b *dacadc.Box) error {
			r := scenarioRamp()
			r.EndVoltages = []float64{10.5}
			_, err := b.BufferRamp(context.Background(), r)
			return err
		}},
		{"steps", func(b *dacadc.Box) error {
			r := scenarioRamp()
			r.Steps = 0
			_, err := b.BufferRamp(context.Background(), r)
			return err
		}},
		{"mismatched voltages", func(b *dacadc.Box) error {
			r := scenarioRamp()
			r.StartVoltages = []float64{0, 1}
			_, err := b.BufferRamp(context.Background(), r)
			return err
		}},
		{"no adc channels", func(b *dacadc.Box) error {
			r := scenarioRamp()
			r.ADCChannels = nil
			_, err := b.BufferRamp(context.Background(), r)
			return err
		}},
		{"adc steps", func(b *dacadc.Box) error {
			_, err := b.BufferRampDis(context.Background(), dacadc.DisjointRampRequest{BufferRampRequest: scenarioRamp(), ADCSteps: 5})
			return err
		}},
		{"no time series samples", func(b *dacadc.Box) error {
			_, err := b.TimeSeriesBufferRamp(context.Background(), dacadc.TimeSeriesRequest{
				DACChannels: []int{0}, ADCChannels: []int{0},
				StartVoltages: []float64{0}, EndVoltages: []float64{1},
				Steps: 2, DACPeriod: 1, ADCPeriod: 5})
			return err
		}},
		{"fast steps over budget", func(b *dacadc.Box) error {
			_, err := b.TimeSeriesBufferRamp2D(context.Background(), dacadc.TimeSeries2DRequest{
				FastDACChannels: []int{0}, SlowDACChannels: []int{1}, ADCChannels: []int{0},
				FastStart: []float64{0}, FastEnd: []float64{1}, SlowStart: []float64{0}, SlowEnd: []float64{1},
				FastSteps: budget + 1, SlowSteps: 2, DACPeriod: 1, ADCPeriod: 1})
			return err
		}},
		{"settling over budget", func(b *dacadc.Box) error {
			_, err := b.BufferRamp2D(context.Background(), dacadc.Raster2DRequest{
				FastDACChannels: []int{0}, SlowDACChannels: []int{1}, ADCChannels: []int{0},
				FastStart: []float64{0}, FastEnd: []float64{1}, SlowStart: []float64{0}, SlowEnd: []float64{1},
				FastSteps: budget - 1, SlowSteps: 2, SettlingTime: 25, Delay: 10, NumReadings: 1})
			return err
		}},
		{"measurements per step", func(b *dacadc.Box) error {
			_, err := b.BoxcarBufferRamp(context.Background(), dacadc.BoxcarRequest{
				DACChannels: []int{0}, ADCChannels: []int{0},
				StartVoltages1: []float64{0}, EndVoltages1: []float64{1},
				StartVoltages2: []float64{1}, EndVoltages2: []float64{0},
				FastSteps: 2, MeasurementsPerStep: 0, AveragingDepth: 1, ConversionTime: 100})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, m := newBox(t)
			err := tt.run(b)
			var perr *dacadc.ParameterError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParameterError, got %v", err)
			}
			if cmds := m.Commands(); len(cmds) != 0 {
				t.Errorf("invalid request reached the box: %v", cmds)
			}
		})
	}
}

func TestParameterErrorCollectsEveryViolation(t *testing.T) {
	b, _ := newBox(t)
	r := scenarioRamp()
	r.DACChannels = []int{9}
	r.EndVoltages = []float64{-11}
	r.Steps = 0
	_, err := b.BufferRamp(context.Background(), r)
	var perr *dacadc.ParameterError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParameterError, got %v", err)
	}
	if n := len(perr.Violations()); n != 3 {
		t.Errorf("expected 3 violations, got %d: %v", n, err)
	}
}

func TestBoxcarShortSequences(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}
	got := dacadc.Boxcar(data, 2, 10) // depth far beyond len/period
	want := []float64{3, 3, 4, 4, 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(data, dacadc.Boxcar(data, 2, 0)); diff != "" {
		t.Errorf("depth 0 should pass through (-want +got):\n%s", diff)
	}
	if got := dacadc.Boxcar(nil, 2, 3); len(got) != 0 {
		t.Errorf("expected empty output, got %v", got)
	}
}

func TestDisjointAndTimeSeriesLengths(t *testing.T) {
	b, _ := newBox(t)
	dis, err := b.BufferRampDis(context.Background(), dacadc.DisjointRampRequest{
		BufferRampRequest: dacadc.BufferRampRequest{
			DACChannels: []int{0}, ADCChannels: []int{0},
			StartVoltages: []float64{0}, EndVoltages: []float64{3},
			Steps: 4, Delay: 10,
		},
		ADCSteps: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]float64{{0, 3}}, dis); diff != "" {
		t.Errorf("disjoint (-want +got):\n%s", diff)
	}

	ts, err := b.TimeSeriesBufferRamp(context.Background(), dacadc.TimeSeriesRequest{
		DACChannels: []int{1}, ADCChannels: []int{1, 2},
		StartVoltages: []float64{0}, EndVoltages: []float64{7},
		Steps: 4, DACPeriod: 10, ADCPeriod: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 2 || len(ts[0]) != 8 || len(ts[1]) != 8 {
		t.Fatalf("expected 2 channels of 8 samples, got %d channels", len(ts))
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3, 4, 5, 6, 7}, ts[0]); diff != "" {
		t.Errorf("time series (-want +got):\n%s", diff)
	}
}
