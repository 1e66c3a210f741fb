package dacadc_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cryolab/dacadc/dacadc"
)

// gatedMock holds its first read until gate is closed, keeping whatever
// command is in flight on the transport
type gatedMock struct {
	*dacadc.Mock
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedMock) ReadExact(n int) ([]byte, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.Mock.ReadExact(n)
}

// flakyMock loses the link once failAfter bytes have been read
type flakyMock struct {
	*dacadc.Mock
	failAfter int

	mu     sync.Mutex
	read   int
	resets int
}

var errLinkDown = errors.New("link down")

func (f *flakyMock) ReadExact(n int) ([]byte, error) {
	out, err := f.Mock.ReadExact(n)
	f.mu.Lock()
	f.read += len(out)
	f.mu.Unlock()
	return out, err
}

func (f *flakyMock) BytesAvailable() (int, error) {
	f.mu.Lock()
	down := f.read >= f.failAfter
	f.mu.Unlock()
	if down {
		return 0, errLinkDown
	}
	return f.Mock.BytesAvailable()
}

func (f *flakyMock) ResetInputBuffer() error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return f.Mock.ResetInputBuffer()
}

func (f *flakyMock) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func TestStopWhileQueuedCancelsRamp(t *testing.T) {
	cfg := testConfig()
	m := dacadc.NewMock(cfg)
	g := &gatedMock{Mock: m, gate: make(chan struct{}), entered: make(chan struct{})}
	b := dacadc.New(g, cfg)

	idn := make(chan error)
	go func() {
		_, err := b.Identification()
		idn <- err
	}()
	<-g.entered

	type result struct {
		data [][]float64
		err  error
	}
	done := make(chan result)
	go func() {
		data, err := b.BufferRamp(context.Background(), scenarioRamp())
		done <- result{data, err}
	}()
	waitFor(t, "ramp to queue", func() bool { return b.Status().Kind == "buffer" })
	if st := b.State(); st != dacadc.Idle {
		t.Fatalf("expected the queued ramp to be idle, got %s", st)
	}
	if err := b.StopRamp(); err != nil {
		t.Fatal(err)
	}
	close(g.gate)

	if err := <-idn; err != nil {
		t.Fatal(err)
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("a stopped ramp is not an error, got %v", res.err)
	}
	if len(res.data) != 2 || len(res.data[0]) != 0 || len(res.data[1]) != 0 {
		t.Errorf("expected two empty channels, got %v", res.data)
	}
	if st := b.State(); st != dacadc.Cancelled {
		t.Errorf("expected cancelled, got %s", st)
	}
	if diff := cmp.Diff([]string{"*IDN?"}, m.Commands()); diff != "" {
		t.Errorf("neither the ramp nor STOP should reach the box (-want +got):\n%s", diff)
	}
	if b.Ramping() {
		t.Error("box still reports a ramp in progress")
	}
}

func TestTransportFailureMidStream(t *testing.T) {
	cfg := testConfig()
	m := dacadc.NewMock(cfg)
	m.Chunk = 4
	f := &flakyMock{Mock: m, failAfter: 8}
	b := dacadc.New(f, cfg)

	data, err := b.BufferRamp(context.Background(), scenarioRamp())
	if !errors.Is(err, errLinkDown) {
		t.Fatalf("expected the transport error, got %v", err)
	}
	if data != nil {
		t.Errorf("expected no data from a broken stream, got %v", data)
	}
	if st := b.State(); st != dacadc.Failed {
		t.Errorf("expected failed, got %s", st)
	}
	if f.resetCount() < 1 {
		t.Error("expected the input buffer to be reset")
	}
	ramps := 0
	for _, c := range m.Commands() {
		if strings.HasPrefix(c, "BUFFER_RAMP,") {
			ramps++
		}
		if c == dacadc.StopCommand {
			t.Error("STOP written after the link failed")
		}
	}
	if ramps != 1 {
		t.Errorf("expected one ramp command, got %d in %v", ramps, m.Commands())
	}
	if b.Ramping() {
		t.Error("box still reports a ramp in progress")
	}
}
