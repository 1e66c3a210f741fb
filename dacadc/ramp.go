package dacadc

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/cryolab/dacadc/comm"
)

// BufferRamp runs a flat ramp and returns one sequence per ADC channel.
// If the ramp is stopped early the sequences are short, not padded.
func (b *Box) BufferRamp(ctx context.Context, r BufferRampRequest) ([][]float64, error) {
	return b.acquire1D(ctx, r)
}

// BufferRampDis runs a ramp whose ADCs are read on fewer steps than the DACs
// are updated
func (b *Box) BufferRampDis(ctx context.Context, r DisjointRampRequest) ([][]float64, error) {
	return b.acquire1D(ctx, r)
}

// TimeSeriesBufferRamp runs a ramp with independent DAC and ADC periods
func (b *Box) TimeSeriesBufferRamp(ctx context.Context, r TimeSeriesRequest) ([][]float64, error) {
	return b.acquire1D(ctx, r)
}

// TimeSeriesBufferRamp2D runs a time series raster and returns one entry per
// slow step, each holding one sequence per ADC channel
func (b *Box) TimeSeriesBufferRamp2D(ctx context.Context, r TimeSeries2DRequest) ([][][]float64, error) {
	return b.acquire(ctx, r)
}

// BufferRamp2D runs a settling-averaged raster
func (b *Box) BufferRamp2D(ctx context.Context, r Raster2DRequest) ([][][]float64, error) {
	return b.acquire(ctx, r)
}

// BoxcarBufferRamp runs a forward and back ramp.  When AveragingDepth is
// greater than one each channel is passed through Boxcar.
func (b *Box) BoxcarBufferRamp(ctx context.Context, r BoxcarRequest) ([][]float64, error) {
	data, err := b.acquire1D(ctx, r)
	if r.AveragingDepth > 1 {
		for c := range data {
			data[c] = Boxcar(data[c], r.period(), r.AveragingDepth)
		}
	}
	return data, err
}

// Ramping reports whether samples are being streamed
func (b *Box) Ramping() bool {
	b.smu.Lock()
	defer b.smu.Unlock()
	return b.session != nil && b.session.active.Load()
}

// State returns the state of the current or most recent acquisition
func (b *Box) State() State {
	return b.Status().State
}

// Status describes the current or most recent acquisition
func (b *Box) Status() Status {
	b.smu.Lock()
	defer b.smu.Unlock()
	if b.session != nil {
		return b.session.snapshot()
	}
	return b.last
}

// StopRamp aborts the acquisition in progress.  It does nothing if there is
// none and never fails; problems talking to the box are logged.
func (b *Box) StopRamp() error {
	b.smu.Lock()
	s := b.session
	b.smu.Unlock()
	if s == nil {
		return nil
	}
	prev, first := s.stop()
	if !first {
		return nil
	}
	if prev != CommandSent && prev != Streaming {
		// still queued behind another command, or already finishing;
		// the acquiring call sees the stop before it writes anything
		glog.V(1).Infof("dacadc: stop requested while %s", prev)
		return nil
	}
	glog.Info("dacadc: stopping ramp")
	if err := b.writeLine(StopCommand); err != nil {
		glog.Warningf("dacadc: sending %s: %v", StopCommand, err)
	}
	// the acquiring call observes the lowered flag, lets the box flush, and
	// discards the remainder before it releases the transport
	select {
	case <-s.done:
	case <-time.After(2*b.cfg.StopGrace + time.Second):
		glog.Warning("dacadc: timed out waiting for the acquisition to wind down")
	}
	return nil
}

func (b *Box) acquire1D(ctx context.Context, sh shape) ([][]float64, error) {
	rows, err := b.acquire(ctx, sh)
	if len(rows) == 0 {
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		return emptyChannels(sh.channels()), err
	}
	return rows[0], err
}

// claim makes s the session of the box, or fails with ErrBusy
func (b *Box) claim(s *session) error {
	b.smu.Lock()
	defer b.smu.Unlock()
	if b.session != nil {
		return ErrBusy
	}
	b.session = s
	return nil
}

func (b *Box) release(s *session) {
	b.smu.Lock()
	b.last = s.snapshot()
	b.session = nil
	b.smu.Unlock()
	close(s.done)
}

// acquire runs one buffered acquisition of any shape.  It returns one entry
// per completed row, plus a partial row if the acquisition was cut short.
func (b *Box) acquire(ctx context.Context, sh shape) ([][][]float64, error) {
	if err := sh.validate(b.cfg); err != nil {
		return nil, err
	}
	s := newSession(sh.kind(), sh.rows(), b.cfg.PollInterval)
	if err := b.claim(s); err != nil {
		return nil, err
	}
	defer b.release(s)

	b.mu.Lock()
	defer b.mu.Unlock()

	sent, err := b.sendCommand(s, sh.command())
	if !sent {
		s.setState(Cancelled)
		return [][][]float64{}, nil
	}
	if err != nil {
		s.setState(Failed)
		b.resetInput()
		return nil, err
	}
	s.begin()
	glog.Infof("dacadc: %s ramp started, %d rows of %d bytes", sh.kind(), sh.rows(), sh.samplesPerRow()*sh.channels()*sampleSize)

	fr := frameReader{t: b.t, s: s, sentinel: []byte(b.cfg.FailureSentinel), rxTerm: b.cfg.rxTerm()}
	rowBytes := sh.samplesPerRow() * sh.channels() * sampleSize
	out := make([][][]float64, 0, sh.rows())
	for row := 0; row < sh.rows(); row++ {
		buf, err := fr.drain(ctx, rowBytes)
		if err != nil {
			var acqErr *AcquisitionError
			if errors.As(err, &acqErr) || ctx.Err() == nil {
				// box failure or broken transport, the rows so far are not trusted
				s.active.Store(false)
				s.setState(Failed)
				b.resetInput()
				glog.Warningf("dacadc: %s acquisition failed: %v", sh.kind(), err)
				return nil, err
			}
			// deadline or caller cancellation
			out = appendPartial(out, buf, sh.channels(), b.cfg.order())
			b.cancelFromInside(s)
			return out, err
		}
		if len(buf) < rowBytes {
			out = appendPartial(out, buf, sh.channels(), b.cfg.order())
			s.setState(Cancelled)
			b.discardResidual()
			return out, nil
		}
		out = append(out, Demux(buf, sh.channels(), b.cfg.order()))
		s.rowDone(len(buf))
	}
	s.active.Store(false)
	s.setState(Completed)
	b.resetInput()
	glog.Infof("dacadc: %s ramp completed", sh.kind())
	return out, nil
}

// sendCommand writes the ramp command unless s was stopped while it was
// queued.  The write lock is held across the check so a STOP can not
// overtake the command on the wire.
func (b *Box) sendCommand(s *session, cmd string) (sent bool, err error) {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if !s.send() {
		return false, nil
	}
	if err := comm.WriteLine(b.t, cmd, b.cfg.TxTerminator); err != nil {
		return true, errors.Wrapf(err, "dacadc: writing %s", verb(cmd))
	}
	return true, nil
}

// cancelFromInside stops the box on behalf of the acquiring call itself
func (b *Box) cancelFromInside(s *session) {
	if err := b.writeLine(StopCommand); err != nil {
		glog.Warningf("dacadc: sending %s: %v", StopCommand, err)
	}
	s.cancel()
	s.setState(Cancelled)
	b.discardResidual()
}

// discardResidual waits for the box to flush after STOP and throws away
// whatever it sent
func (b *Box) discardResidual() {
	time.Sleep(b.cfg.StopGrace)
	n, err := b.t.BytesAvailable()
	if err != nil {
		glog.Warningf("dacadc: polling after stop: %v", err)
		return
	}
	if n == 0 {
		return
	}
	if _, err := b.t.ReadExact(n); err != nil {
		glog.Warningf("dacadc: discarding %d bytes after stop: %v", n, err)
		return
	}
	glog.V(1).Infof("dacadc: discarded %d bytes after stop", n)
}

// resetInput defensively clears the receive buffer between acquisitions
func (b *Box) resetInput() {
	if err := b.t.ResetInputBuffer(); err != nil {
		glog.Warningf("dacadc: resetting input buffer: %v", err)
	}
}

// appendPartial appends a partial row when it holds at least one sample set
func appendPartial(out [][][]float64, buf []byte, channels int, order binary.ByteOrder) [][][]float64 {
	if len(buf) < sampleSize*channels {
		return out
	}
	return append(out, Demux(buf, channels, order))
}

func emptyChannels(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{}
	}
	return out
}
