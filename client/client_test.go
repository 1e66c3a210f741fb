package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.com/cryolab/dacadc/dacadc"
	"github.com/cryolab/dacadc/archive"
	"github.com/cryolab/dacadc/server/middleware/locker"
)

func newNode(t *testing.T) (*httptest.Server, *dacadc.Mock) {
	t.Helper()
	cfg := dacadc.DefaultConfig()
	m := dacadc.NewMock(cfg)
	box := dacadc.New(m, cfg)
	db, err := archive.Open(filepath.Join(t.TempDir(), "acq.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	root := chi.NewRouter()
	archive.NewHTTPArchive(db).RT().Bind(root)
	l := locker.New()
	rt := dacadc.NewHTTPWrapper(box, db.Node("box")).RT()
	locker.Inject(rt, l)
	root.Route("/box", func(r chi.Router) {
		r.Use(l.Check)
		rt.Bind(r)
	})
	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)
	return srv, m
}

func TestClientRampIsArchived(t *testing.T) {
	srv, _ := newNode(t)
	c := New(srv.URL + "/box/")
	out, err := c.BufferRamp(context.Background(), dacadc.BufferRampRequest{
		DACChannels: []int{0}, ADCChannels: []int{0},
		StartVoltages: []float64{-1}, EndVoltages: []float64{1},
		Steps: 3, Delay: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]float64{{-1, 0, 1}}, out.Data); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if out.State != dacadc.Completed {
		t.Errorf("expected completed, got %s", out.State)
	}
	list, err := Archived(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != out.ID || list[0].Node != "box" {
		t.Errorf("unexpected archive listing %+v for id %d", list, out.ID)
	}
	st, err := c.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != dacadc.Completed || st.Kind != "buffer" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestClientRaster(t *testing.T) {
	srv, _ := newNode(t)
	c := New(srv.URL + "/box")
	out, err := c.BufferRamp2D(context.Background(), dacadc.Raster2DRequest{
		FastDACChannels: []int{0}, SlowDACChannels: []int{1}, ADCChannels: []int{1},
		FastStart: []float64{0}, FastEnd: []float64{1}, SlowStart: []float64{0}, SlowEnd: []float64{1},
		FastSteps: 2, SlowSteps: 2, SettlingTime: 10, Delay: 10, NumReadings: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][][]float64{{{0, 0}}, {{1, 1}}}
	if diff := cmp.Diff(want, out.Data); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestClientErrors(t *testing.T) {
	srv, m := newNode(t)
	c := New(srv.URL + "/box")
	_, err := c.BufferRamp(context.Background(), dacadc.BufferRampRequest{ADCChannels: []int{9}})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("expected a 400 StatusError, got %v", err)
	}

	if err := c.Lock(true); err != nil {
		t.Fatal(err)
	}
	err = c.Output(0, 1)
	if !errors.As(err, &se) || se.Code != http.StatusLocked {
		t.Errorf("expected a 423 StatusError while locked, got %v", err)
	}
	if err := c.StopRamp(); err != nil {
		t.Errorf("stop should pass the lock: %v", err)
	}
	if err := c.Lock(false); err != nil {
		t.Fatal(err)
	}
	if err := c.Output(0, 1); err != nil {
		t.Fatal(err)
	}
	v, err := c.Input(0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("expected loopback of 1 V, got %v", v)
	}
	idn, err := c.Identification()
	if err != nil || idn == "" {
		t.Errorf("identification: %q, %v", idn, err)
	}
	if _, err := c.Raw("NOP"); err != nil {
		t.Error(err)
	}
	if n := len(m.Commands()); n != 4 {
		t.Errorf("expected 4 commands to reach the box, got %d: %v", n, m.Commands())
	}
}
