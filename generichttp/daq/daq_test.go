package daq

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
)

type fakeDAC struct {
	out map[int]float64
}

func (f *fakeDAC) Output(ch int, v float64) error {
	if ch > 3 {
		return errors.New("no such channel")
	}
	f.out[ch] = v
	return nil
}

func (f *fakeDAC) GetOutput(ch int) (float64, error) { return f.out[ch], nil }

func TestNewHTTPDACPicksInterfaces(t *testing.T) {
	d := &fakeDAC{out: map[int]float64{}}
	rt := NewHTTPDAC(d).RT()
	got := strings.Join(rt.Endpoints(), ";")
	if got != "POST /output;GET /output/{channel}" {
		t.Errorf("unexpected routes %s", got)
	}

	r := chi.NewRouter()
	rt.Bind(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/output", strings.NewReader(`{"channel": 2, "voltage": 1.25}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/output/2", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"f64":1.25}` {
		t.Errorf("unexpected readback %s", body)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/output/two", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("non integer channel: expected 400, got %d", w.Code)
	}
}

func TestWriteFits(t *testing.T) {
	var buf bytes.Buffer
	raster := [][]float64{{1, 2, 3}, {4, 5}}
	err := WriteFits(&buf, []fitsio.Card{{Name: "KIND", Value: "2d"}}, raster)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("SIMPLE")) {
		t.Error("output does not start with a primary header")
	}
	if buf.Len()%2880 != 0 {
		t.Errorf("expected whole FITS blocks, got %d bytes", buf.Len())
	}
	if err := WriteFits(&buf, nil, nil); err == nil {
		t.Error("expected an error for an empty raster")
	}
}
