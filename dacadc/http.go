package dacadc

import (
	"context"
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/golang/glog"

	"github.com/cryolab/dacadc/generichttp"
	"github.com/cryolab/dacadc/generichttp/ascii"
	"github.com/cryolab/dacadc/generichttp/daq"
	"github.com/cryolab/dacadc/util"
)

func init() {
	generichttp.RegisterStatusClassifier(func(err error) int {
		var perr *ParameterError
		switch {
		case errors.As(err, &perr):
			return http.StatusBadRequest
		case errors.Is(err, ErrBusy):
			return http.StatusConflict
		}
		return 0
	})
}

// Archiver stores a finished acquisition and returns its id
type Archiver interface {
	Archive(kind string, request, data interface{}) (uint64, error)
}

// HTTPWrapper provides HTTP bindings on top of a Box
type HTTPWrapper struct {
	// Box is the underlying device
	Box *Box

	// Archiver, if not nil, receives every acquisition that returns data
	Archiver Archiver

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured.
// a may be nil
func NewHTTPWrapper(b *Box, a Archiver) HTTPWrapper {
	w := HTTPWrapper{Box: b, Archiver: a}
	rt := daq.NewHTTPDAC(b).RT()
	post := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodPost, Path: path}
	}
	get := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodGet, Path: path}
	}

	rt[post("/ramp/buffer")] = rampRoute(w, b.BufferRamp)
	rt[post("/ramp/buffer-dis")] = rampRoute(w, b.BufferRampDis)
	rt[post("/ramp/time-series")] = rampRoute(w, b.TimeSeriesBufferRamp)
	rt[post("/ramp/time-series-2d")] = rampRoute(w, b.TimeSeriesBufferRamp2D)
	rt[post("/ramp/2d")] = rampRoute(w, b.BufferRamp2D)
	rt[post("/ramp/boxcar")] = rampRoute(w, b.BoxcarBufferRamp)
	rt[post("/ramp/stop")] = generichttp.Do(b.StopRamp)
	rt[get("/ramp/state")] = w.HTTPStatus

	rt[post("/ramp1")] = w.HTTPRamp1
	rt[post("/ramp2")] = w.HTTPRamp2
	rt[get("/idn")] = generichttp.GetString(b.Identification)
	rt[get("/ready")] = generichttp.GetString(b.Ready)
	rt[get("/serial-number")] = generichttp.GetString(b.SerialNumber)
	rt[get("/bytes-waiting")] = generichttp.GetInt(b.BytesWaiting)
	rt[get("/inputs")] = w.HTTPInputs
	rt[post("/initialize")] = generichttp.GetString(b.Initialize)
	rt[post("/calibrate/{kind}")] = w.HTTPCalibrate
	rt[post("/delay-unit")] = w.HTTPDelayUnit
	rt[post("/full-scale")] = w.HTTPFullScale
	rt[get("/offset-gain")] = w.HTTPOffsetAndGain
	rt[post("/offset-gain")] = w.HTTPSetOffsetAndGain
	rt[post("/dac-code")] = w.HTTPDACCode
	rt[post("/timeout")] = generichttp.SetFloat(func(secs float64) error {
		return b.SetTimeout(util.SecsToDuration(secs))
	})
	ascii.InjectRawComm(rt, b)
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// RampResponse is the reply to every /ramp/ route.  Data is [][]float64 for
// flat ramps and [][][]float64 for rasters; ID is set when it was archived.
type RampResponse struct {
	Data  interface{} `json:"data"`
	ID    uint64      `json:"id,omitempty"`
	State State       `json:"state"`
}

// rampRoute decodes a request of type R from the body, runs it for as long
// as the client stays connected, and replies with a RampResponse
func rampRoute[R shape, D any](h HTTPWrapper, run func(context.Context, R) (D, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req R
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := run(r.Context(), req)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		resp := RampResponse{Data: data, State: h.Box.State()}
		if h.Archiver != nil {
			id, err := h.Archiver.Archive(req.kind(), req, data)
			if err != nil {
				glog.Warningf("dacadc: archiving %s acquisition: %v", req.kind(), err)
			} else {
				resp.ID = id
			}
		}
		generichttp.JSON(w, resp)
	}
}

// HTTPStatus replies with the Status of the current or last acquisition
func (h HTTPWrapper) HTTPStatus(w http.ResponseWriter, r *http.Request) {
	generichttp.JSON(w, h.Box.Status())
}

type ramp1 struct {
	Channel int     `json:"channel"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Steps   int     `json:"steps"`
	Delay   int     `json:"delay"`
}

type ramp2 struct {
	Channels [2]int     `json:"channels"`
	Start    [2]float64 `json:"start"`
	End      [2]float64 `json:"end"`
	Steps    int        `json:"steps"`
	Delay    int        `json:"delay"`
}

type dacCode struct {
	Channel int `json:"channel"`
	Code    int `json:"code"`
}

type osg struct {
	Values []float64 `json:"values"`
}

// HTTPRamp1 ramps one DAC channel without acquiring.  The body is
// {"channel", "start", "end", "steps", "delay"}
func (h HTTPWrapper) HTTPRamp1(w http.ResponseWriter, r *http.Request) {
	var in ramp1
	if !decode(w, r, &in) {
		return
	}
	replyString(w, r)(h.Box.Ramp1(in.Channel, in.Start, in.End, in.Steps, in.Delay))
}

// HTTPRamp2 ramps two DAC channels together without acquiring
func (h HTTPWrapper) HTTPRamp2(w http.ResponseWriter, r *http.Request) {
	var in ramp2
	if !decode(w, r, &in) {
		return
	}
	replyString(w, r)(h.Box.Ramp2(in.Channels[0], in.Channels[1],
		in.Start[0], in.Start[1], in.End[0], in.End[1], in.Steps, in.Delay))
}

// HTTPCalibrate runs the calibration named in the URL
func (h HTTPWrapper) HTTPCalibrate(w http.ResponseWriter, r *http.Request) {
	replyString(w, r)(h.Box.Calibrate(chi.URLParam(r, "kind")))
}

// HTTPDelayUnit sets the delay unit from {"int": 0 or 1}
func (h HTTPWrapper) HTTPDelayUnit(w http.ResponseWriter, r *http.Request) {
	var in generichttp.IntT
	if !decode(w, r, &in) {
		return
	}
	replyString(w, r)(h.Box.SetDelayUnit(in.Int))
}

// HTTPFullScale sets the full scale voltage from {"f64": volts}
func (h HTTPWrapper) HTTPFullScale(w http.ResponseWriter, r *http.Request) {
	var in generichttp.FloatT
	if !decode(w, r, &in) {
		return
	}
	replyString(w, r)(h.Box.SetFullScale(in.F64))
}

// HTTPInputs replies with every ADC channel as a JSON array of volts
func (h HTTPWrapper) HTTPInputs(w http.ResponseWriter, r *http.Request) {
	vs, err := h.Box.Inputs()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.JSON(w, vs)
}

// HTTPOffsetAndGain replies with the box's offset and gain lines as a JSON array
func (h HTTPWrapper) HTTPOffsetAndGain(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Box.OffsetAndGain()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.JSON(w, lines)
}

// HTTPSetOffsetAndGain writes offsets and gains from {"values": [...]}
func (h HTTPWrapper) HTTPSetOffsetAndGain(w http.ResponseWriter, r *http.Request) {
	var in osg
	if !decode(w, r, &in) {
		return
	}
	lines, err := h.Box.SetOffsetAndGain(in.Values)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.JSON(w, lines)
}

// HTTPDACCode writes a raw code from {"channel", "code"}
func (h HTTPWrapper) HTTPDACCode(w http.ResponseWriter, r *http.Request) {
	var in dacCode
	if !decode(w, r, &in) {
		return
	}
	replyString(w, r)(h.Box.SetDACCode(in.Channel, in.Code))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// replyString returns a function that answers with {"str": resp} or the error
func replyString(w http.ResponseWriter, r *http.Request) func(string, error) {
	return func(resp string, err error) {
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.String, String: resp}
		hp.EncodeAndRespond(w, r)
	}
}
