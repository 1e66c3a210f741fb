// Package daq provides a generic HTTP interface to ADC and DAC devices
//
// This is not the last word in speed, due to HTTP having reasonable latency in
// most client languages, but it is the last word in ease of use.
package daq

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/cryolab/dacadc/generichttp"
)

// DAC is a model for simple digital to analog converter
type DAC interface {
	// Output sends a voltage on a given channel
	Output(int, float64) error
}

// HTTPBasicDAC adds routes for basic DAC operation to a table
func HTTPBasicDAC(iface DAC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}] = Output(iface)
}

type channelVoltage struct {
	Channel int `json:"channel"`

	Voltage float64 `json:"voltage"`
}

// Output returns an HTTP handlerfunc that will write a voltage to a channel
func Output(d DAC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelVoltage
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = d.Output(input.Channel, input.Voltage)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Readback is a DAC which can report the voltage it is set to
type Readback interface {
	// GetOutput returns the voltage a channel is set to
	GetOutput(int) (float64, error)
}

// HTTPReadback adds the readback route to a table
func HTTPReadback(iface Readback, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/output/{channel}"}] = GetOutput(iface)
}

// GetOutput returns an HTTP handlerfunc that reads back the voltage of the
// channel in the URL
func GetOutput(d Readback) http.HandlerFunc {
	return channelFloat(d.GetOutput)
}

// ADC is a model for a simple analog to digital converter
type ADC interface {
	// Input reads a voltage from a given channel
	Input(int) (float64, error)
}

// HTTPADC adds the input route to a table
func HTTPADC(iface ADC, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/input/{channel}"}] = Input(iface)
}

// Input returns an HTTP handlerfunc that reads the channel in the URL
func Input(a ADC) http.HandlerFunc {
	return channelFloat(a.Input)
}

// ConversionTimer is an ADC whose per channel conversion time can be set
type ConversionTimer interface {
	// SetConversionTime sets the conversion time of a channel in
	// microseconds and returns the value the converter settled on
	SetConversionTime(int, float64) (float64, error)
}

// HTTPConversionTimer adds the conversion time route to a table
func HTTPConversionTimer(iface ConversionTimer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/conversion-time"}] = SetConversionTime(iface)
}

type channelTime struct {
	Channel int `json:"channel"`

	Time float64 `json:"time"`
}

// SetConversionTime returns an HTTP handlerfunc that sets the conversion
// time of a channel and replies with the time in use, as {"f64": value}
func SetConversionTime(c ConversionTimer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input channelTime
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t, err := c.SetConversionTime(input.Channel, input.Time)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: t}
		hp.EncodeAndRespond(w, r)
	}
}

// channelFloat adapts a per channel getter to a handler reading the
// {channel} URL parameter
func channelFloat(fcn func(int) (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
		if err != nil {
			http.Error(w, "channel must be an integer", http.StatusBadRequest)
			return
		}
		f, err := fcn(ch)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// HTTPDAC is a type that allows setting up a DAC satisfying any combination
// of the interfaces in this package to an HTTP interface
type HTTPDAC struct {
	d DAC

	RouteTable generichttp.RouteTable
}

// NewHTTPDAC sets up an HTTP interface to a DAC
func NewHTTPDAC(d DAC) HTTPDAC {
	w := HTTPDAC{d: d}
	rt := generichttp.RouteTable{}
	HTTPBasicDAC(d, rt)
	if rd, ok := (d).(Readback); ok {
		HTTPReadback(rd, rt)
	}
	if a, ok := (d).(ADC); ok {
		HTTPADC(a, rt)
	}
	if ct, ok := (d).(ConversionTimer); ok {
		HTTPConversionTimer(ct, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPDAC) RT() generichttp.RouteTable {
	return h.RouteTable
}
