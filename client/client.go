// Package client talks to a dacadcsrv node over HTTP
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req"

	"github.com/cryolab/dacadc/dacadc"
	"github.com/cryolab/dacadc/archive"
	"github.com/cryolab/dacadc/generichttp"
)

// StatusError is returned when the server answers with anything but 200
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Msg)
}

// Ramp1D is the reply to a flat ramp
type Ramp1D struct {
	Data  [][]float64  `json:"data"`
	ID    uint64       `json:"id"`
	State dacadc.State `json:"state"`
}

// Ramp2D is the reply to a raster
type Ramp2D struct {
	Data  [][][]float64 `json:"data"`
	ID    uint64        `json:"id"`
	State dacadc.State  `json:"state"`
}

// Client is an HTTP client for one node
type Client struct {
	// URL is the root of the node, e.g. http://localhost:8000/dacadc
	URL string

	r *req.Req
}

// New returns a client for the node at url
func New(url string) *Client {
	return &Client{URL: strings.TrimSuffix(url, "/"), r: req.New()}
}

func (c *Client) url(path string) string {
	return c.URL + path
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	args := []interface{}{ctx}
	if body != nil {
		args = append(args, req.BodyJSON(body))
	}
	resp, err := c.r.Do(method, c.url(path), args...)
	if err != nil {
		return err
	}
	if code := resp.Response().StatusCode; code != http.StatusOK {
		return &StatusError{Code: code, Msg: strings.TrimSpace(resp.String())}
	}
	if out != nil {
		return resp.ToJSON(out)
	}
	return nil
}

// BufferRamp runs a flat ramp on the node
func (c *Client) BufferRamp(ctx context.Context, r dacadc.BufferRampRequest) (Ramp1D, error) {
	var out Ramp1D
	err := c.do(ctx, http.MethodPost, "/ramp/buffer", r, &out)
	return out, err
}

// BufferRampDis runs a disjoint rate ramp on the node
func (c *Client) BufferRampDis(ctx context.Context, r dacadc.DisjointRampRequest) (Ramp1D, error) {
	var out Ramp1D
	err := c.do(ctx, http.MethodPost, "/ramp/buffer-dis", r, &out)
	return out, err
}

// TimeSeriesBufferRamp runs a time series ramp on the node
func (c *Client) TimeSeriesBufferRamp(ctx context.Context, r dacadc.TimeSeriesRequest) (Ramp1D, error) {
	var out Ramp1D
	err := c.do(ctx, http.MethodPost, "/ramp/time-series", r, &out)
	return out, err
}

// BoxcarBufferRamp runs a boxcar ramp on the node
func (c *Client) BoxcarBufferRamp(ctx context.Context, r dacadc.BoxcarRequest) (Ramp1D, error) {
	var out Ramp1D
	err := c.do(ctx, http.MethodPost, "/ramp/boxcar", r, &out)
	return out, err
}

// TimeSeriesBufferRamp2D runs a time series raster on the node
func (c *Client) TimeSeriesBufferRamp2D(ctx context.Context, r dacadc.TimeSeries2DRequest) (Ramp2D, error) {
	var out Ramp2D
	err := c.do(ctx, http.MethodPost, "/ramp/time-series-2d", r, &out)
	return out, err
}

// BufferRamp2D runs a settling-averaged raster on the node
func (c *Client) BufferRamp2D(ctx context.Context, r dacadc.Raster2DRequest) (Ramp2D, error) {
	var out Ramp2D
	err := c.do(ctx, http.MethodPost, "/ramp/2d", r, &out)
	return out, err
}

// StopRamp stops whatever the node is acquiring
func (c *Client) StopRamp() error {
	return c.do(context.Background(), http.MethodPost, "/ramp/stop", nil, nil)
}

// Status returns the state of the node's current or last acquisition
func (c *Client) Status() (dacadc.Status, error) {
	var st dacadc.Status
	err := c.do(context.Background(), http.MethodGet, "/ramp/state", nil, &st)
	return st, err
}

// Output sets a DAC channel
func (c *Client) Output(ch int, v float64) error {
	body := map[string]interface{}{"channel": ch, "voltage": v}
	return c.do(context.Background(), http.MethodPost, "/output", body, nil)
}

// Input reads an ADC channel
func (c *Client) Input(ch int) (float64, error) {
	var f generichttp.FloatT
	err := c.do(context.Background(), http.MethodGet, fmt.Sprintf("/input/%d", ch), nil, &f)
	return f.F64, err
}

// Inputs reads every ADC channel
func (c *Client) Inputs() ([]float64, error) {
	var vs []float64
	err := c.do(context.Background(), http.MethodGet, "/inputs", nil, &vs)
	return vs, err
}

// Identification returns the box's identification string
func (c *Client) Identification() (string, error) {
	var s generichttp.StrT
	err := c.do(context.Background(), http.MethodGet, "/idn", nil, &s)
	return s.Str, err
}

// Raw sends a command verbatim and returns the reply
func (c *Client) Raw(cmd string) (string, error) {
	var s generichttp.StrT
	err := c.do(context.Background(), http.MethodPost, "/raw", generichttp.StrT{Str: cmd}, &s)
	return s.Str, err
}

// Lock locks or unlocks the node
func (c *Client) Lock(locked bool) error {
	return c.do(context.Background(), http.MethodPost, "/lock", generichttp.BoolT{Bool: locked}, nil)
}

// Archived lists the acquisitions the server has archived.  root is the
// server root, not a node URL.
func Archived(root string) ([]archive.Summary, error) {
	var out []archive.Summary
	err := New(root).do(context.Background(), http.MethodGet, "/archive", nil, &out)
	return out, err
}
