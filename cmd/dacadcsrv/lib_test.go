package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cryolab/dacadc/dacadc"
	"github.com/cryolab/dacadc/archive"
)

func mockConfig() Config {
	c := DefaultConfig()
	c.Mock = true
	second := c.Nodes[0]
	second.Endpoint = "cryo/second/"
	c.Nodes = append(c.Nodes, second)
	return c
}

func TestBuildMuxServesEveryNode(t *testing.T) {
	db, err := archive.Open(filepath.Join(t.TempDir(), "acq.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mux, closers, err := BuildMux(mockConfig(), db)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/endpoints")
	if err != nil {
		t.Fatal(err)
	}
	var graph map[string][]string
	json.NewDecoder(resp.Body).Decode(&graph)
	resp.Body.Close()
	for _, ep := range []string{"/", "/dacadc", "/cryo/second"} {
		if len(graph[ep]) == 0 {
			t.Errorf("no routes listed for %s", ep)
		}
	}

	for _, node := range []string{"/dacadc", "/cryo/second"} {
		resp, err := http.Get(srv.URL + node + "/idn")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s/idn: expected 200, got %d", node, resp.StatusCode)
		}
	}

	body, _ := json.Marshal(dacadc.BufferRampRequest{
		DACChannels: []int{0}, ADCChannels: []int{0},
		StartVoltages: []float64{0}, EndVoltages: []float64{1}, Steps: 2,
	})
	resp, err = http.Post(srv.URL+"/cryo/second/ramp/buffer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	list, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Node != "cryo/second" {
		t.Errorf("expected one record from cryo/second, got %+v", list)
	}
}

func TestBuildMuxRejectsDuplicateEndpoints(t *testing.T) {
	c := mockConfig()
	c.Nodes[1].Endpoint = "/dacadc/"
	_, closers, err := BuildMux(c, nil)
	for _, cl := range closers {
		cl.Close()
	}
	if err == nil {
		t.Error("expected an error for two nodes on one endpoint")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := writeCSV(&buf, []int{0, 3}, [][]float64{{0, 0.5, 1}, {2, 2.25, 2.5}})
	if err != nil {
		t.Fatal(err)
	}
	want := "# adc 0,3\n0,2\n0.5,2.25\n1,2.5\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
