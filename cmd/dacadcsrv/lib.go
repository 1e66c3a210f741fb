package main

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/cryolab/dacadc/dacadc"
	"github.com/cryolab/dacadc/archive"
	"github.com/cryolab/dacadc/comm"
	"github.com/cryolab/dacadc/generichttp"
	"github.com/cryolab/dacadc/server/middleware/locker"
)

// NodeSetup describes one box and where its routes are served
type NodeSetup struct {
	// Addr holds the network or filesystem address of the box,
	// e.g. 192.168.100.123:2006 for a box connected to port 6
	// on a digi portserver, or /dev/ttyACM0 for the box's USB serial port
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Endpoint is the path the routes from this box will be served on,
	// ex. Endpoint="/cryo/dacadc" produces /cryo/dacadc/ramp/buffer, etc.
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Serial determines if the connection is serial (True) or TCP (False)
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Backend is the serial implementation, "term" or "tarm"
	Backend string `koanf:"Backend" yaml:"Backend"`

	Baud int `koanf:"Baud" yaml:"Baud"`

	Timeout time.Duration `koanf:"Timeout" yaml:"Timeout"`

	// Mock replaces this box with a simulated one
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Args describes the box's firmware
	Args dacadc.Config `koanf:"Args" yaml:"Args"`
}

// Config is the server configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock simulates every box
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Archive is the path of the acquisition archive, empty disables it
	Archive string `koanf:"Archive" yaml:"Archive"`

	// Nodes is the list of boxes to set up
	Nodes []NodeSetup `koanf:"Nodes" yaml:"Nodes"`
}

// DefaultConfig is one box on the first USB serial port
func DefaultConfig() Config {
	return Config{
		Addr:    ":8000",
		Archive: "dacadcsrv.db",
		Nodes: []NodeSetup{{
			Addr:     "/dev/ttyACM0",
			Endpoint: "/dacadc",
			Serial:   true,
			Baud:     comm.DefaultBaud,
			Timeout:  comm.DefaultTimeout,
			Args:     dacadc.DefaultConfig(),
		}},
	}
}

func (n NodeSetup) open(mock bool) (*dacadc.Box, error) {
	if mock || n.Mock {
		glog.Infof("simulating the box at %s", n.Endpoint)
		return dacadc.New(dacadc.NewMock(n.Args), n.Args), nil
	}
	return dacadc.Open(comm.Config{
		Addr:    n.Addr,
		Serial:  n.Serial,
		Backend: n.Backend,
		Baud:    n.Baud,
		Timeout: n.Timeout,
	}, n.Args)
}

// BuildMux opens every box in c and constructs a chi router serving each of
// them under its endpoint.  The router also serves /endpoints, which returns
// a map of endpoint to route list as JSON, and the archive routes when db is
// not nil.  The returned closers release the boxes.
func BuildMux(c Config, db *archive.DB) (chi.Router, []io.Closer, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	var closers []io.Closer

	if db != nil {
		rt := archive.NewHTTPArchive(db).RT()
		supergraph["/"] = rt.Endpoints()
		rt.Bind(root)
	}

	for _, node := range c.Nodes {
		// prepare the URL, "cryo/dacadc/" => "/cryo/dacadc"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if _, dup := supergraph[hndlS]; dup || hndlS == "" {
			return nil, closers, errors.Errorf("endpoint %q is empty or used twice", node.Endpoint)
		}
		box, err := node.open(c.Mock)
		if err != nil {
			return nil, closers, errors.Wrapf(err, "opening the box for %s", hndlS)
		}
		closers = append(closers, box)

		var arch dacadc.Archiver
		if db != nil {
			arch = db.Node(strings.TrimPrefix(hndlS, "/"))
		}
		httper := dacadc.NewHTTPWrapper(box, arch)

		lock := locker.New()
		locker.Inject(httper.RT(), lock)

		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.JSON(w, supergraph)
	})
	return root, closers, nil
}
