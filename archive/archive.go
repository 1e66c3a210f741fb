// Package archive keeps completed acquisitions in a bbolt database so they
// can be fetched again, or exported as FITS, after the HTTP request that
// produced them has returned.
package archive

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	pkgerrors "github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// BucketName is the bucket all records live in
const BucketName = "acquisitions"

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = errors.New("archive: record not found")

// Summary is the part of a Record returned by List
type Summary struct {
	ID   uint64    `json:"id"`
	Node string    `json:"node,omitempty"`
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
}

// Record is one archived acquisition.  Data holds [][]float64 for the flat
// kinds and [][][]float64 for the 2D kinds
type Record struct {
	Summary
	Request json.RawMessage `json:"request"`
	Data    json.RawMessage `json:"data"`
}

// TwoD returns true if the record holds a raster of rows
func (r Record) TwoD() bool {
	return strings.HasPrefix(r.Kind, "2d") || strings.HasSuffix(r.Kind, "-2d")
}

// Raster returns one channel of a 2D record as rows of the fast axis
func (r Record) Raster(channel int) ([][]float64, error) {
	if !r.TwoD() {
		return nil, fmt.Errorf("archive: record %d is a %s acquisition, not a raster", r.ID, r.Kind)
	}
	var rows [][][]float64
	if err := json.Unmarshal(r.Data, &rows); err != nil {
		return nil, pkgerrors.Wrapf(err, "archive: decoding record %d", r.ID)
	}
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if channel < 0 || channel >= len(row) {
			return nil, fmt.Errorf("archive: record %d has no channel %d", r.ID, channel)
		}
		out = append(out, row[channel])
	}
	return out, nil
}

// DB is an archive backed by a bbolt file
type DB struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the archive at path
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "archive: opening %s", path)
	}
	if err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	glog.Infof("archive: opened %s", path)
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the underlying database
func (d *DB) Close() error {
	return d.db.Close()
}

// Put stores an acquisition and returns the id assigned to it
func (d *DB) Put(node, kind string, request, data interface{}) (uint64, error) {
	req, err := json.Marshal(request)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "archive: encoding request")
	}
	dat, err := json.Marshal(data)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "archive: encoding data")
	}
	rec := Record{
		Summary: Summary{Node: node, Kind: kind, Time: d.now().UTC()},
		Request: req,
		Data:    dat,
	}
	err = d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = id
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key(id), buf)
	})
	if err != nil {
		return 0, err
	}
	glog.V(1).Infof("archive: stored %s acquisition from %q as %d", kind, node, rec.ID)
	return rec.ID, nil
}

// Get returns the record with the given id
func (d *DB) Get(id uint64) (Record, error) {
	var rec Record
	err := d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketName)).Get(key(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

// List returns a summary of every record, oldest first
func (d *DB) List() ([]Summary, error) {
	out := []Summary{}
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketName)).ForEach(func(_, v []byte) error {
			var s Summary
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	return out, err
}

// Node returns a Recorder which stores acquisitions under the given node name
func (d *DB) Node(name string) Recorder {
	return Recorder{db: d, node: name}
}

// Recorder archives acquisitions for one node
type Recorder struct {
	db   *DB
	node string
}

// Archive stores one acquisition
func (r Recorder) Archive(kind string, request, data interface{}) (uint64, error) {
	return r.db.Put(r.node, kind, request, data)
}

func key(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}
