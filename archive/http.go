package archive

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"

	"github.com/cryolab/dacadc/generichttp"
	"github.com/cryolab/dacadc/generichttp/daq"
)

func init() {
	generichttp.RegisterStatusClassifier(func(err error) int {
		if errors.Is(err, ErrNotFound) {
			return http.StatusNotFound
		}
		return 0
	})
}

// HTTPArchive exposes an archive over HTTP
type HTTPArchive struct {
	DB *DB

	RouteTable generichttp.RouteTable
}

// NewHTTPArchive returns the archive routes,
// GET /archive, /archive/{id} and /archive/{id}/fits/{channel}
func NewHTTPArchive(db *DB) HTTPArchive {
	h := HTTPArchive{DB: db}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/archive"}:                     h.list,
		{Method: http.MethodGet, Path: "/archive/{id}"}:                h.get,
		{Method: http.MethodGet, Path: "/archive/{id}/fits/{channel}"}: h.fits,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPArchive) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPArchive) list(w http.ResponseWriter, r *http.Request) {
	s, err := h.DB.List()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.JSON(w, s)
}

func (h HTTPArchive) record(w http.ResponseWriter, r *http.Request) (Record, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "id must be a positive integer", http.StatusBadRequest)
		return Record{}, false
	}
	rec, err := h.DB.Get(id)
	if err != nil {
		generichttp.Error(w, err)
		return Record{}, false
	}
	return rec, true
}

func (h HTTPArchive) get(w http.ResponseWriter, r *http.Request) {
	if rec, ok := h.record(w, r); ok {
		generichttp.JSON(w, rec)
	}
}

func (h HTTPArchive) fits(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.record(w, r)
	if !ok {
		return
	}
	ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil {
		http.Error(w, "channel must be an integer", http.StatusBadRequest)
		return
	}
	raster, err := rec.Raster(ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cards := []fitsio.Card{
		{Name: "ACQID", Value: int(rec.ID), Comment: "archive id"},
		{Name: "KIND", Value: rec.Kind, Comment: "acquisition shape"},
		{Name: "NODE", Value: rec.Node},
		{Name: "ADCCHAN", Value: ch, Comment: "position in the ADC channel list"},
		{Name: "DATE-OBS", Value: rec.Time.Format("2006-01-02T15:04:05")},
	}
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=acq%d-ch%d.fits", rec.ID, ch))
	if err := daq.WriteFits(w, cards, raster); err != nil {
		generichttp.Error(w, err)
	}
}
