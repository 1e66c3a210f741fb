package daq

import (
	"errors"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFits streams a raster to w as a single float32 image, one FITS row
// per slow step.  Rows shorter than the first are zero filled.
func WriteFits(w io.Writer, metadata []fitsio.Card, raster [][]float64) error {
	if len(raster) == 0 || len(raster[0]) == 0 {
		return errors.New("daq: empty raster")
	}
	width, height := len(raster[0]), len(raster)
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-32, []int{width, height})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	pix := make([]float32, width*height)
	for y, row := range raster {
		for x := 0; x < width && x < len(row); x++ {
			pix[y*width+x] = float32(row[x])
		}
	}
	err = im.Write(pix)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
