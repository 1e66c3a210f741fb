package dacadc

import (
	"encoding/binary"
	"math"
)

// Demux splits a stream of float32 samples interleaved round robin over
// channels into one sequence per channel.  A trailing partial sample set is
// dropped.
func Demux(buf []byte, channels int, order binary.ByteOrder) [][]float64 {
	if channels < 1 {
		return nil
	}
	n := len(buf) / (sampleSize * channels)
	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			off := sampleSize * (i*channels + c)
			bits := order.Uint32(buf[off : off+sampleSize])
			out[c][i] = float64(math.Float32frombits(bits))
		}
	}
	return out
}

// Interleave is the inverse of Demux.  All channels must be the same length.
func Interleave(channels [][]float64, order binary.ByteOrder) []byte {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	buf := make([]byte, sampleSize*n*len(channels))
	for i := 0; i < n; i++ {
		for c, ch := range channels {
			off := sampleSize * (i*len(channels) + c)
			order.PutUint32(buf[off:off+sampleSize], math.Float32bits(float32(ch[i])))
		}
	}
	return buf
}
