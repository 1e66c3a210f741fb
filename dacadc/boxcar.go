package dacadc

import "gonum.org/v1/gonum/stat"

// Boxcar averages each sample with the samples at the same position in the
// following depth-1 blocks of length period.  Near the end, where fewer
// blocks remain, the mean of those available is used.  The window looks
// forward only, matching the block structure the box emits.
func Boxcar(data []float64, period, depth int) []float64 {
	out := make([]float64, len(data))
	if period < 1 {
		copy(out, data)
		return out
	}
	terms := make([]float64, 0, max(depth, 0))
	for i := range data {
		terms = terms[:0]
		for k := 0; k < depth; k++ {
			j := i + k*period
			if j >= len(data) {
				break
			}
			terms = append(terms, data[j])
		}
		if len(terms) == 0 {
			out[i] = data[i]
			continue
		}
		out[i] = stat.Mean(terms, nil)
	}
	return out
}
