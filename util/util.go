// Package util contains misc internal utilities.
package util

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// FloatSliceToCSV converts a slice of floats to CSV formatted data using
// the shortest representation of each value
func FloatSliceToCSV(fs []float64) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = FormatFloat(v)
	}
	return strings.Join(s, ",")
}

// FormatFloat formats f with the fewest digits that round trip
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Clamp limits a value to low <= input <= high
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// SecsToDuration converts a floating point number of seconds to a duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// Transpose swaps the axes of a rectangular matrix, turning per channel
// sequences into per sample rows.  Ragged input is cut to the shortest row.
func Transpose(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	n := len(m[0])
	for _, row := range m {
		if len(row) < n {
			n = len(row)
		}
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, len(m))
		for j := range m {
			out[i][j] = m[j][i]
		}
	}
	return out
}
