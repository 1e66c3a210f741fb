package dacadc

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrBusy is returned when a ramp is requested while another acquisition
// holds the box.  The link is half duplex; two streams cannot be told apart.
var ErrBusy = errors.New("dacadc: an acquisition is already in progress")

// ParameterError is returned before anything is written to the device when
// caller supplied channels, voltages, or step counts are out of range.
// It may carry several violations at once.
type ParameterError struct {
	err error
}

func (e *ParameterError) Error() string {
	return "dacadc: invalid parameter: " + e.err.Error()
}

// Unwrap returns the aggregated violations
func (e *ParameterError) Unwrap() error { return e.err }

// Violations lists each individual problem
func (e *ParameterError) Violations() []error { return multierr.Errors(e.err) }

// AcquisitionError is returned when the box reports a failure in place of
// sample data.  Message is the text the box sent, e.g. "FAILURE: bad channel".
type AcquisitionError struct {
	Message string
}

func (e *AcquisitionError) Error() string {
	return "dacadc: acquisition failed: " + e.Message
}

// checker accumulates parameter violations
type checker struct {
	err error
}

func (c *checker) addf(format string, args ...interface{}) {
	c.err = multierr.Append(c.err, fmt.Errorf(format, args...))
}

func (c *checker) result() error {
	if c.err == nil {
		return nil
	}
	return &ParameterError{err: c.err}
}
