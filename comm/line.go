package comm

import (
	"bytes"
)

// ReadLine reads from t until term is seen, returning the line with the
// terminator and any trailing carriage return stripped.  ErrTimeout is
// returned, with what was read so far, if a read times out first.
func ReadLine(t Transport, term byte) ([]byte, error) {
	var line []byte
	for {
		b, err := t.ReadExact(1)
		if err != nil {
			return line, err
		}
		if len(b) == 0 {
			return line, ErrTimeout
		}
		if b[0] == term {
			return bytes.TrimRight(line, "\r"), nil
		}
		line = append(line, b[0])
	}
}

// WriteLine writes cmd followed by the terminator txTerm in one write
func WriteLine(t Transport, cmd, txTerm string) error {
	_, err := t.Write([]byte(cmd + txTerm))
	return err
}

// Query writes one command line and reads one response line
func Query(t Transport, cmd, txTerm string, rxTerm byte) (string, error) {
	if err := WriteLine(t, cmd, txTerm); err != nil {
		return "", err
	}
	resp, err := ReadLine(t, rxTerm)
	return string(resp), err
}
