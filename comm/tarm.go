package comm

import (
	"github.com/tarm/serial"
)

// makeSerConf makes a new serial.Config with 8N1 framing at the configured baud
func makeSerConf(c Config) *serial.Config {
	return &serial.Config{
		Name:        c.Addr,
		Baud:        c.Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: c.Timeout}
}

func openTarm(c Config) (Transport, error) {
	port, err := serial.OpenPort(makeSerConf(c))
	if err != nil {
		return nil, err
	}
	// tarm reports a read timeout as io.EOF on posix systems
	return NewPump(port, c.Timeout, true), nil
}
