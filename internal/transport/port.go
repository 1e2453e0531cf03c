// Package transport provides the byte channels the camera protocol runs over:
// a local serial character device or a serial-to-network bridge.
package transport

import (
	"io"
	"time"
)

// Port is a duplex byte channel to a camera.
//
// Read must return (0, nil) when the read timeout elapses without data, the
// same way go.bug.st/serial behaves, so callers can implement their own
// deadlines on top of it.
type Port interface {
	io.ReadWriteCloser
	SetBaudRate(rate int) error
	BaudRate() int
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
}

type Config struct {
	BaudRate    int           // initial rate, 9600 is the factory default
	ReadTimeout time.Duration // per Read call
	DialTimeout time.Duration // network bridges only
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// Open dials a network bridge for host:port devices and opens a serial
// character device otherwise.
func Open(device string, cfg Config) (Port, error) {
	if IsNetworkAddress(device) {
		return DialTCP(device, cfg)
	}
	return OpenSerial(device, cfg)
}
