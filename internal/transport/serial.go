package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

type serialPort struct {
	name string
	port serial.Port

	mu   sync.Mutex
	rate int
}

// OpenSerial opens a character device with 8N1 framing.
func OpenSerial(name string, cfg Config) (Port, error) {
	cfg = cfg.withDefaults()

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &serialPort{
		name: name,
		port: port,
		rate: cfg.BaudRate,
	}, nil
}

func (p *serialPort) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

func (p *serialPort) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

func (p *serialPort) Close() error {
	return p.port.Close()
}

func (p *serialPort) SetBaudRate(rate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: rate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if err := p.port.SetMode(mode); err != nil {
		return fmt.Errorf("failed to set baud rate %d on %s: %w", rate, p.name, err)
	}
	p.rate = rate
	return nil
}

func (p *serialPort) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *serialPort) SetReadTimeout(d time.Duration) error {
	return p.port.SetReadTimeout(d)
}

func (p *serialPort) ResetInputBuffer() error {
	return p.port.ResetInputBuffer()
}
