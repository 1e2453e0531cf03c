package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// tcpPort talks to a camera behind a serial-to-network bridge (Moxa NPort and
// similar). The line rate is fixed by the bridge, SetBaudRate only records it.
type tcpPort struct {
	address     string
	conn        net.Conn
	mu          sync.Mutex
	rate        int
	readTimeout time.Duration
	connected   bool
}

// IsNetworkAddress reports whether device has the host:port form.
func IsNetworkAddress(device string) bool {
	host, port, err := net.SplitHostPort(device)
	if err != nil || host == "" || port == "" {
		return false
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DialTCP stellt die TCP-Verbindung zur Bridge her
func DialTCP(address string, cfg Config) (Port, error) {
	cfg = cfg.withDefaults()

	conn, err := net.DialTimeout("tcp", address, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	return &tcpPort{
		address:     address,
		conn:        conn,
		rate:        cfg.BaudRate,
		readTimeout: cfg.ReadTimeout,
		connected:   true,
	}, nil
}

func (p *tcpPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	conn, timeout := p.conn, p.readTimeout
	p.mu.Unlock()

	if conn == nil {
		return 0, fmt.Errorf("not connected")
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}

func (p *tcpPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	conn, timeout := p.conn, p.readTimeout
	p.mu.Unlock()

	if conn == nil {
		return 0, fmt.Errorf("not connected")
	}

	conn.SetWriteDeadline(time.Now().Add(timeout + time.Second))
	n, err := conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Close schließt die Verbindung
func (p *tcpPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil
	}

	err := p.conn.Close()
	p.connected = false
	p.conn = nil

	return err
}

func (p *tcpPort) SetBaudRate(rate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
	return nil
}

func (p *tcpPort) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *tcpPort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = d
	return nil
}

// ResetInputBuffer discards whatever the bridge has already forwarded.
func (p *tcpPort) ResetInputBuffer() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	buf := make([]byte, 512)
	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
