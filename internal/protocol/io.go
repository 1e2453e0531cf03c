package protocol

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"
)

// readFull reads exactly n bytes or returns what arrived with ErrTimeout.
// Port reads return (0, nil) when their own short timeout expires.
func (d *Driver) readFull(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 0, n)
	chunk := make([]byte, n)
	deadline := time.Now().Add(timeout)

	for len(buf) < n {
		if err := ctx.Err(); err != nil {
			return buf, err
		}
		if time.Now().After(deadline) {
			return buf, ErrTimeout
		}

		got, err := d.port.Read(chunk[:n-len(buf)])
		if err != nil {
			return buf, err
		}
		buf = append(buf, chunk[:got]...)
	}
	return buf, nil
}

// readUntil consumes bytes until term is seen. Everything read, including
// term, is returned.
func (d *Driver) readUntil(ctx context.Context, term byte, timeout time.Duration) ([]byte, error) {
	var seen []byte
	one := make([]byte, 1)
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return seen, err
		}
		if time.Now().After(deadline) {
			return seen, ErrTimeout
		}

		n, err := d.port.Read(one)
		if err != nil {
			return seen, err
		}
		if n == 0 {
			continue
		}
		seen = append(seen, one[0])
		if one[0] == term {
			return seen, nil
		}
	}
}

// readSuffix collects bytes until they end with suffix or the timeout expires.
func (d *Driver) readSuffix(ctx context.Context, suffix []byte, timeout time.Duration) []byte {
	limit := len(suffix) * 10
	var seen []byte
	chunk := make([]byte, limit)
	deadline := time.Now().Add(timeout)

	for len(seen) < limit && time.Now().Before(deadline) && ctx.Err() == nil {
		n, err := d.port.Read(chunk[:len(suffix)])
		if err != nil {
			return seen
		}
		seen = append(seen, chunk[:n]...)
		if bytes.HasSuffix(seen, suffix) {
			return seen
		}
	}
	return seen
}

// drain discards the camera's chatter during the baud handshake.
func (d *Driver) drain(ctx context.Context, step string) {
	junk, _ := d.readFull(ctx, 100, d.opts.CommandTimeout)
	if len(junk) > 0 {
		d.logger.Debug("Drained line", zap.String("step", step), zap.String("data", hexdump(junk)))
	}
}
