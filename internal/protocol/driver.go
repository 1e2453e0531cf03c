// Package protocol implements the SBIG AllSky 340 serial command set on top of
// a transport.Port: framing, acknowledgement, bounded retries, the baud
// handshake and the block-wise image transfer.
package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/exposure"
	"github.com/KevinKickass/OpenSkyCam/internal/transport"
)

// DefaultBaudRates is the autobaud trial order.
var DefaultBaudRates = []int{9600, 19200, 38400, 57600, 115200}

type Options struct {
	BaudRates        []int
	Retries          int
	BlockRetries     int
	CommandTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadoutMargin    time.Duration
	ShutterSettle    time.Duration
}

func (o Options) withDefaults() Options {
	if len(o.BaudRates) == 0 {
		o.BaudRates = DefaultBaudRates
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.BlockRetries <= 0 {
		o.BlockRetries = 10
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 500 * time.Millisecond
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 100 * time.Millisecond
	}
	if o.ReadoutMargin <= 0 {
		o.ReadoutMargin = 15 * time.Second
	}
	if o.ShutterSettle <= 0 {
		o.ShutterSettle = 200 * time.Millisecond
	}
	return o
}

// Driver owns one camera connection. All exchanges are serialized by mu,
// a second caller blocks until the running operation has finished.
type Driver struct {
	port   transport.Port
	opts   Options
	logger *zap.Logger

	mu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

func NewDriver(port transport.Port, opts Options, logger *zap.Logger) *Driver {
	return &Driver{
		port:   port,
		opts:   opts.withDefaults(),
		logger: logger,
		state:  StateDisconnected,
	}
}

func (d *Driver) State() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.stateMu.Lock()
	prev := d.state
	d.state = s
	d.stateMu.Unlock()

	if prev != s {
		d.logger.Debug("Driver state changed",
			zap.String("from", prev.String()),
			zap.String("to", s.String()))
	}
}

// BaudRate returns the rate the host side of the line is currently set to.
func (d *Driver) BaudRate() int {
	return d.port.BaudRate()
}

// Close releases the underlying port.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setState(StateDisconnected)
	return d.port.Close()
}

// begin acquires the line for one operation. The caller must call end.
func (d *Driver) begin() error {
	d.mu.Lock()
	if d.State() != StateReady {
		d.mu.Unlock()
		return ErrNotReady
	}
	d.setState(StateBusy)
	return nil
}

func (d *Driver) end(next State) {
	d.setState(next)
	d.mu.Unlock()
}

// Autobaud tries every configured rate until the camera answers the
// communications test. On success the driver is Ready at that rate.
func (d *Driver) Autobaud(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setState(StateAutobauding)

	for _, rate := range d.opts.BaudRates {
		if err := ctx.Err(); err != nil {
			d.setState(StateDisconnected)
			return false, err
		}

		if err := d.port.SetBaudRate(rate); err != nil {
			d.logger.Warn("Cannot set baud rate", zap.Int("baud_rate", rate), zap.Error(err))
			continue
		}
		d.port.ResetInputBuffer()

		d.logger.Debug("Probing baud rate", zap.Int("baud_rate", rate))
		if d.checkCommunications(ctx, 3, 2) {
			d.logger.Info("Camera found", zap.Int("baud_rate", rate))
			d.setState(StateReady)
			return true, nil
		}
	}

	d.setState(StateDisconnected)
	return false, nil
}

// CheckCommunications runs the 'E' test three times at the current rate and
// reports whether at least two succeeded.
func (d *Driver) CheckCommunications(ctx context.Context) (bool, error) {
	if err := d.begin(); err != nil {
		return false, err
	}
	defer d.end(StateReady)

	return d.checkCommunications(ctx, 3, 2), nil
}

func (d *Driver) checkCommunications(ctx context.Context, tries, required int) bool {
	frame := Command{Opcode: OpCommTest}.Encode()
	expect := []byte{frame[len(frame)-1], CommTestReply}

	ok := 0
	for i := 0; i < tries; i++ {
		if ctx.Err() != nil {
			return false
		}
		if _, err := d.port.Write(frame); err != nil {
			d.logger.Debug("Comms test write failed", zap.Error(err))
			continue
		}
		reply := d.readSuffix(ctx, expect, d.opts.HandshakeTimeout)
		if bytes.HasSuffix(reply, expect) {
			ok++
			if ok >= required {
				return true
			}
		} else {
			d.logger.Debug("Comms test failed", zap.String("reply", hexdump(reply)))
		}
	}
	return ok >= required
}

// SetBaudRate switches camera and host to rate. A failed final check leaves
// the driver Disconnected, a new Autobaud is needed.
func (d *Driver) SetBaudRate(ctx context.Context, rate int) error {
	const op = "set baud rate"

	cmd, ok := BaudRateCommand(rate)
	if !ok {
		return &ProtocolError{
			Op:     op,
			Reason: ReasonUnsupported,
			Err:    fmt.Errorf("%w: baud rate %d", ErrUnsupported, rate),
		}
	}

	if err := d.begin(); err != nil {
		return err
	}

	if !d.checkCommunications(ctx, 3, 2) {
		d.end(StateReady)
		return &ProtocolError{
			Op:       op,
			Reason:   ReasonUnacknowledged,
			Attempts: 1,
			Err:      fmt.Errorf("%w: initial communications test failed", ErrUnacknowledged),
		}
	}

	if _, err := d.port.Write(cmd.Encode()); err != nil {
		d.end(StateReady)
		return fmt.Errorf("write failed: %w", err)
	}
	d.drain(ctx, "baud command")

	if err := d.port.SetBaudRate(rate); err != nil {
		d.end(StateDisconnected)
		return fmt.Errorf("switch host baud rate: %w", err)
	}
	d.drain(ctx, "rate switch")

	for _, greeting := range []string{"Test", "k"} {
		if _, err := d.port.Write([]byte(greeting)); err != nil {
			d.end(StateDisconnected)
			return fmt.Errorf("write failed: %w", err)
		}
		d.drain(ctx, greeting)
	}

	if !d.checkCommunications(ctx, 10, 3) {
		d.end(StateDisconnected)
		return &ProtocolError{
			Op:       op,
			Reason:   ReasonUnacknowledged,
			Attempts: 1,
			Err:      fmt.Errorf("%w: final communications test at %d baud failed", ErrUnacknowledged, rate),
		}
	}

	d.logger.Info("Baud rate changed", zap.Int("baud_rate", rate))
	d.end(StateReady)
	return nil
}

func (d *Driver) SerialNumber(ctx context.Context) (string, error) {
	if err := d.begin(); err != nil {
		return "", err
	}
	defer d.end(StateReady)

	reply, err := d.exchange(ctx, "serial number", Command{Opcode: OpSerialNumber}, serialReplyLen)
	if err != nil {
		return "", err
	}
	return parseSerialNumber(reply), nil
}

func (d *Driver) FirmwareVersion(ctx context.Context) (string, error) {
	if err := d.begin(); err != nil {
		return "", err
	}
	defer d.end(StateReady)

	reply, err := d.exchange(ctx, "firmware version", Command{Opcode: OpFirmware}, firmwareReplyLen)
	if err != nil {
		return "", err
	}
	return ParseFirmwareVersion(reply)
}

// Identify reads serial number and firmware in one go.
func (d *Driver) Identify(ctx context.Context) (CameraInfo, error) {
	info := CameraInfo{BaudRate: d.BaudRate()}

	serial, err := d.SerialNumber(ctx)
	if err != nil {
		return info, err
	}
	info.SerialNumber = serial

	version, err := d.FirmwareVersion(ctx)
	if err != nil {
		return info, err
	}
	info.FirmwareVersion = version

	return info, nil
}

func (d *Driver) OpenShutter(ctx context.Context) error {
	return d.moveShutter(ctx, "open shutter", OpOpenShutter)
}

func (d *Driver) CloseShutter(ctx context.Context) error {
	return d.moveShutter(ctx, "close shutter", OpCloseShutter)
}

// moveShutter drives the motor, lets it settle and de-energizes it again.
func (d *Driver) moveShutter(ctx context.Context, op string, opcode byte) error {
	if err := d.begin(); err != nil {
		return err
	}
	defer d.end(StateReady)

	if _, err := d.exchange(ctx, op, Command{Opcode: opcode}, 0); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.opts.ShutterSettle):
	}

	_, err := d.exchange(ctx, "de-energize shutter", Command{Opcode: OpDeEnergize}, 0)
	return err
}

func (d *Driver) SetHeater(ctx context.Context, on bool) error {
	if err := d.begin(); err != nil {
		return err
	}
	defer d.end(StateReady)

	param := byte(0x00)
	if on {
		param = 0x01
	}
	_, err := d.exchange(ctx, "set heater", Command{Opcode: OpHeater, Params: []byte{param}}, 0)
	return err
}

// CaptureFrame exposes for the given number of seconds, waits for the camera
// to finish and downloads the full frame. The returned slice is
// FrameBytes long, 640x480 little-endian uint16.
func (d *Driver) CaptureFrame(ctx context.Context, seconds float64, dark bool) ([]byte, error) {
	if err := d.begin(); err != nil {
		return nil, err
	}
	defer d.end(StateReady)

	units := exposure.Units(seconds)
	if units > MaxExposureUnits {
		units = MaxExposureUnits
	}
	cmd := ExposureCommand(uint32(units), dark)

	d.logger.Debug("Starting exposure",
		zap.Float64("exposure", seconds),
		zap.Int64("units", units),
		zap.Bool("dark", dark))

	if _, err := d.exchange(ctx, "start exposure", cmd, 0); err != nil {
		return nil, err
	}

	wait := time.Duration(float64(units)*100)*time.Microsecond + d.opts.ReadoutMargin
	status, err := d.readUntil(ctx, ExposureDone, wait)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newProtocolError("wait for exposure", 1,
			fmt.Errorf("%w: no completion within %s, got %s", err, wait, hexdump(status)))
	}

	return d.transferImage(ctx)
}

func (d *Driver) transferImage(ctx context.Context) ([]byte, error) {
	if _, err := d.exchange(ctx, "transfer image", Command{Opcode: OpTransferImage}, 0); err != nil {
		return nil, err
	}

	image := make([]byte, 0, FrameBytes)
	for block := 0; block < BlocksPerFrame; block++ {
		data, err := d.readBlock(ctx, block)
		if err != nil {
			return nil, err
		}
		image = append(image, data...)
	}

	d.logger.Debug("Image transfer complete", zap.Int("bytes", len(image)))
	return image, nil
}

// readBlock reads one 4096 pixel block plus its checksum, asking the camera
// to resend on any defect.
func (d *Driver) readBlock(ctx context.Context, block int) ([]byte, error) {
	timeout := d.blockTimeout()

	var lastErr error
	for attempt := 1; attempt <= d.opts.BlockRetries; attempt++ {
		if attempt > 1 {
			d.port.ResetInputBuffer()
			if _, err := d.port.Write([]byte{BlockResend}); err != nil {
				return nil, newProtocolError("transfer image", attempt, fmt.Errorf("write failed: %w", err))
			}
		}

		raw, err := d.readFull(ctx, BlockBytes+1, timeout)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			lastErr = fmt.Errorf("%w: block %d has %d of %d bytes", ErrMalformed, block, len(raw), BlockBytes+1)
			d.logger.Debug("Short image block", zap.Int("block", block), zap.Int("attempt", attempt), zap.Int("bytes", len(raw)))
			continue
		}

		data, cs := raw[:BlockBytes], raw[BlockBytes]
		if want := BlockChecksum(data); want != cs {
			lastErr = fmt.Errorf("%w: block %d checksum %02X, computed %02X", ErrChecksum, block, cs, want)
			d.logger.Debug("Image block checksum mismatch", zap.Int("block", block), zap.Int("attempt", attempt))
			continue
		}

		if _, err := d.port.Write([]byte{BlockOK}); err != nil {
			return nil, newProtocolError("transfer image", attempt, fmt.Errorf("write failed: %w", err))
		}
		return data, nil
	}

	if _, err := d.port.Write([]byte{BlockAbort}); err != nil {
		lastErr = errors.Join(lastErr, fmt.Errorf("abort write failed: %w", err))
	}
	return nil, newProtocolError("transfer image", d.opts.BlockRetries, lastErr)
}

// blockTimeout allows 1.5x the wire time of one block at the current rate.
func (d *Driver) blockTimeout() time.Duration {
	rate := d.port.BaudRate()
	if rate <= 0 {
		rate = 9600
	}
	wire := time.Duration(float64(BlockBytes+1) * 10 / float64(rate) * float64(time.Second))
	return wire*3/2 + d.opts.CommandTimeout
}

// exchange sends cmd, verifies the echoed checksum and reads replyLen bytes.
// Timeouts, checksum and length defects flush the input and resend the same
// frame up to Retries times.
func (d *Driver) exchange(ctx context.Context, op string, cmd Command, replyLen int) ([]byte, error) {
	frame := cmd.Encode()

	var lastErr error
	for attempt := 1; attempt <= d.opts.Retries; attempt++ {
		if attempt > 1 {
			d.port.ResetInputBuffer()
			d.logger.Debug("Retrying command",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.NamedError("last_error", lastErr))
		}

		reply, err := d.exchangeOnce(ctx, frame, replyLen)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, newProtocolError(op, attempt, err)
		}
		lastErr = err
	}

	return nil, newProtocolError(op, d.opts.Retries, lastErr)
}

func (d *Driver) exchangeOnce(ctx context.Context, frame []byte, replyLen int) ([]byte, error) {
	if _, err := d.port.Write(frame); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	ack, err := d.readFull(ctx, 1, d.opts.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: no acknowledgement for %c", err, frame[0])
	}
	if want := frame[len(frame)-1]; ack[0] != want {
		return nil, fmt.Errorf("%w: acknowledged %02X, expected %02X", ErrChecksum, ack[0], want)
	}

	if replyLen == 0 {
		return nil, nil
	}

	reply, err := d.readFull(ctx, replyLen, d.opts.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: expected %d bytes, got %s", ErrMalformed, replyLen, hexdump(reply))
	}
	return reply, nil
}
