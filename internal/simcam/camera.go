// Package simcam emulates an SBIG AllSky 340 on the far side of a
// transport.Port. It answers the same command set as the real camera and can
// inject line faults, so the driver can be exercised without hardware.
package simcam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
)

const Scheme = "sim://"

var ErrClosed = errors.New("simulated camera closed")

type Options struct {
	BaudRate     int
	SerialNumber string
	// Firmware is the raw two byte version reply.
	Firmware [2]byte
}

func (o Options) withDefaults() Options {
	if o.BaudRate == 0 {
		o.BaudRate = 9600
	}
	if o.SerialNumber == "" {
		o.SerialNumber = "SIM000001"
	}
	if o.Firmware == [2]byte{} {
		o.Firmware = [2]byte{1, 30}
	}
	return o
}

// Faults are consumed one per affected exchange.
type Faults struct {
	BadAcks       int  // acknowledge with a wrong checksum byte
	DroppedAcks   int  // swallow the command entirely
	ShortReplies  int  // truncate the data reply after a good ack
	CorruptBlocks int  // flip a byte in the next image blocks
	NoCompletion  bool // never report the exposure as done
}

type chunk struct {
	rate int
	data []byte
}

// Camera is the simulated device. It implements transport.Port.
type Camera struct {
	mu sync.Mutex

	opts   Options
	faults Faults

	camRate  int
	hostRate int
	pending  []chunk
	closed   bool

	awaitingTest bool
	shutterOpen  bool
	heater       bool

	lastExposure uint32
	lastDark     bool
	image        []byte
	block        int
	transferring bool

	commands []byte
	resends  int
}

func New(opts Options) *Camera {
	opts = opts.withDefaults()
	return &Camera{
		opts:     opts,
		camRate:  opts.BaudRate,
		hostRate: 9600,
	}
}

// Parse builds a camera from a sim:// device string, e.g.
// sim://night?baud=38400&serial=A1B2C3.
func Parse(device string) (*Camera, error) {
	if !strings.HasPrefix(device, Scheme) {
		return nil, fmt.Errorf("not a simulator device: %s", device)
	}
	u, err := url.Parse(device)
	if err != nil {
		return nil, fmt.Errorf("parse simulator device: %w", err)
	}

	var opts Options
	q := u.Query()
	if v := q.Get("baud"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid baud %q: %w", v, err)
		}
		if _, ok := protocol.BaudCodes[rate]; !ok {
			return nil, fmt.Errorf("unsupported baud %d", rate)
		}
		opts.BaudRate = rate
	}
	opts.SerialNumber = q.Get("serial")

	return New(opts), nil
}

func IsSimulator(device string) bool {
	return strings.HasPrefix(device, Scheme)
}

// Inject replaces the active fault set.
func (c *Camera) Inject(f Faults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = f
}

// CameraRate is the rate the camera itself currently listens at.
func (c *Camera) CameraRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camRate
}

func (c *Camera) ShutterOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutterOpen
}

func (c *Camera) Heater() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heater
}

// LastExposure returns the units and dark flag of the last 'T' command.
func (c *Camera) LastExposure() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastExposure, c.lastDark
}

// Commands lists the opcodes received so far.
func (c *Camera) Commands() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.commands...)
}

// Resends counts block resend requests.
func (c *Camera) Resends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resends
}

func (c *Camera) Read(buf []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}

	// bytes sent at a rate the host is not listening at are lost
	for len(c.pending) > 0 && c.pending[0].rate != c.hostRate {
		c.pending = c.pending[1:]
	}
	if len(c.pending) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}

	head := &c.pending[0]
	n := copy(buf, head.data)
	head.data = head.data[n:]
	if len(head.data) == 0 {
		c.pending = c.pending[1:]
	}
	c.mu.Unlock()
	return n, nil
}

// Write treats every call as one message, the way the driver sends frames.
func (c *Camera) Write(msg []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if len(msg) == 0 || c.hostRate != c.camRate {
		return len(msg), nil
	}

	switch {
	case c.transferring && len(msg) == 1:
		c.handleBlockReply(msg[0])
	case c.awaitingTest && string(msg) == "Test":
		c.send([]byte("TestOk"))
	case c.awaitingTest && string(msg) == "k":
		c.awaitingTest = false
	default:
		c.handleCommand(msg)
	}
	return len(msg), nil
}

func (c *Camera) handleCommand(msg []byte) {
	if len(msg) < 2 {
		return
	}
	body, cs := msg[:len(msg)-1], msg[len(msg)-1]
	c.commands = append(c.commands, body[0])

	if c.faults.DroppedAcks > 0 {
		c.faults.DroppedAcks--
		return
	}

	ack := protocol.Checksum(body)
	if c.faults.BadAcks > 0 {
		c.faults.BadAcks--
		c.send([]byte{ack ^ 0x55})
		return
	}
	if ack != cs {
		// the camera echoes what it computed, the host sees a mismatch
		c.send([]byte{ack})
		return
	}

	switch body[0] {
	case protocol.OpCommTest:
		c.send([]byte{ack, protocol.CommTestReply})
	case protocol.OpFirmware:
		c.reply(ack, c.opts.Firmware[:])
	case protocol.OpSerialNumber:
		sn := make([]byte, 9)
		copy(sn, c.opts.SerialNumber)
		c.reply(ack, sn)
	case protocol.OpOpenShutter:
		c.shutterOpen = true
		c.send([]byte{ack})
	case protocol.OpCloseShutter:
		c.shutterOpen = false
		c.send([]byte{ack})
	case protocol.OpDeEnergize:
		c.send([]byte{ack})
	case protocol.OpHeater:
		c.heater = len(body) > 1 && body[1] == 0x01
		c.send([]byte{ack})
	case protocol.OpBaudRate:
		c.changeRate(ack, body)
	case protocol.OpTakeImage:
		c.startExposure(ack, body)
	case protocol.OpTransferImage:
		c.send([]byte{ack})
		c.transferring = true
		c.block = 0
		c.sendBlock()
	default:
		c.send([]byte{ack})
	}
}

func (c *Camera) reply(ack byte, data []byte) {
	if c.faults.ShortReplies > 0 {
		c.faults.ShortReplies--
		data = data[:len(data)-1]
	}
	c.send(append([]byte{ack}, data...))
}

func (c *Camera) changeRate(ack byte, body []byte) {
	if len(body) != 2 {
		c.send([]byte{ack})
		return
	}
	for rate, code := range protocol.BaudCodes {
		if code == body[1] {
			c.send([]byte{ack, protocol.BaudChangeReply})
			c.camRate = rate
			c.awaitingTest = true
			return
		}
	}
	c.send([]byte{ack})
}

func (c *Camera) startExposure(ack byte, body []byte) {
	c.send([]byte{ack})
	if len(body) != 6 {
		return
	}

	var raw [4]byte
	copy(raw[1:], body[1:4])
	c.lastExposure = binary.BigEndian.Uint32(raw[:])
	c.lastDark = body[5] == protocol.ExposureDark
	c.image = render(c.lastExposure, c.lastDark)

	if c.faults.NoCompletion {
		c.send([]byte{protocol.ExposureProgress})
		return
	}
	c.send([]byte{protocol.ExposureProgress, protocol.ReadoutProgress, protocol.ExposureDone})
}

func (c *Camera) handleBlockReply(b byte) {
	switch b {
	case protocol.BlockOK:
		c.block++
		if c.block >= protocol.BlocksPerFrame {
			c.transferring = false
			return
		}
		c.sendBlock()
	case protocol.BlockResend:
		c.resends++
		c.sendBlock()
	case protocol.BlockAbort:
		c.transferring = false
	}
}

func (c *Camera) sendBlock() {
	start := c.block * protocol.BlockBytes
	data := append([]byte(nil), c.image[start:start+protocol.BlockBytes]...)
	cs := protocol.BlockChecksum(data)
	if c.faults.CorruptBlocks > 0 {
		c.faults.CorruptBlocks--
		data[0] ^= 0xFF
	}
	c.send(append(data, cs))
}

func (c *Camera) send(data []byte) {
	c.pending = append(c.pending, chunk{rate: c.camRate, data: data})
}

// render produces a deterministic frame: a gradient for light frames and a
// flat bias level for darks.
func render(units uint32, dark bool) []byte {
	img := make([]byte, protocol.FrameBytes)
	for i := 0; i < protocol.FrameWidth*protocol.FrameHeight; i++ {
		var v uint16
		if dark {
			v = 100 + uint16(i%7)
		} else {
			v = uint16((i + int(units)) & 0xFFFF)
		}
		binary.LittleEndian.PutUint16(img[i*2:], v)
	}
	return img
}

// Frame returns what the camera would send for the given exposure.
func Frame(units uint32, dark bool) []byte {
	return render(units, dark)
}

func (c *Camera) SetBaudRate(rate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostRate = rate
	return nil
}

func (c *Camera) BaudRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostRate
}

func (c *Camera) SetReadTimeout(time.Duration) error {
	return nil
}

func (c *Camera) ResetInputBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	return nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
	return nil
}

// String identifies the camera in logs.
func (c *Camera) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("simcam(%s @ %d)", c.opts.SerialNumber, c.camRate)
}
