package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// SBIG AllSky 340/340C opcodes
const (
	OpCommTest       = 'E'
	OpOpenShutter    = 'O'
	OpCloseShutter   = 'C'
	OpDeEnergize     = 'K'
	OpHeater         = 'g'
	OpFirmware       = 'V'
	OpSerialNumber   = 'r'
	OpBaudRate       = 'B'
	OpTakeImage      = 'T'
	OpAbortImage     = 'A'
	OpTransferImage  = 'X'
	CommTestReply    = 'O'
	BaudChangeReply  = 'S'
	ExposureProgress = 'E'
	ReadoutProgress  = 'R'
	ExposureDone     = 'D'
)

// Host replies during image block transfer (sent without checksum)
const (
	BlockOK     = 'K'
	BlockResend = 'R'
	BlockAbort  = 'S'
)

// Exposure parameters
const (
	MaxExposureUnits = 0x63FFFF
	// MaxExposure is MaxExposureUnits in seconds.
	MaxExposure = float64(MaxExposureUnits) / 10000
	BinFull1x1       = 0x00
	ExposureLight    = 0x01
	ExposureDark     = 0x00
)

// Frame geometry
const (
	FrameWidth     = 640
	FrameHeight    = 480
	PixelSize      = 2
	BlockPixels    = 4096
	BlockBytes     = BlockPixels * PixelSize
	FrameBytes     = FrameWidth * FrameHeight * PixelSize
	BlocksPerFrame = FrameWidth * FrameHeight / BlockPixels
)

const (
	firmwareReplyLen = 2
	serialReplyLen   = 9
)

// BaudCodes maps supported line rates to the digit sent after 'B'.
var BaudCodes = map[int]byte{
	9600:   '0',
	19200:  '1',
	38400:  '2',
	57600:  '3',
	115200: '4',
	230400: '5',
	460800: '6',
}

// Command is one host-to-camera frame: opcode, parameters and a trailing
// checksum added by Encode.
type Command struct {
	Opcode byte
	Params []byte
}

// Encode erstellt das komplette Frame inklusive Checksumme
func (c Command) Encode() []byte {
	frame := make([]byte, 0, len(c.Params)+2)
	frame = append(frame, c.Opcode)
	frame = append(frame, c.Params...)
	return append(frame, Checksum(frame))
}

func (c Command) String() string {
	if len(c.Params) == 0 {
		return string(c.Opcode)
	}
	return fmt.Sprintf("%c % X", c.Opcode, c.Params)
}

// Checksum folds every byte as complement-with-MSB-cleared into an XOR.
// The camera echoes this byte to acknowledge a command.
func Checksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= ^b & 0x7F
	}
	return cs
}

// BlockChecksum is the plain XOR the camera appends to each image block.
func BlockChecksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}

// ExposureCommand builds the 'T' frame: 24-bit big-endian exposure in
// 100 µs units, full-frame binning and the light/dark selector.
func ExposureCommand(units uint32, dark bool) Command {
	if units > MaxExposureUnits {
		units = MaxExposureUnits
	}

	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], units)

	exptype := byte(ExposureLight)
	if dark {
		exptype = ExposureDark
	}

	params := []byte{raw[1], raw[2], raw[3], BinFull1x1, exptype}
	return Command{Opcode: OpTakeImage, Params: params}
}

// BaudRateCommand builds the 'B<n>' frame for a supported rate.
func BaudRateCommand(rate int) (Command, bool) {
	code, ok := BaudCodes[rate]
	if !ok {
		return Command{}, false
	}
	return Command{Opcode: OpBaudRate, Params: []byte{code}}, true
}

// ParseFirmwareVersion decodes the two version bytes, e.g. R1.30 for a
// release build or T1.16 for a test build.
func ParseFirmwareVersion(data []byte) (string, error) {
	if len(data) != firmwareReplyLen {
		return "", fmt.Errorf("%w: firmware reply has %d bytes", ErrMalformed, len(data))
	}

	kind := "R"
	if data[0]&0x80 != 0 {
		kind = "T"
	}
	return fmt.Sprintf("%s%d.%d", kind, data[0]&0x7F, data[1]), nil
}

func parseSerialNumber(data []byte) string {
	return strings.TrimRight(string(data), "\x00 \r\n")
}

func hexdump(data []byte) string {
	return fmt.Sprintf("% X (%d bytes)", data, len(data))
}
