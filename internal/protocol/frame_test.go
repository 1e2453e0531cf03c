package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"comms test", []byte{'E'}, 0x3A},
		{"firmware", []byte{'V'}, 0x29},
		{"heater on", []byte{'g', 0x01}, 0x66},
		{"empty", nil, 0x00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum(% X) = %02X, want %02X", tt.data, got, tt.want)
			}
		})
	}
}

func TestCommandEncode(t *testing.T) {
	got := Command{Opcode: 'g', Params: []byte{0x01}}.Encode()
	want := []byte{'g', 0x01, 0x66}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % X, want % X", got, want)
	}
}

func TestBlockChecksum(t *testing.T) {
	if got := BlockChecksum([]byte{0x01, 0x02, 0x03}); got != 0x00 {
		t.Errorf("BlockChecksum = %02X, want 00", got)
	}
	if got := BlockChecksum([]byte{0xF0, 0x0F, 0xAA}); got != 0x55 {
		t.Errorf("BlockChecksum = %02X, want 55", got)
	}
}

func TestExposureCommand(t *testing.T) {
	cmd := ExposureCommand(300000, false)
	want := []byte{0x04, 0x93, 0xE0, BinFull1x1, ExposureLight}
	if cmd.Opcode != OpTakeImage || !bytes.Equal(cmd.Params, want) {
		t.Errorf("light 30s = %v, want T % X", cmd, want)
	}

	dark := ExposureCommand(150, true)
	if dark.Params[4] != ExposureDark {
		t.Errorf("dark selector = %02X", dark.Params[4])
	}

	clamped := ExposureCommand(0x700000, false)
	if !bytes.Equal(clamped.Params[:3], []byte{0x63, 0xFF, 0xFF}) {
		t.Errorf("clamped = % X", clamped.Params[:3])
	}
}

func TestBaudRateCommand(t *testing.T) {
	cmd, ok := BaudRateCommand(115200)
	if !ok || cmd.Opcode != OpBaudRate || cmd.Params[0] != '4' {
		t.Errorf("BaudRateCommand(115200) = %v, %v", cmd, ok)
	}
	if _, ok := BaudRateCommand(14400); ok {
		t.Error("14400 should be unsupported")
	}
}

func TestParseFirmwareVersion(t *testing.T) {
	v, err := ParseFirmwareVersion([]byte{0x01, 30})
	if err != nil || v != "R1.30" {
		t.Errorf("release = %q, %v", v, err)
	}
	v, err = ParseFirmwareVersion([]byte{0x81, 16})
	if err != nil || v != "T1.16" {
		t.Errorf("test build = %q, %v", v, err)
	}
	if _, err := ParseFirmwareVersion([]byte{0x01}); !errors.Is(err, ErrMalformed) {
		t.Errorf("short reply err = %v", err)
	}
}

func TestProtocolErrorReason(t *testing.T) {
	err := newProtocolError("firmware version", 3, errors.Join(ErrChecksum))
	if err.Reason != ReasonChecksum {
		t.Errorf("Reason = %s", err.Reason)
	}
	if !errors.Is(err, ErrChecksum) {
		t.Error("errors.Is should see ErrChecksum")
	}
	if !IsProtocolError(err) {
		t.Error("IsProtocolError = false")
	}
}
