package capture

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenSkyCam/internal/simcam"
	"github.com/KevinKickass/OpenSkyCam/internal/transport"
)

type SourceKind int

const (
	SourceSerial SourceKind = iota
	SourceNetwork
	SourceFile
	SourceSimulator
)

func (k SourceKind) String() string {
	switch k {
	case SourceSerial:
		return "serial"
	case SourceNetwork:
		return "network"
	case SourceFile:
		return "file"
	case SourceSimulator:
		return "simulator"
	default:
		return "unknown"
	}
}

// Source is a device string resolved to how it has to be read.
type Source struct {
	Kind   SourceKind
	Device string
}

// ResolveSource classifies device once at the call boundary. Paths that do
// not exist return an error wrapping fs.ErrNotExist.
func ResolveSource(device string) (Source, error) {
	switch {
	case device == "":
		return Source{}, fmt.Errorf("empty device")
	case simcam.IsSimulator(device):
		return Source{Kind: SourceSimulator, Device: device}, nil
	case transport.IsNetworkAddress(device):
		return Source{Kind: SourceNetwork, Device: device}, nil
	}

	fi, err := os.Stat(device)
	if err != nil {
		return Source{}, fmt.Errorf("device %s: %w", device, err)
	}

	mode := fi.Mode()
	switch {
	case mode&os.ModeCharDevice != 0:
		return Source{Kind: SourceSerial, Device: device}, nil
	case mode.IsRegular():
		return Source{Kind: SourceFile, Device: device}, nil
	default:
		return Source{}, fmt.Errorf("device %s: unsupported file type %s", device, mode.Type())
	}
}
