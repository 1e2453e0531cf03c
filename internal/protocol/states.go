package protocol

type State int

const (
	StateDisconnected State = iota
	StateAutobauding
	StateReady
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAutobauding:
		return "AUTOBAUDING"
	case StateReady:
		return "READY"
	case StateBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// CameraInfo is the identity snapshot taken once per camera session.
type CameraInfo struct {
	BaudRate        int    `json:"baud_rate" yaml:"baud_rate"`
	SerialNumber    string `json:"serial_number" yaml:"serial_number"`
	FirmwareVersion string `json:"firmware_version" yaml:"firmware_version"`
}
