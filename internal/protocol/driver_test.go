package protocol_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
	"github.com/KevinKickass/OpenSkyCam/internal/simcam"
)

func testOptions() protocol.Options {
	return protocol.Options{
		CommandTimeout:   50 * time.Millisecond,
		HandshakeTimeout: 50 * time.Millisecond,
		ReadoutMargin:    200 * time.Millisecond,
		ShutterSettle:    time.Millisecond,
	}
}

func readyDriver(t *testing.T, cam *simcam.Camera) *protocol.Driver {
	t.Helper()
	d := protocol.NewDriver(cam, testOptions(), zap.NewNop())
	ok, err := d.Autobaud(context.Background())
	if err != nil || !ok {
		t.Fatalf("Autobaud = %v, %v", ok, err)
	}
	return d
}

func asProtocolError(t *testing.T, err error) *protocol.ProtocolError {
	t.Helper()
	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	return pe
}

func TestAutobaud_FindsCameraRate(t *testing.T) {
	cam := simcam.New(simcam.Options{BaudRate: 38400})
	d := readyDriver(t, cam)

	if d.BaudRate() != 38400 {
		t.Errorf("BaudRate = %d, want 38400", d.BaudRate())
	}
	if d.State() != protocol.StateReady {
		t.Errorf("State = %s, want READY", d.State())
	}

	// again at the found rate
	ok, err := d.Autobaud(context.Background())
	if !ok || err != nil || d.BaudRate() != 38400 {
		t.Errorf("second Autobaud = %v, %v at %d", ok, err, d.BaudRate())
	}
}

func TestAutobaud_NoCamera(t *testing.T) {
	cam := simcam.New(simcam.Options{BaudRate: 230400})
	d := protocol.NewDriver(cam, testOptions(), zap.NewNop())

	ok, err := d.Autobaud(context.Background())
	if ok || err != nil {
		t.Fatalf("Autobaud = %v, %v, want false, nil", ok, err)
	}
	if d.State() != protocol.StateDisconnected {
		t.Errorf("State = %s, want DISCONNECTED", d.State())
	}
}

func TestOperationsRequireReady(t *testing.T) {
	d := protocol.NewDriver(simcam.New(simcam.Options{}), testOptions(), zap.NewNop())

	if _, err := d.FirmwareVersion(context.Background()); !errors.Is(err, protocol.ErrNotReady) {
		t.Errorf("FirmwareVersion err = %v, want ErrNotReady", err)
	}
	if _, err := d.CaptureFrame(context.Background(), 1, false); !errors.Is(err, protocol.ErrNotReady) {
		t.Errorf("CaptureFrame err = %v, want ErrNotReady", err)
	}
}

func TestIdentify(t *testing.T) {
	cam := simcam.New(simcam.Options{SerialNumber: "AS0012345", Firmware: [2]byte{0x81, 16}})
	d := readyDriver(t, cam)

	info, err := d.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	want := protocol.CameraInfo{BaudRate: 9600, SerialNumber: "AS0012345", FirmwareVersion: "T1.16"}
	if info != want {
		t.Errorf("Identify = %+v, want %+v", info, want)
	}

	ok, err := d.CheckCommunications(context.Background())
	if !ok || err != nil {
		t.Errorf("CheckCommunications = %v, %v", ok, err)
	}
}

func TestRetryBound_Checksum(t *testing.T) {
	for k := 0; k <= 4; k++ {
		cam := simcam.New(simcam.Options{})
		d := readyDriver(t, cam)
		cam.Inject(simcam.Faults{BadAcks: k})

		version, err := d.FirmwareVersion(context.Background())
		if k < 3 {
			if err != nil || version != "R1.30" {
				t.Errorf("k=%d: FirmwareVersion = %q, %v", k, version, err)
			}
			continue
		}

		pe := asProtocolError(t, err)
		if pe.Reason != protocol.ReasonChecksum || pe.Attempts != 3 {
			t.Errorf("k=%d: %+v", k, pe)
		}
		if !errors.Is(err, protocol.ErrChecksum) {
			t.Errorf("k=%d: errors.Is(ErrChecksum) = false", k)
		}
		if d.State() != protocol.StateReady {
			t.Errorf("k=%d: State = %s after failure", k, d.State())
		}
	}
}

func TestRetryBound_TimeoutAndMalformed(t *testing.T) {
	cam := simcam.New(simcam.Options{})
	d := readyDriver(t, cam)

	cam.Inject(simcam.Faults{DroppedAcks: 3})
	_, err := d.SerialNumber(context.Background())
	if pe := asProtocolError(t, err); pe.Reason != protocol.ReasonTimeout {
		t.Errorf("dropped acks reason = %s", pe.Reason)
	}

	cam.Inject(simcam.Faults{ShortReplies: 3})
	_, err = d.SerialNumber(context.Background())
	if pe := asProtocolError(t, err); pe.Reason != protocol.ReasonMalformed {
		t.Errorf("short replies reason = %s", pe.Reason)
	}

	cam.Inject(simcam.Faults{ShortReplies: 2})
	sn, err := d.SerialNumber(context.Background())
	if err != nil || sn != "SIM000001" {
		t.Errorf("recovered SerialNumber = %q, %v", sn, err)
	}
}

func TestShutterAndHeater(t *testing.T) {
	cam := simcam.New(simcam.Options{})
	d := readyDriver(t, cam)
	ctx := context.Background()

	if err := d.OpenShutter(ctx); err != nil {
		t.Fatalf("OpenShutter: %v", err)
	}
	if !cam.ShutterOpen() {
		t.Error("shutter not open")
	}
	if err := d.CloseShutter(ctx); err != nil {
		t.Fatalf("CloseShutter: %v", err)
	}
	if cam.ShutterOpen() {
		t.Error("shutter still open")
	}

	cmds := cam.Commands()
	tail := cmds[len(cmds)-4:]
	if !bytes.Equal(tail, []byte{'O', 'K', 'C', 'K'}) {
		t.Errorf("shutter command sequence = %q", tail)
	}

	if err := d.SetHeater(ctx, true); err != nil || !cam.Heater() {
		t.Errorf("SetHeater(true) = %v, heater %v", err, cam.Heater())
	}
	if err := d.SetHeater(ctx, false); err != nil || cam.Heater() {
		t.Errorf("SetHeater(false) = %v, heater %v", err, cam.Heater())
	}

	cam.Inject(simcam.Faults{DroppedAcks: 3})
	if err := d.OpenShutter(ctx); !protocol.IsProtocolError(err) {
		t.Errorf("unacknowledged shutter err = %v", err)
	}
}

func TestSetBaudRate(t *testing.T) {
	cam := simcam.New(simcam.Options{})
	d := readyDriver(t, cam)
	ctx := context.Background()

	if err := d.SetBaudRate(ctx, 115200); err != nil {
		t.Fatalf("SetBaudRate: %v", err)
	}
	if cam.CameraRate() != 115200 || d.BaudRate() != 115200 {
		t.Errorf("rates camera=%d host=%d", cam.CameraRate(), d.BaudRate())
	}
	if _, err := d.FirmwareVersion(ctx); err != nil {
		t.Errorf("FirmwareVersion after rate change: %v", err)
	}

	err := d.SetBaudRate(ctx, 12345)
	if pe := asProtocolError(t, err); pe.Reason != protocol.ReasonUnsupported {
		t.Errorf("unsupported reason = %s", pe.Reason)
	}
	if d.State() != protocol.StateReady {
		t.Errorf("State = %s after unsupported rate", d.State())
	}
}

func TestCaptureFrame(t *testing.T) {
	cam := simcam.New(simcam.Options{BaudRate: 115200})
	d := readyDriver(t, cam)

	data, err := d.CaptureFrame(context.Background(), 0.015, false)
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if len(data) != protocol.FrameBytes {
		t.Fatalf("frame has %d bytes", len(data))
	}
	if !bytes.Equal(data, simcam.Frame(150, false)) {
		t.Error("frame content differs from camera image")
	}

	units, dark := cam.LastExposure()
	if units != 150 || dark {
		t.Errorf("LastExposure = %d, %v", units, dark)
	}
}

func TestCaptureFrame_BlockRecovery(t *testing.T) {
	cam := simcam.New(simcam.Options{BaudRate: 115200})
	d := readyDriver(t, cam)
	cam.Inject(simcam.Faults{CorruptBlocks: 2})

	data, err := d.CaptureFrame(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if !bytes.Equal(data, simcam.Frame(10000, true)) {
		t.Error("recovered frame differs")
	}
	if cam.Resends() != 2 {
		t.Errorf("Resends = %d, want 2", cam.Resends())
	}
}

func TestCaptureFrame_BlockRetriesExhausted(t *testing.T) {
	cam := simcam.New(simcam.Options{BaudRate: 115200})
	d := readyDriver(t, cam)
	cam.Inject(simcam.Faults{CorruptBlocks: 10})

	_, err := d.CaptureFrame(context.Background(), 1, false)
	pe := asProtocolError(t, err)
	if pe.Reason != protocol.ReasonChecksum || pe.Attempts != 10 {
		t.Errorf("ProtocolError = %+v", pe)
	}
}

// brokenReplyPort fails single-byte block replies once armed.
type brokenReplyPort struct {
	*simcam.Camera
	armed bool
	reply byte
}

var errPortGone = errors.New("port gone")

func (p *brokenReplyPort) Write(msg []byte) (int, error) {
	if p.armed && len(msg) == 1 && msg[0] == p.reply {
		return 0, errPortGone
	}
	return p.Camera.Write(msg)
}

func TestCaptureFrame_BlockReplyWriteFails(t *testing.T) {
	for _, reply := range []byte{protocol.BlockOK, protocol.BlockResend} {
		cam := simcam.New(simcam.Options{BaudRate: 115200})
		port := &brokenReplyPort{Camera: cam, reply: reply}
		d := protocol.NewDriver(port, testOptions(), zap.NewNop())
		if ok, err := d.Autobaud(context.Background()); !ok || err != nil {
			t.Fatalf("Autobaud = %v, %v", ok, err)
		}
		if reply == protocol.BlockResend {
			cam.Inject(simcam.Faults{CorruptBlocks: 1})
		}
		port.armed = true

		_, err := d.CaptureFrame(context.Background(), 0.01, false)
		pe := asProtocolError(t, err)
		if pe.Reason != protocol.ReasonIO || !errors.Is(err, errPortGone) {
			t.Errorf("reply %q: ProtocolError = %+v", reply, pe)
		}
	}
}

func TestCaptureFrame_AbortWriteFailureKept(t *testing.T) {
	cam := simcam.New(simcam.Options{BaudRate: 115200})
	port := &brokenReplyPort{Camera: cam, reply: protocol.BlockAbort}
	d := protocol.NewDriver(port, testOptions(), zap.NewNop())
	if ok, err := d.Autobaud(context.Background()); !ok || err != nil {
		t.Fatalf("Autobaud = %v, %v", ok, err)
	}
	cam.Inject(simcam.Faults{CorruptBlocks: 10})
	port.armed = true

	_, err := d.CaptureFrame(context.Background(), 0.01, false)
	pe := asProtocolError(t, err)
	if pe.Reason != protocol.ReasonChecksum || !errors.Is(err, errPortGone) {
		t.Errorf("ProtocolError = %+v", pe)
	}
}

func TestCaptureFrame_NoCompletion(t *testing.T) {
	cam := simcam.New(simcam.Options{})
	d := readyDriver(t, cam)
	cam.Inject(simcam.Faults{NoCompletion: true})

	start := time.Now()
	_, err := d.CaptureFrame(context.Background(), 0.01, false)
	if pe := asProtocolError(t, err); pe.Reason != protocol.ReasonTimeout || pe.Attempts != 1 {
		t.Errorf("ProtocolError = %+v", pe)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("gave up after %s, before exposure + readout margin", elapsed)
	}
	if d.State() != protocol.StateReady {
		t.Errorf("State = %s", d.State())
	}
}
