package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/api/websocket"
	"github.com/KevinKickass/OpenSkyCam/internal/auth"
	"github.com/KevinKickass/OpenSkyCam/internal/capture"
	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/interfaces"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
	"github.com/KevinKickass/OpenSkyCam/internal/scheduler"
	"github.com/KevinKickass/OpenSkyCam/internal/storage"
)

type fakeLM struct {
	cfg      *config.Config
	captures *storage.MemoryLog
	cameras  interfaces.CameraController
}

func (f *fakeLM) Config() *config.Config              { return f.cfg }
func (f *fakeLM) Captures() storage.CaptureLog        { return f.captures }
func (f *fakeLM) Cameras() interfaces.CameraController { return f.cameras }
func (f *fakeLM) Shutdown(context.Context) error       { return nil }
func (f *fakeLM) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", Scheduler: scheduler.Status{Iterations: 7}}
}

// failingCameras fails every command with a protocol timeout.
type failingCameras struct{}

func (failingCameras) Do(context.Context, string, func(*protocol.Driver) error) error {
	return &protocol.ProtocolError{Op: "open shutter", Reason: protocol.ReasonTimeout, Attempts: 3, Err: protocol.ErrTimeout}
}

func (failingCameras) SetHeater(context.Context, string, bool) error {
	return &protocol.ProtocolError{Op: "heater", Reason: protocol.ReasonTimeout, Attempts: 3, Err: protocol.ErrTimeout}
}

type testEnv struct {
	server *Server
	lm     *fakeLM
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hasher := auth.NewPasswordHasher()
	hash, err := hasher.HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	cfg := &config.Config{}
	cfg.Cameras.Day.Device = "sim://day"
	cfg.Cameras.Night.Device = "sim://night"
	cfg.Auth = config.AuthConfig{
		AccessTokenTTL:         time.Hour,
		AdminUser:              "admin",
		AdminPasswordHash:      hash,
		MaxFailedLoginAttempts: 5,
		AccountLockDuration:    time.Minute,
	}

	controller := capture.NewController(capture.Options{Protocol: protocol.Options{
		CommandTimeout:   50 * time.Millisecond,
		HandshakeTimeout: 20 * time.Millisecond,
		ShutterSettle:    time.Millisecond,
	}}, zap.NewNop())
	t.Cleanup(func() { controller.Close() })

	lm := &fakeLM{cfg: cfg, captures: storage.NewMemoryLog(10), cameras: controller}
	authService := auth.NewAuthService(cfg.Auth, zap.NewNop())
	hub := websocket.NewHub(zap.NewNop(), authService)

	env := &testEnv{server: NewServer(lm, zap.NewNop(), hub, authService), lm: lm}

	w := env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"username": "admin", "password": "pw"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("token: %d %s", w.Code, w.Body.String())
	}
	var tok TokenResponse
	json.Unmarshal(w.Body.Bytes(), &tok)
	env.token = tok.AccessToken
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/health", nil, ""); w.Code != http.StatusOK {
		t.Errorf("/health = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/status", nil, "")
	var st interfaces.SystemStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.State != "RUNNING" || st.Scheduler.Iterations != 7 {
		t.Errorf("status = %+v, %v", st, err)
	}
}

func TestToken_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"username": "admin", "password": "nope"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"username": "admin"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing password code = %d", w.Code)
	}
}

func TestCaptures(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/captures/latest", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("empty latest = %d", w.Code)
	}

	ctx := context.Background()
	for _, role := range []string{"day", "night", "night"} {
		env.lm.captures.SaveCapture(ctx, storage.RecordFromResult(scheduler.Result{Role: role}))
	}

	w := env.do(t, http.MethodGet, "/api/v1/captures?limit=2", nil, "")
	var list struct {
		Captures []storage.CaptureRecord `json:"captures"`
		Count    int                     `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || list.Count != 2 {
		t.Fatalf("list = %+v, %v", list, err)
	}

	w = env.do(t, http.MethodGet, "/api/v1/captures/latest", nil, "")
	var rec storage.CaptureRecord
	json.Unmarshal(w.Body.Bytes(), &rec)
	if w.Code != http.StatusOK || rec.Role != "night" {
		t.Errorf("latest = %d %+v", w.Code, rec)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/captures?limit=abc", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
}

func TestCameraControl(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/v1/cameras/day/shutter", map[string]string{"state": "open"}, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated shutter = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/v1/cameras/day/shutter", map[string]string{"state": "open"}, env.token)
	if w.Code != http.StatusOK {
		t.Errorf("shutter = %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/cameras/night/heater", map[string]bool{"on": false}, env.token)
	if w.Code != http.StatusOK {
		t.Errorf("heater = %d %s", w.Code, w.Body.String())
	}

	if w := env.do(t, http.MethodPost, "/api/v1/cameras/dusk/heater", map[string]bool{"on": true}, env.token); w.Code != http.StatusNotFound {
		t.Errorf("unknown role = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/cameras/day/shutter", map[string]string{"state": "ajar"}, env.token); w.Code != http.StatusBadRequest {
		t.Errorf("bad state = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/cameras/day/heater", map[string]string{}, env.token); w.Code != http.StatusBadRequest {
		t.Errorf("missing on = %d", w.Code)
	}
}

func TestCameraControl_ProtocolFailure(t *testing.T) {
	env := newTestEnv(t)
	env.lm.cameras = failingCameras{}

	w := env.do(t, http.MethodPost, "/api/v1/cameras/day/shutter", map[string]string{"state": "closed"}, env.token)
	if w.Code != http.StatusBadGateway {
		t.Errorf("code = %d %s", w.Code, w.Body.String())
	}
}
