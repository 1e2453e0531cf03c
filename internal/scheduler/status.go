package scheduler

import (
	"time"

	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
)

// Result describes one iteration.
type Result struct {
	Boundary      time.Time `json:"boundary"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`
	Role          string    `json:"role,omitempty"`
	Device        string    `json:"device,omitempty"`
	Sun           string    `json:"sun,omitempty"`
	Nominal       float64   `json:"nominal_exposure"`
	Exposure      float64   `json:"exposure"`
	ImageID       string    `json:"image_id,omitempty"`
	DarkRefreshed bool      `json:"dark_refreshed"`
	DarkApplied   bool      `json:"dark_applied"`
	DarkError     string    `json:"dark_error,omitempty"`
	Path          string    `json:"path,omitempty"`
	Error         string    `json:"error,omitempty"`
	Err           error     `json:"-"`
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Observer is told about every finished iteration, on the loop goroutine.
type Observer interface {
	IterationComplete(r Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

func (f ObserverFunc) IterationComplete(r Result) { f(r) }

type CameraStatus struct {
	Role        string              `json:"role"`
	Device      string              `json:"device"`
	Info        protocol.CameraInfo `json:"info"`
	DarkEnabled bool                `json:"dark_enabled"`
	DarkCached  bool                `json:"dark_cached"`
	DarkAgeSec  float64             `json:"dark_age_seconds,omitempty"`
	LastResult  *Result             `json:"last_result,omitempty"`
}

type Status struct {
	Running      bool                    `json:"running"`
	Iterations   int                     `json:"iterations"`
	NextBoundary time.Time               `json:"next_boundary"`
	LastResult   *Result                 `json:"last_result,omitempty"`
	Cameras      map[string]CameraStatus `json:"cameras"`
}

// Status is a consistent snapshot for the API.
func (l *Loop) Status() Status {
	now := l.now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{
		Running:      l.started,
		Iterations:   l.iterations,
		NextBoundary: l.next,
		Cameras:      make(map[string]CameraStatus, len(l.cameras)),
	}
	if l.lastResult != nil {
		r := *l.lastResult
		st.LastResult = &r
	}

	for role, cam := range l.cameras {
		cs := CameraStatus{
			Role:        role,
			Device:      cam.Config.Device,
			Info:        cam.Info,
			DarkEnabled: cam.Darks.Enabled(),
		}
		if age, ok := cam.Darks.Age(now); ok {
			cs.DarkCached = true
			cs.DarkAgeSec = age.Seconds()
		}
		if r, ok := l.last[role]; ok {
			cs.LastResult = &r
		}
		st.Cameras[role] = cs
	}
	return st
}
