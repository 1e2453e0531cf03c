package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/scheduler"
)

// Recorder writes every scheduler iteration to a CaptureLog.
type Recorder struct {
	log     CaptureLog
	timeout time.Duration
	logger  *zap.Logger
}

func NewRecorder(log CaptureLog, logger *zap.Logger) *Recorder {
	return &Recorder{log: log, timeout: 5 * time.Second, logger: logger}
}

func (r *Recorder) IterationComplete(res scheduler.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	rec := RecordFromResult(res)
	if err := r.log.SaveCapture(ctx, rec); err != nil {
		r.logger.Error("Failed to record capture",
			zap.String("id", rec.ID.String()),
			zap.Error(err))
	}
}

// RecordFromResult maps an iteration onto a capture record. Failed
// iterations get a fresh ID.
func RecordFromResult(res scheduler.Result) CaptureRecord {
	id, err := uuid.Parse(res.ImageID)
	if err != nil {
		id = uuid.New()
	}

	return CaptureRecord{
		ID:              id,
		Role:            res.Role,
		Device:          res.Device,
		CapturedAt:      res.Started,
		ExposureSeconds: res.Exposure,
		NominalSeconds:  res.Nominal,
		Dark:            res.DarkRefreshed,
		DarkApplied:     res.DarkApplied,
		SunState:        res.Sun,
		Path:            res.Path,
		Error:           res.Error,
	}
}
