package storage

import (
	"context"
	"sync"
)

// MemoryLog keeps the most recent records when no database is configured.
type MemoryLog struct {
	mu      sync.RWMutex
	records []CaptureRecord
	size    int
}

func NewMemoryLog(size int) *MemoryLog {
	if size <= 0 {
		size = 100
	}
	return &MemoryLog{size: size}
}

func (m *MemoryLog) SaveCapture(ctx context.Context, rec CaptureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	if len(m.records) > m.size {
		m.records = m.records[len(m.records)-m.size:]
	}
	return nil
}

// ListCaptures returns newest first.
func (m *MemoryLog) ListCaptures(ctx context.Context, limit int) ([]CaptureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]CaptureRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MemoryLog) LatestCapture(ctx context.Context) (CaptureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) == 0 {
		return CaptureRecord{}, ErrNotFound
	}
	return m.records[len(m.records)-1], nil
}
