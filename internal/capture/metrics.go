package capture

import (
	"sync"
	"time"
)

// CaptureMetrics tracks per-session frame pipeline counters.
type CaptureMetrics struct {
	mu sync.RWMutex

	FramesCaptured  uint64 // frame-arrival events that entered the pipeline
	FramesPublished uint64 // successful buffer swaps
	FramesDropped   uint64 // publish blocked by an active reader (per streak)
	FramesSkipped   uint64 // rejected/failed frames and repeat drops in a streak
	CropFailures    uint64 // crop errors where the frame fell back to full size

	LastCaptureTime  time.Duration
	LastScaleTime    time.Duration
	LastReadbackTime time.Duration

	startTime time.Time
}

func newCaptureMetrics() *CaptureMetrics {
	return &CaptureMetrics{startTime: time.Now()}
}

func (m *CaptureMetrics) RecordCapture(d time.Duration) {
	m.mu.Lock()
	m.FramesCaptured++
	m.LastCaptureTime = d
	m.mu.Unlock()
}

func (m *CaptureMetrics) RecordPublish() {
	m.mu.Lock()
	m.FramesPublished++
	m.mu.Unlock()
}

func (m *CaptureMetrics) RecordDrop() {
	m.mu.Lock()
	m.FramesDropped++
	m.mu.Unlock()
}

func (m *CaptureMetrics) RecordSkip() {
	m.mu.Lock()
	m.FramesSkipped++
	m.mu.Unlock()
}

func (m *CaptureMetrics) RecordCropFailure() {
	m.mu.Lock()
	m.CropFailures++
	m.mu.Unlock()
}

func (m *CaptureMetrics) RecordScale(d time.Duration) {
	m.mu.Lock()
	m.LastScaleTime = d
	m.mu.Unlock()
}

func (m *CaptureMetrics) RecordReadback(d time.Duration) {
	m.mu.Lock()
	m.LastReadbackTime = d
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of metrics for logging and the
// diagnostics endpoint.
type MetricsSnapshot struct {
	FramesCaptured  uint64        `json:"framesCaptured"`
	FramesPublished uint64        `json:"framesPublished"`
	FramesDropped   uint64        `json:"framesDropped"`
	FramesSkipped   uint64        `json:"framesSkipped"`
	CropFailures    uint64        `json:"cropFailures"`
	CaptureMs       float64       `json:"captureMs"`
	ScaleMs         float64       `json:"scaleMs"`
	ReadbackMs      float64       `json:"readbackMs"`
	Uptime          time.Duration `json:"uptimeNs"`
}

func (m *CaptureMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		FramesCaptured:  m.FramesCaptured,
		FramesPublished: m.FramesPublished,
		FramesDropped:   m.FramesDropped,
		FramesSkipped:   m.FramesSkipped,
		CropFailures:    m.CropFailures,
		CaptureMs:       float64(m.LastCaptureTime.Microseconds()) / 1000.0,
		ScaleMs:         float64(m.LastScaleTime.Microseconds()) / 1000.0,
		ReadbackMs:      float64(m.LastReadbackTime.Microseconds()) / 1000.0,
		Uptime:          time.Since(m.startTime),
	}
}
