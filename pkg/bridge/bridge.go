// Package bridge is the flat, handle-based boundary API over capture
// sessions. It is designed for foreign callers (c-shared exports, RPC
// shims): sessions are addressed by opaque uint64 handles, failures are
// reported as zero values instead of errors, and no Go types cross the
// boundary beyond byte slices.
package bridge

import (
	"sync"

	"github.com/lucentview/capturebridge/internal/capture"
	"github.com/lucentview/capturebridge/internal/logging"
)

var log = logging.L("bridge")

// Handle identifies one capture session across the boundary. Zero is never
// a valid handle.
type Handle uint64

// session is the slice of capture.Session the boundary uses. Tests
// substitute a fake via openSession.
type session interface {
	State() capture.State
	GetLatestFrame(dst []byte) (width, height, n int, count uint64, ok bool)
	PeekLatestFrame() (width, height, required int, ok bool)
	AcquireLatestFrame() (data []byte, width, height int, ok bool)
	ReleaseLatestFrame()
	FrameCount() uint64
	ReaderCount() int32
	Metrics() capture.MetricsSnapshot
	SetMaxResolution(maxWidth, maxHeight int)
	SetCropRect(x, y, width, height int)
	SetVrrEnabled(enabled bool)
	SetInteropEnabled(enabled bool)
	SetBorderRequired(required bool)
	Device() uintptr
	LatestTexture() uintptr
	SharedHandle() uintptr
	Close() error
}

// openSession is the factory for real sessions; swapped in tests.
var openSession = func(windowHandle uintptr, opts capture.Options) (session, error) {
	return capture.NewSession(windowHandle, opts)
}

var (
	mu       sync.Mutex
	nextID   Handle = 1
	sessions        = map[Handle]session{}
)

func lookup(h Handle) (session, bool) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := sessions[h]
	return s, ok
}

// CreateSession starts capturing the given window and returns its handle,
// or 0 when the session cannot be created.
func CreateSession(windowHandle uint64) Handle {
	return CreateSessionWithOptions(windowHandle, capture.DefaultOptions())
}

// CreateSessionWithOptions starts capturing with explicit options.
func CreateSessionWithOptions(windowHandle uint64, opts capture.Options) Handle {
	if windowHandle == 0 {
		return 0
	}
	s, err := openSession(uintptr(windowHandle), opts)
	if err != nil {
		log.Warn("create session failed", "hwnd", windowHandle, "error", err)
		return 0
	}
	mu.Lock()
	h := nextID
	nextID++
	sessions[h] = s
	mu.Unlock()
	return h
}

// DestroySession closes the session and invalidates the handle. Unknown
// handles are ignored.
func DestroySession(h Handle) {
	mu.Lock()
	s, ok := sessions[h]
	if ok {
		delete(sessions, h)
	}
	mu.Unlock()
	if !ok {
		return
	}
	if err := s.Close(); err != nil {
		log.Warn("session close failed", "handle", uint64(h), "error", err)
	}
}

// GetCaptureStatus returns the session lifecycle state as an integer
// (created=0, capturing=1, closing=2, destroyed=3), or -1 for an unknown
// handle.
func GetCaptureStatus(h Handle) int32 {
	s, ok := lookup(h)
	if !ok {
		return -1
	}
	return int32(s.State())
}

// GetLatestFrame copies the newest published frame into dst. ok is false
// with no copy performed when nothing is published yet or dst is too small;
// width and height still describe the frame so the caller can resize.
func GetLatestFrame(h Handle, dst []byte) (width, height, n int, ok bool) {
	s, found := lookup(h)
	if !found {
		return 0, 0, 0, false
	}
	width, height, n, _, ok = s.GetLatestFrame(dst)
	return width, height, n, ok
}

// PeekLatestFrame reports the newest frame's dimensions and required buffer
// size without copying.
func PeekLatestFrame(h Handle) (width, height, required int, ok bool) {
	s, found := lookup(h)
	if !found {
		return 0, 0, 0, false
	}
	return s.PeekLatestFrame()
}

// AcquireLatestFrame borrows the published frame without copying. The
// returned bytes are stable until ReleaseLatestFrame; while borrowed, new
// frames are dropped rather than swapped in.
func AcquireLatestFrame(h Handle) (data []byte, width, height int, ok bool) {
	s, found := lookup(h)
	if !found {
		return nil, 0, 0, false
	}
	return s.AcquireLatestFrame()
}

// ReleaseLatestFrame ends a borrow started by AcquireLatestFrame.
func ReleaseLatestFrame(h Handle) {
	if s, ok := lookup(h); ok {
		s.ReleaseLatestFrame()
	}
}

// GetFrameCount returns the number of frames published so far, or 0 for an
// unknown handle.
func GetFrameCount(h Handle) uint64 {
	s, ok := lookup(h)
	if !ok {
		return 0
	}
	return s.FrameCount()
}

// GetReaderCount returns the number of outstanding acquisitions.
func GetReaderCount(h Handle) int32 {
	s, ok := lookup(h)
	if !ok {
		return 0
	}
	return s.ReaderCount()
}

// GetMetrics returns a snapshot of the session's pipeline counters.
func GetMetrics(h Handle) (capture.MetricsSnapshot, bool) {
	s, ok := lookup(h)
	if !ok {
		return capture.MetricsSnapshot{}, false
	}
	return s.Metrics(), true
}

// SetMaxResolution caps published frame dimensions; zero disables scaling.
func SetMaxResolution(h Handle, maxWidth, maxHeight int) {
	if s, ok := lookup(h); ok {
		s.SetMaxResolution(maxWidth, maxHeight)
	}
}

// SetCropRect selects a source sub-rectangle; zero width or height disables
// cropping. Out-of-range values are clamped.
func SetCropRect(h Handle, x, y, width, height int) {
	if s, ok := lookup(h); ok {
		s.SetCropRect(x, y, width, height)
	}
}

// SetVrrEnabled toggles tearing on the refresh-hint present.
func SetVrrEnabled(h Handle, enabled bool) {
	if s, ok := lookup(h); ok {
		s.SetVrrEnabled(enabled)
	}
}

// SetInteropEnabled toggles interop-only mode (GPU texture path only, no
// CPU frames).
func SetInteropEnabled(h Handle, enabled bool) {
	if s, ok := lookup(h); ok {
		s.SetInteropEnabled(enabled)
	}
}

// SetBorderRequired toggles the OS capture border, best-effort.
func SetBorderRequired(h Handle, required bool) {
	if s, ok := lookup(h); ok {
		s.SetBorderRequired(required)
	}
}

// GetD3D11Device returns the native graphics device pointer, or 0.
func GetD3D11Device(h Handle) uintptr {
	s, ok := lookup(h)
	if !ok {
		return 0
	}
	return s.Device()
}

// GetLatestD3DTexture returns the native pointer of the most recent GPU
// texture, or 0. Valid only until the next frame arrival.
func GetLatestD3DTexture(h Handle) uintptr {
	s, ok := lookup(h)
	if !ok {
		return 0
	}
	return s.LatestTexture()
}

// GetSharedHandle returns an OS shareable handle derived from the latest
// GPU texture, or 0.
func GetSharedHandle(h Handle) uintptr {
	s, ok := lookup(h)
	if !ok {
		return 0
	}
	return s.SharedHandle()
}
