// Package capture implements a per-window compositor capture session: it
// attaches to the OS capture API for a window handle, receives GPU-resident
// frames, optionally crops and GPU-rescales them, and publishes the most
// recent frame to consumers through a copy-based CPU path and a zero-copy
// GPU-handle path. The producer (the compositor callback) never blocks on
// consumers; it drops frames instead.
//
// The Windows implementation uses Windows.Graphics.Capture + D3D11 via raw
// COM vtable calls (pure Go, no CGO). Other platforms return ErrNotSupported.
package capture

import (
	"fmt"

	"github.com/lucentview/capturebridge/internal/logging"
)

var log = logging.L("capture")

// MaxDimension is the defensive bound on any source, crop, or scale axis.
// Compositor input larger than this is treated as malformed and rejected.
const MaxDimension = 8192

// BytesPerPixel is fixed: one 32-bit BGRA format, 4-byte-aligned rows.
// Published buffers always use a row stride of width*BytesPerPixel,
// independent of the hardware stride.
const BytesPerPixel = 4

// State is the session lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateCapturing
	StateClosing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateCapturing:
		return "capturing"
	case StateClosing:
		return "closing"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options holds the initial configuration for a session. All fields can be
// changed after creation through the session setters; changes take effect on
// the next frame arrival.
type Options struct {
	// MaxResolution caps published frame dimensions; zero on either axis
	// disables downscaling.
	MaxResolution ResolutionCap

	// Crop selects a source sub-rectangle; zero width or height disables it.
	Crop CropRect

	// VrrEnabled allows tearing on the advisory refresh-hint present.
	VrrEnabled bool

	// BorderRequired keeps the OS capture border around the target window.
	BorderRequired bool

	// InteropEnabled skips CPU readback entirely; consumers are expected to
	// use the zero-copy texture/shared-handle path.
	InteropEnabled bool

	// FramePoolBuffers is the compositor frame pool depth. Zero means the
	// default of 10 (high-refresh-rate stability).
	FramePoolBuffers int
}

// DefaultOptions returns the default session configuration.
func DefaultOptions() Options {
	return Options{FramePoolBuffers: 10}
}

// ErrNotSupported is returned when compositor capture is not available on
// this platform.
var ErrNotSupported = fmt.Errorf("compositor capture not supported on this platform")

// ErrSessionClosed is returned by operations on a closing or destroyed session.
var ErrSessionClosed = fmt.Errorf("capture session closed")

// ErrNoFrame indicates no frame has been published yet.
var ErrNoFrame = fmt.Errorf("no frame published")
