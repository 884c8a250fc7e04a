package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Session owns one compositor capture for one window handle: the graphics
// device, the crop/scale pipeline, the publish buffer, and the latest GPU
// texture for zero-copy consumers.
//
// Lifecycle: Created -> Capturing -> Closing -> Destroyed. Close marks the
// session closing, waits for in-flight frame callbacks to drain, and only
// then releases graphics resources, so a callback that started just before
// the flag was set can never touch freed state.
type Session struct {
	be   backend
	pub  publishBuffer
	met  *CaptureMetrics
	hwnd uintptr

	state    atomic.Int32
	closing  atomic.Bool
	inflight atomic.Int64

	crop    atomic.Pointer[CropRect]
	maxRes  atomic.Pointer[ResolutionCap]
	vrr     atomic.Bool
	interop atomic.Bool

	// True while publishes are being refused by an outstanding reader.
	// Lets a blocked streak count as one drop instead of one per refresh.
	dropStreak atomic.Bool

	// texMu guards the latest-texture slot. The zero-copy path has no
	// synchronization with the CPU buffer path; this mutex only protects
	// the slot itself against a concurrent swap.
	texMu  sync.Mutex
	latest texture
}

// NewSession creates a capture session for the given window handle and
// starts frame delivery. On any device, capture-item, or frame-pool
// creation error all partially created state is released and the error is
// returned.
func NewSession(windowHandle uintptr, opts Options) (*Session, error) {
	be, err := newPlatformBackend(windowHandle, opts)
	if err != nil {
		return nil, err
	}
	s, err := newSessionWithBackend(windowHandle, be, opts)
	if err != nil {
		be.Close()
		return nil, err
	}
	return s, nil
}

// newSessionWithBackend wires a session to an already-constructed backend.
// Split out so tests can drive the pipeline with a fake backend.
func newSessionWithBackend(windowHandle uintptr, be backend, opts Options) (*Session, error) {
	s := &Session{
		be:   be,
		met:  newCaptureMetrics(),
		hwnd: windowHandle,
	}
	crop := clampCrop(opts.Crop.X, opts.Crop.Y, opts.Crop.Width, opts.Crop.Height)
	s.crop.Store(&crop)
	res := opts.MaxResolution
	s.maxRes.Store(&res)
	s.vrr.Store(opts.VrrEnabled)
	s.interop.Store(opts.InteropEnabled)
	s.state.Store(int32(StateCreated))

	if err := be.Start(s.handleFrame); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}
	s.state.Store(int32(StateCapturing))
	log.Info("capture session started", "hwnd", fmt.Sprintf("0x%X", windowHandle))
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// enterFrame registers an in-flight callback. Returns false when the
// session is closing; the callback must return immediately without touching
// buffers.
func (s *Session) enterFrame() bool {
	s.inflight.Add(1)
	if s.closing.Load() {
		s.inflight.Add(-1)
		return false
	}
	return true
}

func (s *Session) leaveFrame() {
	s.inflight.Add(-1)
}

// handleFrame is the frame-arrival callback. It may run on arbitrary
// OS-managed threads and must never block on consumers or let an error
// escape to the capture producer; any per-frame failure aborts processing
// of that frame only. The frame handle is released unconditionally.
func (s *Session) handleFrame(f capturedFrame) {
	defer f.Release()

	if !s.enterFrame() {
		return
	}
	defer s.leaveFrame()

	start := time.Now()

	tex, err := f.Texture()
	if err != nil {
		s.met.RecordSkip()
		return
	}
	width, height := tex.Size()
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		s.met.RecordSkip()
		log.Debug("rejecting malformed frame", "width", width, "height", height)
		return
	}

	cur := tex
	if r := *s.crop.Load(); r.Active() {
		cropped, err := s.be.Crop(cur, r)
		if err != nil {
			// The frame still publishes at full size below, so this is not a
			// skip; track it separately.
			s.met.RecordCropFailure()
			log.Debug("crop failed", "error", err)
		} else {
			cur = cropped
			width, height = r.Width, r.Height
		}
	}

	// Always retain the (possibly cropped) texture for zero-copy consumers,
	// regardless of whether CPU readback happens below.
	s.setLatestTexture(cur)

	if !s.interop.Load() {
		s.readbackAndPublish(cur, width, height)
	}

	s.be.PresentHint(s.vrr.Load())
	s.met.RecordCapture(time.Since(start))
}

// readbackAndPublish runs the scale stage when the resolution cap is
// exceeded, copies the result to a local CPU buffer, and attempts the
// publish swap.
func (s *Session) readbackAndPublish(cur texture, width, height int) {
	if res := *s.maxRes.Load(); res.Exceeded(width, height) {
		targetW, targetH := res.Fit(width, height)
		scaleStart := time.Now()
		scaled, err := s.be.Scale(cur, targetW, targetH)
		s.met.RecordScale(time.Since(scaleStart))
		if err != nil {
			// Fall through to the unscaled path rather than lose the frame.
			log.Debug("scale failed", "error", err, "targetW", targetW, "targetH", targetH)
		} else {
			s.setLatestTexture(scaled)
			cur, width, height = scaled, targetW, targetH
		}
	}

	local := getFrameBuf(width * height * BytesPerPixel)
	readStart := time.Now()
	if err := s.be.Readback(cur, local); err != nil {
		s.met.RecordReadback(time.Since(readStart))
		s.met.RecordSkip()
		putFrameBuf(local)
		log.Debug("readback failed", "error", err)
		return
	}
	s.met.RecordReadback(time.Since(readStart))

	old, ok := s.pub.tryPublish(local, width, height)
	if !ok {
		// An outstanding reader holds the published buffer: drop, never block.
		putFrameBuf(local)
		if !s.dropStreak.Swap(true) {
			s.met.RecordDrop()
			log.Debug("frame dropped, reader active", "readers", s.pub.readerCount())
		} else {
			s.met.RecordSkip()
		}
		return
	}
	s.dropStreak.Store(false)
	s.met.RecordPublish()
	putFrameBuf(old)
}

func (s *Session) setLatestTexture(t texture) {
	retained := t.Retain()
	s.texMu.Lock()
	old := s.latest
	s.latest = retained
	s.texMu.Unlock()
	if old != nil {
		old.Release()
	}
}

// GetLatestFrame copies the published frame into dst. ok is false, with no
// copy performed, when nothing has been published yet or dst is too small;
// width/height still describe the frame so the caller can resize and retry.
// count is the frame counter of the copied generation, consistent with the
// returned bytes.
func (s *Session) GetLatestFrame(dst []byte) (width, height, n int, count uint64, ok bool) {
	return s.pub.copyTo(dst)
}

// PeekLatestFrame returns the published frame dimensions and required
// buffer size without copying.
func (s *Session) PeekLatestFrame() (width, height, required int, ok bool) {
	return s.pub.peek()
}

// AcquireLatestFrame borrows the published buffer without copying. While
// the borrow is outstanding all publishes are suppressed, so the returned
// bytes are stable; the slice must not be retained past the matching
// ReleaseLatestFrame.
func (s *Session) AcquireLatestFrame() (data []byte, width, height int, ok bool) {
	return s.pub.acquire()
}

// ReleaseLatestFrame ends a borrow started by AcquireLatestFrame.
func (s *Session) ReleaseLatestFrame() {
	s.pub.release()
}

// FrameCount returns the number of frames published so far. It is strictly
// increasing and increments by exactly one per successful publish.
func (s *Session) FrameCount() uint64 {
	return s.pub.count()
}

// ReaderCount returns the number of outstanding zero-copy acquisitions.
func (s *Session) ReaderCount() int32 {
	return s.pub.readerCount()
}

// Metrics returns a snapshot of the session's pipeline counters.
func (s *Session) Metrics() MetricsSnapshot {
	return s.met.Snapshot()
}

// SetMaxResolution caps published frame dimensions; zero on either axis
// disables downscaling. Takes effect on the next frame.
func (s *Session) SetMaxResolution(maxWidth, maxHeight int) {
	res := ResolutionCap{
		MaxWidth:  clampInt(maxWidth, 0, MaxDimension),
		MaxHeight: clampInt(maxHeight, 0, MaxDimension),
	}
	s.maxRes.Store(&res)
	log.Debug("max resolution set", "maxWidth", res.MaxWidth, "maxHeight", res.MaxHeight)
}

// SetCropRect sets the source crop rectangle. Inputs are clamped to
// [0, MaxDimension] with negatives coerced to 0; zero width or height
// disables cropping. Takes effect on the next frame.
func (s *Session) SetCropRect(x, y, width, height int) {
	r := clampCrop(x, y, width, height)
	s.crop.Store(&r)
	log.Debug("crop rect set", "x", r.X, "y", r.Y, "width", r.Width, "height", r.Height)
}

// CropRect returns the currently configured crop rectangle.
func (s *Session) CropRect() CropRect {
	return *s.crop.Load()
}

// MaxResolution returns the currently configured resolution cap.
func (s *Session) MaxResolution() ResolutionCap {
	return *s.maxRes.Load()
}

// SetVrrEnabled toggles tearing on the advisory refresh-hint present.
func (s *Session) SetVrrEnabled(enabled bool) {
	s.vrr.Store(enabled)
}

// SetInteropEnabled toggles interop-only mode: when enabled, CPU readback
// and publishing are skipped and only the zero-copy texture path advances.
func (s *Session) SetInteropEnabled(enabled bool) {
	s.interop.Store(enabled)
}

// SetBorderRequired toggles the OS capture border, best-effort.
func (s *Session) SetBorderRequired(required bool) {
	if err := s.be.SetBorderRequired(required); err != nil {
		log.Debug("set border required failed", "error", err)
	}
}

// Device returns the native graphics device pointer for consumers building
// their own pipeline against the same device. May be 0.
func (s *Session) Device() uintptr {
	return s.be.Device()
}

// LatestTexture returns the native pointer of the most recent GPU texture.
// Valid only until the next frame arrival overwrites it; consumers must not
// retain it past a single use. May be 0.
func (s *Session) LatestTexture() uintptr {
	s.texMu.Lock()
	defer s.texMu.Unlock()
	if s.latest == nil {
		return 0
	}
	return s.latest.Handle()
}

// SharedHandle derives an OS shareable handle from the latest GPU texture
// for cross-process or cross-API consumption. May be 0.
func (s *Session) SharedHandle() uintptr {
	s.texMu.Lock()
	t := s.latest
	s.texMu.Unlock()
	if t == nil {
		return 0
	}
	return s.be.SharedHandle(t)
}

// quiesceTimeout bounds the wait for in-flight callbacks during Close.
const quiesceTimeout = 2 * time.Second

// Close tears the session down: marks it closing so all in-flight and
// future callbacks return immediately, waits for the in-flight count to
// drain, then unregisters listeners and releases graphics resources.
// Close is idempotent.
func (s *Session) Close() error {
	if s.closing.Swap(true) {
		return nil
	}
	s.state.Store(int32(StateClosing))

	deadline := time.Now().Add(quiesceTimeout)
	for s.inflight.Load() != 0 {
		if time.Now().After(deadline) {
			log.Warn("closing with frame callback still in flight", "inflight", s.inflight.Load())
			break
		}
		time.Sleep(time.Millisecond)
	}

	err := s.be.Close()

	s.texMu.Lock()
	if s.latest != nil {
		s.latest.Release()
		s.latest = nil
	}
	s.texMu.Unlock()

	s.state.Store(int32(StateDestroyed))
	log.Info("capture session destroyed", "hwnd", fmt.Sprintf("0x%X", s.hwnd), "frames", s.pub.count())
	return err
}
