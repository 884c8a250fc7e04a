package bridge

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/lucentview/capturebridge/internal/capture"
)

type fakeSession struct {
	state   capture.State
	frames  atomic.Uint64
	readers atomic.Int32
	closed  atomic.Bool

	maxW, maxH       int
	crop             [4]int
	vrr, interop     bool
	border           bool
	device, tex, shr uintptr
}

func (f *fakeSession) State() capture.State { return f.state }

func (f *fakeSession) GetLatestFrame(dst []byte) (int, int, int, uint64, bool) {
	count := f.frames.Load()
	if count == 0 {
		return 0, 0, 0, 0, false
	}
	if len(dst) < 16 {
		return 2, 2, 0, count, false
	}
	return 2, 2, copy(dst, make([]byte, 16)), count, true
}

func (f *fakeSession) PeekLatestFrame() (int, int, int, bool) {
	if f.frames.Load() == 0 {
		return 0, 0, 0, false
	}
	return 2, 2, 16, true
}

func (f *fakeSession) AcquireLatestFrame() ([]byte, int, int, bool) {
	if f.frames.Load() == 0 {
		return nil, 0, 0, false
	}
	f.readers.Add(1)
	return make([]byte, 16), 2, 2, true
}

func (f *fakeSession) ReleaseLatestFrame()              { f.readers.Add(-1) }
func (f *fakeSession) FrameCount() uint64               { return f.frames.Load() }
func (f *fakeSession) ReaderCount() int32               { return f.readers.Load() }
func (f *fakeSession) Metrics() capture.MetricsSnapshot { return capture.MetricsSnapshot{} }
func (f *fakeSession) SetMaxResolution(w, h int)        { f.maxW, f.maxH = w, h }
func (f *fakeSession) SetCropRect(x, y, w, h int)       { f.crop = [4]int{x, y, w, h} }
func (f *fakeSession) SetVrrEnabled(enabled bool)       { f.vrr = enabled }
func (f *fakeSession) SetInteropEnabled(enabled bool)   { f.interop = enabled }
func (f *fakeSession) SetBorderRequired(required bool)  { f.border = required }
func (f *fakeSession) Device() uintptr                  { return f.device }
func (f *fakeSession) LatestTexture() uintptr           { return f.tex }
func (f *fakeSession) SharedHandle() uintptr            { return f.shr }
func (f *fakeSession) Close() error                     { f.closed.Store(true); return nil }

// withFakeOpener swaps the session factory for the duration of a test.
func withFakeOpener(t *testing.T, fn func(uintptr, capture.Options) (session, error)) {
	t.Helper()
	orig := openSession
	openSession = fn
	t.Cleanup(func() { openSession = orig })
}

func newFakeHandle(t *testing.T) (Handle, *fakeSession) {
	t.Helper()
	fs := &fakeSession{state: capture.StateCapturing, device: 0xD3, tex: 0x7E, shr: 0x5A}
	withFakeOpener(t, func(uintptr, capture.Options) (session, error) { return fs, nil })
	h := CreateSession(0x1234)
	if h == 0 {
		t.Fatal("CreateSession returned 0")
	}
	t.Cleanup(func() { DestroySession(h) })
	return h, fs
}

func TestCreateSessionFailureReturnsZero(t *testing.T) {
	withFakeOpener(t, func(uintptr, capture.Options) (session, error) {
		return nil, errors.New("window not capturable")
	})
	if h := CreateSession(0x1234); h != 0 {
		t.Fatalf("handle = %d on open failure, want 0", h)
	}
	if h := CreateSession(0); h != 0 {
		t.Fatalf("handle = %d for null window, want 0", h)
	}
}

func TestHandlesAreUniqueAndNonZero(t *testing.T) {
	withFakeOpener(t, func(uintptr, capture.Options) (session, error) {
		return &fakeSession{state: capture.StateCapturing}, nil
	})
	a := CreateSession(0x1)
	b := CreateSession(0x2)
	defer DestroySession(a)
	defer DestroySession(b)
	if a == 0 || b == 0 || a == b {
		t.Fatalf("handles = %d, %d", a, b)
	}
}

func TestDestroySessionClosesAndInvalidates(t *testing.T) {
	h, fs := newFakeHandle(t)

	DestroySession(h)
	if !fs.closed.Load() {
		t.Fatal("session not closed")
	}
	if GetCaptureStatus(h) != -1 {
		t.Fatal("destroyed handle still resolves")
	}
	// Double destroy and stale-handle operations are no-ops.
	DestroySession(h)
	if _, _, _, ok := GetLatestFrame(h, make([]byte, 64)); ok {
		t.Fatal("stale handle returned a frame")
	}
}

func TestFrameAccessThroughHandle(t *testing.T) {
	h, fs := newFakeHandle(t)
	fs.frames.Store(3)

	if got := GetFrameCount(h); got != 3 {
		t.Fatalf("GetFrameCount = %d", got)
	}
	w, hh, required, ok := PeekLatestFrame(h)
	if !ok || w != 2 || hh != 2 || required != 16 {
		t.Fatalf("peek = (%d,%d,%d,%v)", w, hh, required, ok)
	}
	if _, _, n, ok := GetLatestFrame(h, make([]byte, 16)); !ok || n != 16 {
		t.Fatalf("copy = (%d,%v)", n, ok)
	}

	if _, _, _, ok := AcquireLatestFrame(h); !ok {
		t.Fatal("acquire failed")
	}
	if GetReaderCount(h) != 1 {
		t.Fatalf("readerCount = %d", GetReaderCount(h))
	}
	ReleaseLatestFrame(h)
	if GetReaderCount(h) != 0 {
		t.Fatalf("readerCount = %d after release", GetReaderCount(h))
	}
}

func TestSettersForwardThroughHandle(t *testing.T) {
	h, fs := newFakeHandle(t)

	SetMaxResolution(h, 960, 540)
	SetCropRect(h, 10, 20, 300, 400)
	SetVrrEnabled(h, true)
	SetInteropEnabled(h, true)
	SetBorderRequired(h, true)

	if fs.maxW != 960 || fs.maxH != 540 {
		t.Fatalf("max resolution = %dx%d", fs.maxW, fs.maxH)
	}
	if fs.crop != [4]int{10, 20, 300, 400} {
		t.Fatalf("crop = %v", fs.crop)
	}
	if !fs.vrr || !fs.interop || !fs.border {
		t.Fatal("boolean setters not forwarded")
	}

	// Setters on unknown handles are no-ops, not panics.
	SetMaxResolution(Handle(999999), 1, 1)
	SetVrrEnabled(Handle(999999), true)
}

func TestGpuInteropAccessors(t *testing.T) {
	h, fs := newFakeHandle(t)

	if GetD3D11Device(h) != fs.device {
		t.Fatal("device pointer not forwarded")
	}
	if GetLatestD3DTexture(h) != fs.tex {
		t.Fatal("texture pointer not forwarded")
	}
	if GetSharedHandle(h) != fs.shr {
		t.Fatal("shared handle not forwarded")
	}
	if GetD3D11Device(Handle(999999)) != 0 {
		t.Fatal("unknown handle must return 0")
	}
}

func TestGetCaptureStatus(t *testing.T) {
	h, fs := newFakeHandle(t)
	if GetCaptureStatus(h) != int32(capture.StateCapturing) {
		t.Fatalf("status = %d", GetCaptureStatus(h))
	}
	fs.state = capture.StateClosing
	if GetCaptureStatus(h) != int32(capture.StateClosing) {
		t.Fatalf("status = %d", GetCaptureStatus(h))
	}
}
