package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucentview/capturebridge/internal/capture"
)

// fakeSource publishes a fixed-size synthetic frame whose count advances on
// every bump call.
type fakeSource struct {
	width, height int
	count         atomic.Uint64
	closed        atomic.Bool

	maxW, maxH atomic.Int64
	cropSet    atomic.Bool
}

func newFakeSource(w, h int) *fakeSource {
	return &fakeSource{width: w, height: h}
}

func (f *fakeSource) bump() { f.count.Add(1) }

func (f *fakeSource) GetLatestFrame(dst []byte) (int, int, int, uint64, bool) {
	count := f.count.Load()
	if count == 0 {
		return 0, 0, 0, 0, false
	}
	required := f.width * f.height * 4
	if len(dst) < required {
		return f.width, f.height, 0, count, false
	}
	for i := 0; i < required; i++ {
		dst[i] = byte(count)
	}
	return f.width, f.height, required, count, true
}

func (f *fakeSource) PeekLatestFrame() (int, int, int, bool) {
	if f.count.Load() == 0 {
		return 0, 0, 0, false
	}
	return f.width, f.height, f.width * f.height * 4, true
}

func (f *fakeSource) FrameCount() uint64 { return f.count.Load() }

func (f *fakeSource) Metrics() capture.MetricsSnapshot {
	return capture.MetricsSnapshot{FramesPublished: f.count.Load()}
}

func (f *fakeSource) SetMaxResolution(maxWidth, maxHeight int) {
	f.maxW.Store(int64(maxWidth))
	f.maxH.Store(int64(maxHeight))
}

func (f *fakeSource) SetCropRect(x, y, width, height int) { f.cropSet.Store(true) }

func (f *fakeSource) Close() error { f.closed.Store(true); return nil }

func newTestServer(t *testing.T, src *fakeSource) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{StreamFPS: 200}, func(windowHandle uint64) (FrameSource, error) {
		if windowHandle == 0xDEAD {
			return nil, errors.New("window gone")
		}
		return src, nil
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestParseHandle(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x1A2B", 0x1A2B, false},
		{"0X1a2b", 0x1A2B, false},
		{"4660", 4660, false},
		{"", 0, true},
		{"0x0", 0, true},
		{"zebra", 0, true},
	}
	for _, tc := range cases {
		got, err := parseHandle(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("parseHandle(%q) = (%d, %v)", tc.in, got, err)
		}
	}
}

func TestStreamDeliversFrames(t *testing.T) {
	src := newFakeSource(64, 32)
	src.bump()
	_, ts := newTestServer(t, src)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/stream?window=0x10"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	hdr, err := decodeFrameHeader(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hdr.Width != 64 || hdr.Height != 32 || hdr.FrameCount != 1 {
		t.Fatalf("header = %+v", hdr)
	}
	if len(msg) != headerSize+int(hdr.Size) {
		t.Fatalf("message length %d, want %d", len(msg), headerSize+int(hdr.Size))
	}
	if msg[headerSize] != 1 {
		t.Fatalf("payload byte = %d, want frame 1 fill", msg[headerSize])
	}

	// The same frame is never sent twice; the next message is frame 2.
	src.bump()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err = conn.ReadMessage(); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if hdr, _ = decodeFrameHeader(msg); hdr.FrameCount != 2 {
		t.Fatalf("second frame count = %d", hdr.FrameCount)
	}
}

// tearingSource publishes a new frame between the stream loop's dedup check
// and its copy, the window where header and payload could diverge.
type tearingSource struct {
	*fakeSource
	torn atomic.Bool
}

func (r *tearingSource) FrameCount() uint64 {
	c := r.fakeSource.FrameCount()
	if c > 0 && !r.torn.Swap(true) {
		r.bump()
	}
	return c
}

func TestStreamHeaderMatchesPayloadGeneration(t *testing.T) {
	src := &tearingSource{fakeSource: newFakeSource(4, 4)}
	src.bump()

	s := New(Config{StreamFPS: 200}, func(uint64) (FrameSource, error) { return src, nil })
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/stream?window=0x10"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	hdr, err := decodeFrameHeader(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := uint64(msg[headerSize]); hdr.FrameCount != got {
		t.Fatalf("header names frame %d over frame %d pixels", hdr.FrameCount, got)
	}
}

func TestStreamAppliesQueryParams(t *testing.T) {
	src := newFakeSource(64, 32)
	src.bump()
	_, ts := newTestServer(t, src)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(ts, "/v1/stream?window=0x10&max_width=960&max_height=540&crop=10,10,100,100"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	if src.maxW.Load() != 960 || src.maxH.Load() != 540 {
		t.Fatalf("max resolution = %dx%d", src.maxW.Load(), src.maxH.Load())
	}
	if !src.cropSet.Load() {
		t.Fatal("crop query param not applied")
	}
}

func TestStreamRejectsBadRequests(t *testing.T) {
	src := newFakeSource(64, 32)
	_, ts := newTestServer(t, src)

	for _, path := range []string{"/v1/stream", "/v1/stream?window=zebra", "/v1/stream?window=0"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/stream?window=0xDEAD")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("open failure: status %d, want 502", resp.StatusCode)
	}
}

func TestSharedSessionRefcounting(t *testing.T) {
	src := newFakeSource(8, 8)
	s, _ := newTestServer(t, src)

	a, releaseA, err := s.acquireSource(0x10)
	if err != nil {
		t.Fatal(err)
	}
	b, releaseB, err := s.acquireSource(0x10)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("same handle must share one session")
	}
	if s.sessionCount() != 1 {
		t.Fatalf("sessionCount = %d", s.sessionCount())
	}

	releaseA()
	if src.closed.Load() {
		t.Fatal("session closed while a consumer remains")
	}
	releaseB()
	if !src.closed.Load() {
		t.Fatal("session not closed after last release")
	}
	if s.sessionCount() != 0 {
		t.Fatalf("sessionCount = %d after all releases", s.sessionCount())
	}

	// A new acquire after full release opens a fresh session.
	if _, release, err := s.acquireSource(0x10); err != nil {
		t.Fatal(err)
	} else {
		release()
	}
}

func TestMetricsEndpoint(t *testing.T) {
	src := newFakeSource(8, 8)
	src.bump()
	s, ts := newTestServer(t, src)

	_, release, err := s.acquireSource(0x10)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	resp, err := http.Get(ts.URL + "/v1/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snapshots map[string]capture.MetricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap, ok := snapshots["0x10"]
	if !ok || snap.FramesPublished != 1 {
		t.Fatalf("snapshots = %+v", snapshots)
	}
}
