// Package server exposes capture sessions to local consumers over WebSocket
// and, on Windows, a named pipe. Sessions are shared: all consumers of the
// same window handle attach to one underlying capture session, which is torn
// down when the last consumer detaches.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucentview/capturebridge/internal/capture"
	"github.com/lucentview/capturebridge/internal/logging"
	"github.com/lucentview/capturebridge/internal/winenum"
)

var log = logging.L("server")

// FrameSource is the slice of a capture session the transports need.
type FrameSource interface {
	GetLatestFrame(dst []byte) (width, height, n int, count uint64, ok bool)
	PeekLatestFrame() (width, height, required int, ok bool)
	FrameCount() uint64
	Metrics() capture.MetricsSnapshot
	SetMaxResolution(maxWidth, maxHeight int)
	SetCropRect(x, y, width, height int)
	Close() error
}

// Opener creates a frame source for a window handle. The default opener
// starts a real capture session; tests substitute a fake.
type Opener func(windowHandle uint64) (FrameSource, error)

// Config holds the server settings.
type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string

	// StreamFPS is the frame poll rate per streaming client. Zero means 30.
	StreamFPS int
}

// Server multiplexes capture sessions across streaming clients.
type Server struct {
	cfg  Config
	open Opener

	mu       sync.Mutex
	sessions map[uint64]*sharedSource
}

// sharedSource refcounts one capture session across its consumers.
type sharedSource struct {
	src  FrameSource
	refs int
}

// New creates a server. A nil opener starts real capture sessions.
func New(cfg Config, open Opener) *Server {
	if open == nil {
		open = func(windowHandle uint64) (FrameSource, error) {
			return capture.NewSession(uintptr(windowHandle), capture.DefaultOptions())
		}
	}
	if cfg.StreamFPS <= 0 {
		cfg.StreamFPS = 30
	}
	return &Server{
		cfg:      cfg,
		open:     open,
		sessions: make(map[uint64]*sharedSource),
	}
}

// acquireSource attaches to the shared session for a window handle, creating
// it on first use. The returned release must be called exactly once; the
// session closes when the last consumer releases it.
func (s *Server) acquireSource(handle uint64) (FrameSource, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.sessions[handle]
	if !ok {
		src, err := s.open(handle)
		if err != nil {
			return nil, nil, err
		}
		sh = &sharedSource{src: src}
		s.sessions[handle] = sh
		log.Info("capture session opened", "hwnd", fmt.Sprintf("0x%X", handle))
	}
	sh.refs++

	release := func() {
		s.mu.Lock()
		sh.refs--
		last := sh.refs == 0
		if last {
			delete(s.sessions, handle)
		}
		s.mu.Unlock()
		if last {
			if err := sh.src.Close(); err != nil {
				log.Warn("session close failed", "hwnd", fmt.Sprintf("0x%X", handle), "error", err)
			} else {
				log.Info("capture session closed", "hwnd", fmt.Sprintf("0x%X", handle))
			}
		}
	}
	return sh.src, release, nil
}

// sessionCount returns the number of open shared sessions.
func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/windows", s.handleWindows)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/stream", s.handleStream)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := winenum.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	filter := winenum.Filter{
		TitleContains: r.URL.Query().Get("title"),
		Process:       r.URL.Query().Get("process"),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(filter.Apply(windows))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snapshots := make(map[string]capture.MetricsSnapshot, len(s.sessions))
	for handle, sh := range s.sessions {
		snapshots[fmt.Sprintf("0x%X", handle)] = sh.src.Metrics()
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshots)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	// Local bridge, any origin on the bound interface is trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades to WebSocket and streams frames for the requested
// window handle as binary messages (header + BGRA payload).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	handle, err := parseHandle(r.URL.Query().Get("window"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	src, release, err := s.acquireSource(handle)
	if err != nil {
		http.Error(w, fmt.Sprintf("open capture: %v", err), http.StatusBadGateway)
		return
	}
	defer release()

	applyStreamParams(src, r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The read pump only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.streamFrames(conn, src, done)
}

// applyStreamParams applies per-stream crop and resolution settings from the
// request query.
func applyStreamParams(src FrameSource, r *http.Request) {
	q := r.URL.Query()
	maxW, _ := strconv.Atoi(q.Get("max_width"))
	maxH, _ := strconv.Atoi(q.Get("max_height"))
	if maxW > 0 || maxH > 0 {
		src.SetMaxResolution(maxW, maxH)
	}
	if crop := q.Get("crop"); crop != "" {
		parts := strings.Split(crop, ",")
		if len(parts) == 4 {
			x, _ := strconv.Atoi(parts[0])
			y, _ := strconv.Atoi(parts[1])
			cw, _ := strconv.Atoi(parts[2])
			ch, _ := strconv.Atoi(parts[3])
			src.SetCropRect(x, y, cw, ch)
		}
	}
}

// streamFrames polls the source at the configured rate and sends each newly
// published frame once. The message buffer is reused across frames and grown
// on resolution changes.
func (s *Server) streamFrames(conn *websocket.Conn, src FrameSource, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.StreamFPS))
	defer ticker.Stop()

	var msg []byte
	var lastCount uint64

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if src.FrameCount() == lastCount {
			continue
		}

		// count travels with the copy so the header always names the
		// generation the payload bytes belong to.
		width, height, n, count, ok := src.GetLatestFrame(payload(msg))
		if !ok {
			if width <= 0 || height <= 0 {
				continue // nothing published yet
			}
			// Destination too small: grow to the reported size and retry.
			msg = make([]byte, headerSize+width*height*4)
			width, height, n, count, ok = src.GetLatestFrame(payload(msg))
			if !ok {
				continue
			}
		}

		hdr := frameHeader{
			Width:      uint32(width),
			Height:     uint32(height),
			FrameCount: count,
			Size:       uint32(n),
		}
		hdr.encode(msg)
		lastCount = count

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, msg[:headerSize+n]); err != nil {
			log.Debug("stream write failed", "error", err)
			return
		}
	}
}

// payload returns the pixel region of a frame message buffer.
func payload(msg []byte) []byte {
	if len(msg) <= headerSize {
		return nil
	}
	return msg[headerSize:]
}

func parseHandle(raw string) (uint64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing window parameter")
	}
	var handle uint64
	var err error
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		handle, err = strconv.ParseUint(raw[2:], 16, 64)
	} else {
		handle, err = strconv.ParseUint(raw, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("bad window handle %q", raw)
	}
	if handle == 0 {
		return 0, fmt.Errorf("window handle must be non-zero")
	}
	return handle, nil
}
