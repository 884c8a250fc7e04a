//go:build windows

package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// System and interactive users may connect; everyone else is rejected at the
// pipe ACL.
const pipeSecurityDescriptor = "D:P(A;;GA;;;SY)(A;;GRGW;;;IU)"

// PipeServer streams frames over a local named pipe for consumers that can't
// speak WebSocket (typically in-process native plugins).
//
// Protocol: the client writes one 8-byte little-endian window handle, then
// the server streams frame messages in the same header+payload format as the
// WebSocket stream until either side disconnects.
type PipeServer struct {
	srv  *Server
	name string
}

// NewPipeServer wraps a server with a named pipe listener.
func NewPipeServer(srv *Server, pipeName string) *PipeServer {
	return &PipeServer{srv: srv, name: pipeName}
}

// Run accepts pipe connections until ctx is cancelled.
func (p *PipeServer) Run(ctx context.Context) error {
	listener, err := winio.ListenPipe(p.name, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurityDescriptor,
		MessageMode:        true,
		InputBufferSize:    4096,
		OutputBufferSize:   1 << 20,
	})
	if err != nil {
		return fmt.Errorf("listen pipe %s: %w", p.name, err)
	}
	log.Info("pipe listening", "name", p.name)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, winio.ErrPipeListenerClosed) {
				return nil
			}
			log.Warn("pipe accept failed", "error", err)
			continue
		}
		go p.serveConn(ctx, conn)
	}
}

func (p *PipeServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req [8]byte
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		log.Debug("pipe handshake failed", "error", err)
		return
	}
	handle := binary.LittleEndian.Uint64(req[:])
	if handle == 0 {
		return
	}

	src, release, err := p.srv.acquireSource(handle)
	if err != nil {
		log.Warn("pipe open capture failed", "hwnd", fmt.Sprintf("0x%X", handle), "error", err)
		return
	}
	defer release()

	ticker := time.NewTicker(time.Second / time.Duration(p.srv.cfg.StreamFPS))
	defer ticker.Stop()

	var msg []byte
	var lastCount uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if src.FrameCount() == lastCount {
			continue
		}

		width, height, n, count, ok := src.GetLatestFrame(payload(msg))
		if !ok {
			if width <= 0 || height <= 0 {
				continue
			}
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
		if _, err := conn.Write(msg[:headerSize+n]); err != nil {
			log.Debug("pipe write failed", "error", err)
			return
		}
	}
}
