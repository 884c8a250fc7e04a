//go:build !windows

package server

import (
	"context"

	"github.com/lucentview/capturebridge/internal/capture"
)

// PipeServer is only available on Windows.
type PipeServer struct{}

func NewPipeServer(srv *Server, pipeName string) *PipeServer {
	return &PipeServer{}
}

func (p *PipeServer) Run(ctx context.Context) error {
	return capture.ErrNotSupported
}
