//go:build !windows || cgo

package capture

// newPlatformBackend reports that compositor capture is unavailable. The
// Windows implementation requires the pure-Go COM path (no CGO).
func newPlatformBackend(windowHandle uintptr, opts Options) (backend, error) {
	return nil, ErrNotSupported
}
