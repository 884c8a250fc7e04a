//go:build !windows

package winenum

func listWindows() ([]Window, error) {
	return nil, ErrNotSupported
}
