// Package winenum enumerates top-level capturable windows so consumers can
// pick a window handle to attach a capture session to.
package winenum

import (
	"fmt"
	"strings"
)

// Window describes one top-level window.
type Window struct {
	Handle  uint64 `json:"handle"`
	Title   string `json:"title"`
	PID     int32  `json:"pid"`
	Process string `json:"process"`
}

// ErrNotSupported is returned on platforms without a window system we can
// enumerate.
var ErrNotSupported = fmt.Errorf("window enumeration not supported on this platform")

// Filter narrows an enumeration result.
type Filter struct {
	// TitleContains keeps windows whose title contains the substring,
	// case-insensitive. Empty keeps all.
	TitleContains string

	// Process keeps windows owned by the named executable,
	// case-insensitive. Empty keeps all.
	Process string
}

// Apply returns the windows matching the filter.
func (f Filter) Apply(windows []Window) []Window {
	if f.TitleContains == "" && f.Process == "" {
		return windows
	}
	title := strings.ToLower(f.TitleContains)
	proc := strings.ToLower(f.Process)
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if title != "" && !strings.Contains(strings.ToLower(w.Title), title) {
			continue
		}
		if proc != "" && strings.ToLower(w.Process) != proc {
			continue
		}
		out = append(out, w)
	}
	return out
}

// List enumerates visible, titled top-level windows.
func List() ([]Window, error) {
	return listWindows()
}
