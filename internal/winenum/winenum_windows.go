//go:build windows

package winenum

import (
	"unsafe"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"

	"github.com/lucentview/capturebridge/internal/logging"
)

var log = logging.L("winenum")

var (
	modUser32                    = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows              = modUser32.NewProc("EnumWindows")
	procIsWindowVisible          = modUser32.NewProc("IsWindowVisible")
	procGetWindowTextW           = modUser32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW     = modUser32.NewProc("GetWindowTextLengthW")
	procGetWindowThreadProcessId = modUser32.NewProc("GetWindowThreadProcessId")
)

func windowTitle(hwnd uintptr) string {
	n, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), n+1)
	return windows.UTF16ToString(buf)
}

type enumState struct {
	result []Window
	// Process names are looked up once per unique PID; a desktop commonly
	// has many windows per process.
	procNames map[int32]string
}

// Callbacks registered with the runtime are never released, so the
// enumeration thunk is created exactly once and per-call state travels
// through the lParam argument.
var enumWindowsCallback = windows.NewCallback(func(hwnd uintptr, lparam uintptr) uintptr {
	state := (*enumState)(unsafe.Pointer(lparam))

	if visible, _, _ := procIsWindowVisible.Call(hwnd); visible == 0 {
		return 1 // continue enumeration
	}
	title := windowTitle(hwnd)
	if title == "" {
		return 1
	}

	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))

	name, cached := state.procNames[int32(pid)]
	if !cached {
		if p, err := process.NewProcess(int32(pid)); err == nil {
			name, _ = p.Name()
		}
		state.procNames[int32(pid)] = name
	}

	state.result = append(state.result, Window{
		Handle:  uint64(hwnd),
		Title:   title,
		PID:     int32(pid),
		Process: name,
	})
	return 1
})

func listWindows() ([]Window, error) {
	state := &enumState{procNames: map[int32]string{}}

	if ret, _, err := procEnumWindows.Call(enumWindowsCallback, uintptr(unsafe.Pointer(state))); ret == 0 {
		log.Warn("EnumWindows failed", "error", err)
		return nil, err
	}
	return state.result, nil
}
