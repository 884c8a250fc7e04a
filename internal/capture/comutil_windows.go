//go:build windows && !cgo

package capture

import (
	"fmt"
	"syscall"
	"unsafe"
)

// COM vtable calling infrastructure for D3D11 and Windows.Graphics.Capture,
// pure Go via syscall: no CGO, no import libraries.

// comGUID is a COM GUID (128-bit).
type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// comCall invokes a COM vtable method at the given index.
// obj is a pointer to a COM interface (pointer to pointer to vtable).
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(comVtblFn(obj, vtableIdx), allArgs...)
	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

// comVtblFn resolves a COM vtable function pointer by index.
func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comAddRef calls IUnknown::AddRef (vtable index 1).
func comAddRef(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, vtblAddRef), obj)
	}
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, vtblRelease), obj)
	}
}

// comQueryInterface calls IUnknown::QueryInterface and returns the
// requested interface pointer.
func comQueryInterface(obj uintptr, iid *comGUID) (uintptr, error) {
	var out uintptr
	_, err := comCall(obj, vtblQueryInterface,
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)),
	)
	if err != nil {
		return 0, err
	}
	return out, nil
}

// IUnknown vtable layout, fixed by the COM ABI.
const (
	vtblQueryInterface = 0
	vtblAddRef         = 1
	vtblRelease        = 2
)

// --- DLL procs ---

var (
	d3d11DLL       = syscall.NewLazyDLL("d3d11.dll")
	d3dcompilerDLL = syscall.NewLazyDLL("d3dcompiler_47.dll")
	combaseDLL     = syscall.NewLazyDLL("combase.dll")

	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")
	procCreateD3DFromDXGI = d3d11DLL.NewProc("CreateDirect3D11DeviceFromDXGIDevice")
	procD3DCompile        = d3dcompilerDLL.NewProc("D3DCompile")

	procRoInitialize           = combaseDLL.NewProc("RoInitialize")
	procRoGetActivationFactory = combaseDLL.NewProc("RoGetActivationFactory")
	procWindowsCreateString    = combaseDLL.NewProc("WindowsCreateString")
	procWindowsDeleteString    = combaseDLL.NewProc("WindowsDeleteString")
)

const (
	roInitMultithreaded = 1 // RO_INIT_MULTITHREADED

	// S_FALSE / RPC_E_CHANGED_MODE mean the apartment is already set up;
	// both are fine for our purposes.
	rpcEChangedMode = 0x80010106
)

// roInitialize enters the multithreaded apartment, tolerating prior
// initialization.
func roInitialize() error {
	hr, _, _ := procRoInitialize.Call(uintptr(roInitMultithreaded))
	if int32(hr) < 0 && uint32(hr) != rpcEChangedMode {
		return fmt.Errorf("RoInitialize failed: 0x%08X", uint32(hr))
	}
	return nil
}

// hstring wraps a WinRT HSTRING with deterministic deletion.
type hstring uintptr

func newHString(s string) (hstring, error) {
	u16, err := syscall.UTF16FromString(s)
	if err != nil {
		return 0, err
	}
	var h uintptr
	// Length excludes the terminating NUL.
	hr, _, _ := procWindowsCreateString.Call(
		uintptr(unsafe.Pointer(&u16[0])),
		uintptr(len(u16)-1),
		uintptr(unsafe.Pointer(&h)),
	)
	if int32(hr) < 0 {
		return 0, fmt.Errorf("WindowsCreateString failed: 0x%08X", uint32(hr))
	}
	return hstring(h), nil
}

func (h hstring) delete() {
	if h != 0 {
		procWindowsDeleteString.Call(uintptr(h))
	}
}

// roGetActivationFactory resolves the activation factory of a runtime class
// and returns the interface identified by iid.
func roGetActivationFactory(runtimeClass string, iid *comGUID) (uintptr, error) {
	h, err := newHString(runtimeClass)
	if err != nil {
		return 0, err
	}
	defer h.delete()

	var factory uintptr
	hr, _, _ := procRoGetActivationFactory.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if int32(hr) < 0 {
		return 0, fmt.Errorf("RoGetActivationFactory(%s) failed: 0x%08X", runtimeClass, uint32(hr))
	}
	return factory, nil
}
