//go:build windows && !cgo

package capture

import (
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// Windows.Graphics.Capture WinRT plumbing: runtime class names, interface
// GUIDs, vtable indices, and a minimal hand-built COM event handler so the
// free-threaded frame pool can call back into Go.

const (
	runtimeClassCaptureItem = "Windows.Graphics.Capture.GraphicsCaptureItem"
	runtimeClassFramePool   = "Windows.Graphics.Capture.Direct3D11CaptureFramePool"

	// DirectXPixelFormat.B8G8R8A8UIntNormalized
	directXPixelFormatBGRA8 = 87
)

var (
	iidIGraphicsCaptureItemInterop  = comGUID{0x3628e81b, 0x3cac, 0x4c60, [8]byte{0xb7, 0xf4, 0x23, 0xce, 0x0e, 0x0c, 0x33, 0x56}}
	iidIGraphicsCaptureItem         = comGUID{0x79c3f95b, 0x31f7, 0x4ec2, [8]byte{0xa4, 0x64, 0x63, 0x2e, 0xf5, 0xd3, 0x07, 0x60}}
	iidIFramePoolStatics2           = comGUID{0x589b103f, 0x6bbc, 0x5df5, [8]byte{0xa9, 0x91, 0x02, 0xe2, 0x8b, 0x3b, 0x66, 0xd5}}
	iidIGraphicsCaptureSession2     = comGUID{0x2c39ae40, 0x7d2e, 0x5044, [8]byte{0x80, 0x4e, 0x8b, 0x67, 0x99, 0xd4, 0xcf, 0x9e}}
	iidIGraphicsCaptureSession3     = comGUID{0xf2cdd966, 0x22ae, 0x5ea1, [8]byte{0x95, 0x96, 0x3a, 0x28, 0x93, 0x44, 0xc3, 0xbe}}
	iidIClosable                    = comGUID{0x30d5a829, 0x7fa4, 0x4026, [8]byte{0x83, 0xbb, 0xd7, 0x5b, 0xae, 0x4e, 0xa9, 0x9e}}
	iidIDirect3DDxgiInterfaceAccess = comGUID{0xa9b3d012, 0x3df2, 0x4ee3, [8]byte{0xb8, 0xd1, 0x86, 0x95, 0xf4, 0x57, 0xd3, 0xc1}}
)

// WinRT vtable indices. IInspectable has 6 methods (IUnknown's 3 plus
// GetIids, GetRuntimeClassName, GetTrustLevel); runtime interface methods
// start at 6. These offsets are fixed by the interface definitions and
// must be exact.
const (
	// IGraphicsCaptureItemInterop (IUnknown-based)
	vtblInteropCreateForWindow = 3

	// IGraphicsCaptureItem
	vtblItemGetSize      = 7
	vtblItemAddClosed    = 8
	vtblItemRemoveClosed = 9

	// IDirect3D11CaptureFramePoolStatics2
	vtblStatics2CreateFreeThreaded = 6

	// IDirect3D11CaptureFramePool
	vtblPoolTryGetNextFrame      = 7
	vtblPoolAddFrameArrived      = 8
	vtblPoolRemoveFrameArrived   = 9
	vtblPoolCreateCaptureSession = 10

	// IDirect3D11CaptureFrame
	vtblFrameGetSurface = 6

	// IGraphicsCaptureSession
	vtblSessionStartCapture = 6

	// IGraphicsCaptureSession2
	vtblSession2PutCursorEnabled = 7

	// IGraphicsCaptureSession3
	vtblSession3PutBorderRequired = 7

	// IClosable
	vtblClosableClose = 6

	// IDirect3DDxgiInterfaceAccess (IUnknown-based)
	vtblDxgiAccessGetInterface = 3
)

// sizeInt32 matches Windows.Graphics.SizeInt32.
type sizeInt32 struct {
	Width  int32
	Height int32
}

// pack packs the struct for by-value WinRT ABI passing (8 bytes, one
// 64-bit register slot).
func (s sizeInt32) pack() uintptr {
	return uintptr(uint64(uint32(s.Width)) | uint64(uint32(s.Height))<<32)
}

// closeClosable calls IClosable::Close on a WinRT object, best-effort.
func closeClosable(obj uintptr) {
	closable, err := comQueryInterface(obj, &iidIClosable)
	if err != nil {
		return
	}
	syscall.SyscallN(comVtblFn(closable, vtblClosableClose), closable)
	comRelease(closable)
}

// --- event handler ---

// eventHandler is a minimal COM object implementing a WinRT
// TypedEventHandler. The compositor invokes it free-threaded, from
// arbitrary OS threads.
type eventHandler struct {
	vtbl   *eventHandlerVtbl
	refs   atomic.Int32
	invoke func(sender, args uintptr)
}

type eventHandlerVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr
	Invoke         uintptr
}

var (
	handlerVtbl = &eventHandlerVtbl{
		QueryInterface: syscall.NewCallback(handlerQueryInterface),
		AddRef:         syscall.NewCallback(handlerAddRef),
		Release:        syscall.NewCallback(handlerRelease),
		Invoke:         syscall.NewCallback(handlerInvoke),
	}

	// handlers keeps registered handler objects reachable so the GC cannot
	// collect them while the compositor holds a reference, and maps the COM
	// `this` pointer back to the Go object inside callbacks.
	handlersMu sync.Mutex
	handlers   = map[uintptr]*eventHandler{}
)

// newEventHandler allocates a COM-callable handler. Callers must call
// unregister when the event subscription has been removed.
func newEventHandler(invoke func(sender, args uintptr)) (*eventHandler, uintptr) {
	h := &eventHandler{vtbl: handlerVtbl, invoke: invoke}
	h.refs.Store(1)
	ptr := uintptr(unsafe.Pointer(h))
	handlersMu.Lock()
	handlers[ptr] = h
	handlersMu.Unlock()
	return h, ptr
}

// unregister drops the handler from the keep-alive table after the event
// token has been removed.
func (h *eventHandler) unregister() {
	ptr := uintptr(unsafe.Pointer(h))
	handlersMu.Lock()
	delete(handlers, ptr)
	handlersMu.Unlock()
}

func lookupHandler(this uintptr) *eventHandler {
	handlersMu.Lock()
	h := handlers[this]
	handlersMu.Unlock()
	return h
}

// handlerQueryInterface accepts every IID: the frame pool queries IUnknown,
// IAgileObject, and the parameterized TypedEventHandler IID, and this
// object only ever exposes Invoke.
func handlerQueryInterface(this uintptr, iid *comGUID, out *uintptr) uintptr {
	if out == nil {
		return 0x80004003 // E_POINTER
	}
	if h := lookupHandler(this); h != nil {
		h.refs.Add(1)
	}
	*out = this
	return 0 // S_OK
}

func handlerAddRef(this uintptr) uintptr {
	if h := lookupHandler(this); h != nil {
		return uintptr(h.refs.Add(1))
	}
	return 1
}

func handlerRelease(this uintptr) uintptr {
	if h := lookupHandler(this); h != nil {
		return uintptr(h.refs.Add(-1))
	}
	return 0
}

func handlerInvoke(this, sender, args uintptr) uintptr {
	if h := lookupHandler(this); h != nil && h.invoke != nil {
		h.invoke(sender, args)
	}
	return 0 // S_OK
}
