//go:build windows && !cgo

package capture

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"
)

// wgcBackend implements backend on Windows.Graphics.Capture + D3D11.
// All COM objects are held as raw uintptr handles; every acquisition has a
// matching comRelease on the teardown or error path.
type wgcBackend struct {
	hwnd uintptr
	mu   sync.Mutex

	device      uintptr // ID3D11Device
	context     uintptr // ID3D11DeviceContext
	winrtDevice uintptr // IDirect3DDevice (IInspectable)
	item        uintptr // IGraphicsCaptureItem
	pool        uintptr // IDirect3D11CaptureFramePool
	session     uintptr // IGraphicsCaptureSession
	swapChain   uintptr // IDXGISwapChain1 (VRR hint, may be 0)

	frameToken    int64
	closeToken    int64
	frameHandler  *eventHandler
	closedHandler *eventHandler

	itemSize sizeInt32

	// Cached pipeline objects, recreated only when dimensions change.
	cropped  uintptr // ID3D11Texture2D
	croppedW int
	croppedH int
	staging  uintptr // ID3D11Texture2D (CPU-readable)
	stagingW int
	stagingH int
	scaler   quadScaler

	framePoolBuffers int
}

// newPlatformBackend creates the D3D11 device, the capture item for the
// window, and the free-threaded frame pool. Any failure releases all
// partial state before returning.
func newPlatformBackend(windowHandle uintptr, opts Options) (backend, error) {
	if err := roInitialize(); err != nil {
		return nil, err
	}

	b := &wgcBackend{hwnd: windowHandle, framePoolBuffers: opts.FramePoolBuffers}
	if b.framePoolBuffers <= 0 {
		b.framePoolBuffers = 10
	}

	device, context, err := createD3D11Device()
	if err != nil {
		return nil, err
	}
	b.device = device
	b.context = context

	dxgiDevice, err := comQueryInterface(device, &iidIDXGIDevice)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("QueryInterface IDXGIDevice: %w", err)
	}
	defer comRelease(dxgiDevice)

	// Background swapchain for the VRR refresh hint. Advisory: capture
	// works without it.
	b.createVrrSwapChain(dxgiDevice)

	var winrtDevice uintptr
	hr, _, _ := procCreateD3DFromDXGI.Call(dxgiDevice, uintptr(unsafe.Pointer(&winrtDevice)))
	if int32(hr) < 0 {
		b.Close()
		return nil, fmt.Errorf("CreateDirect3D11DeviceFromDXGIDevice failed: 0x%08X", uint32(hr))
	}
	b.winrtDevice = winrtDevice

	if err := b.createCaptureItem(); err != nil {
		b.Close()
		return nil, err
	}

	if err := b.createFramePool(); err != nil {
		b.Close()
		return nil, err
	}

	log.Info("capture backend initialized",
		"hwnd", fmt.Sprintf("0x%X", windowHandle),
		"itemW", b.itemSize.Width, "itemH", b.itemSize.Height,
		"poolBuffers", b.framePoolBuffers)
	return b, nil
}

func (b *wgcBackend) createVrrSwapChain(dxgiDevice uintptr) {
	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		log.Debug("VRR swapchain: GetAdapter failed", "error", err)
		return
	}
	defer comRelease(adapter)

	var factory uintptr
	if _, err := comCall(adapter, dxgiObjectGetParent,
		uintptr(unsafe.Pointer(&iidIDXGIFactory2)),
		uintptr(unsafe.Pointer(&factory)),
	); err != nil {
		log.Debug("VRR swapchain: GetParent IDXGIFactory2 failed", "error", err)
		return
	}
	defer comRelease(factory)

	// Smallest possible backbuffer: content is irrelevant, only Present
	// timing matters.
	desc := dxgiSwapChainDesc1{
		Width:       16,
		Height:      16,
		Format:      dxgiFormatB8G8R8A8,
		SampleCount: 1,
		BufferUsage: dxgiUsageRenderTargetOutput,
		BufferCount: 2,
		Scaling:     dxgiScalingStretch,
		SwapEffect:  dxgiSwapEffectFlipDiscard,
		AlphaMode:   dxgiAlphaModeUnspecified,
		Flags:       dxgiSwapChainAllowTearing,
	}
	var swapChain uintptr
	if _, err := comCall(factory, dxgiFactory2CreateSwapChainForHwnd,
		b.device,
		b.hwnd,
		uintptr(unsafe.Pointer(&desc)),
		0, // pFullscreenDesc
		0, // pRestrictToOutput
		uintptr(unsafe.Pointer(&swapChain)),
	); err != nil {
		log.Debug("VRR swapchain creation failed", "error", err)
		return
	}
	b.swapChain = swapChain
}

func (b *wgcBackend) createCaptureItem() error {
	factory, err := roGetActivationFactory(runtimeClassCaptureItem, &iidIGraphicsCaptureItemInterop)
	if err != nil {
		return fmt.Errorf("capture item interop factory: %w", err)
	}
	defer comRelease(factory)

	var item uintptr
	if _, err := comCall(factory, vtblInteropCreateForWindow,
		b.hwnd,
		uintptr(unsafe.Pointer(&iidIGraphicsCaptureItem)),
		uintptr(unsafe.Pointer(&item)),
	); err != nil {
		return fmt.Errorf("CreateForWindow hwnd=0x%X: %w", b.hwnd, err)
	}
	b.item = item

	var size sizeInt32
	if _, err := comCall(item, vtblItemGetSize, uintptr(unsafe.Pointer(&size))); err != nil {
		return fmt.Errorf("GraphicsCaptureItem.get_Size: %w", err)
	}
	b.itemSize = size
	return nil
}

func (b *wgcBackend) createFramePool() error {
	statics, err := roGetActivationFactory(runtimeClassFramePool, &iidIFramePoolStatics2)
	if err != nil {
		return fmt.Errorf("frame pool statics: %w", err)
	}
	defer comRelease(statics)

	var pool uintptr
	if _, err := comCall(statics, vtblStatics2CreateFreeThreaded,
		b.winrtDevice,
		uintptr(directXPixelFormatBGRA8),
		uintptr(b.framePoolBuffers),
		b.itemSize.pack(),
		uintptr(unsafe.Pointer(&pool)),
	); err != nil {
		return fmt.Errorf("CreateFreeThreaded: %w", err)
	}
	b.pool = pool
	return nil
}

// Start registers the frame-arrived and item-closed listeners, creates the
// capture session, and begins capture. Cursor composition and the capture
// border are disabled best-effort.
func (b *wgcBackend) Start(deliver func(capturedFrame)) error {
	handler, handlerPtr := newEventHandler(func(sender, _ uintptr) {
		b.onFrameArrived(sender, deliver)
	})
	b.frameHandler = handler

	var token int64
	if _, err := comCall(b.pool, vtblPoolAddFrameArrived,
		handlerPtr,
		uintptr(unsafe.Pointer(&token)),
	); err != nil {
		handler.unregister()
		b.frameHandler = nil
		return fmt.Errorf("add_FrameArrived: %w", err)
	}
	b.frameToken = token

	closed, closedPtr := newEventHandler(func(_, _ uintptr) {
		log.Warn("capture item closed by system", "hwnd", fmt.Sprintf("0x%X", b.hwnd))
	})
	b.closedHandler = closed
	var closeToken int64
	if _, err := comCall(b.item, vtblItemAddClosed,
		closedPtr,
		uintptr(unsafe.Pointer(&closeToken)),
	); err != nil {
		// Not fatal: capture works without close notification.
		log.Debug("add_Closed failed", "error", err)
		closed.unregister()
		b.closedHandler = nil
	} else {
		b.closeToken = closeToken
	}

	var session uintptr
	if _, err := comCall(b.pool, vtblPoolCreateCaptureSession,
		b.item,
		uintptr(unsafe.Pointer(&session)),
	); err != nil {
		return fmt.Errorf("CreateCaptureSession: %w", err)
	}
	b.session = session

	// Disable cursor composition (Windows 10 2004+) and the capture border
	// (Windows 11 / 10 21H1+); both are optional APIs.
	if s2, err := comQueryInterface(session, &iidIGraphicsCaptureSession2); err == nil {
		comCall(s2, vtblSession2PutCursorEnabled, 0)
		comRelease(s2)
	}
	if err := b.SetBorderRequired(false); err != nil {
		log.Debug("disable capture border failed", "error", err)
	}

	if _, err := comCall(session, vtblSessionStartCapture); err != nil {
		return fmt.Errorf("StartCapture: %w", err)
	}
	return nil
}

// onFrameArrived pulls the next frame from the pool and hands it to the
// session pipeline. Runs on compositor-managed threads.
func (b *wgcBackend) onFrameArrived(sender uintptr, deliver func(capturedFrame)) {
	var frame uintptr
	if _, err := comCall(sender, vtblPoolTryGetNextFrame, uintptr(unsafe.Pointer(&frame))); err != nil || frame == 0 {
		return
	}
	deliver(&wgcFrame{frame: frame})
}

// wgcFrame wraps one IDirect3D11CaptureFrame. Release closes the frame so
// its buffer returns to the compositor pool.
type wgcFrame struct {
	frame uintptr
	tex   uintptr // ID3D11Texture2D resolved by Texture, released with the frame
}

func (f *wgcFrame) Texture() (texture, error) {
	var surface uintptr
	if _, err := comCall(f.frame, vtblFrameGetSurface, uintptr(unsafe.Pointer(&surface))); err != nil {
		return nil, fmt.Errorf("get_Surface: %w", err)
	}
	defer comRelease(surface)

	access, err := comQueryInterface(surface, &iidIDirect3DDxgiInterfaceAccess)
	if err != nil {
		return nil, fmt.Errorf("QueryInterface IDirect3DDxgiInterfaceAccess: %w", err)
	}
	defer comRelease(access)

	var tex uintptr
	if _, err := comCall(access, vtblDxgiAccessGetInterface,
		uintptr(unsafe.Pointer(&iidID3D11Texture2D)),
		uintptr(unsafe.Pointer(&tex)),
	); err != nil {
		return nil, fmt.Errorf("GetInterface ID3D11Texture2D: %w", err)
	}
	f.tex = tex
	return &d3dTexture{ptr: tex}, nil
}

func (f *wgcFrame) Release() {
	if f.tex != 0 {
		comRelease(f.tex)
		f.tex = 0
	}
	closeClosable(f.frame)
	comRelease(f.frame)
	f.frame = 0
}

// d3dTexture adapts an ID3D11Texture2D to the texture interface. Retain and
// Release map directly onto COM reference counting.
type d3dTexture struct {
	ptr uintptr
}

func (t *d3dTexture) Size() (int, int) {
	desc := textureDesc(t.ptr)
	return int(desc.Width), int(desc.Height)
}

func (t *d3dTexture) Handle() uintptr { return t.ptr }

func (t *d3dTexture) Retain() texture {
	comAddRef(t.ptr)
	return &d3dTexture{ptr: t.ptr}
}

func (t *d3dTexture) Release() { comRelease(t.ptr) }

// Crop copies the sub-rectangle into the cached crop texture, recreating it
// only when the requested dimensions change.
func (b *wgcBackend) Crop(src texture, r CropRect) (texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cropped == 0 || b.croppedW != r.Width || b.croppedH != r.Height {
		if b.cropped != 0 {
			comRelease(b.cropped)
			b.cropped = 0
		}
		desc := textureDesc(src.Handle())
		desc.Width = uint32(r.Width)
		desc.Height = uint32(r.Height)
		desc.MipLevels = 1
		desc.ArraySize = 1
		desc.Usage = d3d11UsageDefault
		desc.BindFlags = d3d11BindShaderRes | d3d11BindRenderTarget
		desc.CPUAccessFlags = 0
		desc.MiscFlags = d3d11MiscShared

		tex, err := createTexture2D(b.device, &desc)
		if err != nil {
			return nil, fmt.Errorf("crop texture %dx%d: %w", r.Width, r.Height, err)
		}
		b.cropped = tex
		b.croppedW = r.Width
		b.croppedH = r.Height
	}

	box := d3d11Box{
		Left:   uint32(r.X),
		Top:    uint32(r.Y),
		Front:  0,
		Right:  uint32(r.X + r.Width),
		Bottom: uint32(r.Y + r.Height),
		Back:   1,
	}
	// CopySubresourceRegion is void; errors surface on the later Map.
	syscall.SyscallN(
		comVtblFn(b.context, d3d11CtxCopySubresourceRegion),
		b.context,
		b.cropped,
		0, // DstSubresource
		0, // DstX
		0, // DstY
		0, // DstZ
		src.Handle(),
		0, // SrcSubresource
		uintptr(unsafe.Pointer(&box)),
	)
	return &d3dTexture{ptr: b.cropped}, nil
}

// Scale renders src through the cached quad shader pipeline into the
// cached destination render target.
func (b *wgcBackend) Scale(src texture, width, height int) (texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst, err := b.scaler.render(b.device, b.context, src.Handle(), width, height)
	if err != nil {
		return nil, err
	}
	return &d3dTexture{ptr: dst}, nil
}

// Readback copies src into the cached staging texture, flushes the device
// so the copy completes, and maps it for CPU read with row normalization.
func (b *wgcBackend) Readback(src texture, dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	width, height := src.Size()
	if b.staging == 0 || b.stagingW != width || b.stagingH != height {
		if b.staging != 0 {
			comRelease(b.staging)
			b.staging = 0
		}
		desc := d3d11Texture2DDesc{
			Width:          uint32(width),
			Height:         uint32(height),
			MipLevels:      1,
			ArraySize:      1,
			Format:         dxgiFormatB8G8R8A8,
			SampleCount:    1,
			Usage:          d3d11UsageStaging,
			CPUAccessFlags: d3d11CPUAccessRead,
		}
		tex, err := createTexture2D(b.device, &desc)
		if err != nil {
			return fmt.Errorf("staging texture %dx%d: %w", width, height, err)
		}
		b.staging = tex
		b.stagingW = width
		b.stagingH = height
	}

	syscall.SyscallN(
		comVtblFn(b.context, d3d11CtxCopyResource),
		b.context,
		b.staging,
		src.Handle(),
	)
	// Flush forces the GPU copy to complete before Map.
	syscall.SyscallN(comVtblFn(b.context, d3d11CtxFlush), b.context)

	return mapAndCopyRows(b.context, b.staging, width, height, dst)
}

// PresentHint presents a throwaway frame on the auxiliary swapchain to tell
// the DWM about our desired refresh cadence. Failures are swallowed.
func (b *wgcBackend) PresentHint(allowTearing bool) {
	if b.swapChain == 0 {
		return
	}
	flags := uintptr(0)
	if allowTearing {
		flags = dxgiPresentAllowTearing
	}
	syscall.SyscallN(comVtblFn(b.swapChain, dxgiSwapChainPresent), b.swapChain, 0, flags)
}

func (b *wgcBackend) SetBorderRequired(required bool) error {
	if b.session == 0 {
		return fmt.Errorf("capture session not created")
	}
	s3, err := comQueryInterface(b.session, &iidIGraphicsCaptureSession3)
	if err != nil {
		return fmt.Errorf("IGraphicsCaptureSession3 unavailable: %w", err)
	}
	defer comRelease(s3)
	val := uintptr(0)
	if required {
		val = 1
	}
	if _, err := comCall(s3, vtblSession3PutBorderRequired, val); err != nil {
		return fmt.Errorf("put_IsBorderRequired: %w", err)
	}
	return nil
}

func (b *wgcBackend) Device() uintptr { return b.device }

// SharedHandle derives the legacy DXGI shared handle from a texture created
// with D3D11_RESOURCE_MISC_SHARED. Returns 0 when the texture was not
// created shareable (e.g. raw frame-pool textures).
func (b *wgcBackend) SharedHandle(t texture) uintptr {
	res, err := comQueryInterface(t.Handle(), &iidIDXGIResource)
	if err != nil {
		return 0
	}
	defer comRelease(res)
	var handle uintptr
	if _, err := comCall(res, dxgiResourceGetSharedHandle, uintptr(unsafe.Pointer(&handle))); err != nil {
		return 0
	}
	return handle
}

// Close unregisters listeners and releases every graphics resource. Safe to
// call on a partially constructed backend.
func (b *wgcBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != 0 {
		closeClosable(b.session)
		comRelease(b.session)
		b.session = 0
	}
	if b.item != 0 {
		if b.closeToken != 0 {
			comCall(b.item, vtblItemRemoveClosed, uintptr(b.closeToken))
			b.closeToken = 0
		}
		comRelease(b.item)
		b.item = 0
	}
	if b.closedHandler != nil {
		b.closedHandler.unregister()
		b.closedHandler = nil
	}
	if b.pool != 0 {
		if b.frameToken != 0 {
			comCall(b.pool, vtblPoolRemoveFrameArrived, uintptr(b.frameToken))
			b.frameToken = 0
		}
		closeClosable(b.pool)
		comRelease(b.pool)
		b.pool = 0
	}
	if b.frameHandler != nil {
		b.frameHandler.unregister()
		b.frameHandler = nil
	}

	b.scaler.release()
	if b.cropped != 0 {
		comRelease(b.cropped)
		b.cropped = 0
	}
	if b.staging != 0 {
		comRelease(b.staging)
		b.staging = 0
	}
	if b.swapChain != 0 {
		comRelease(b.swapChain)
		b.swapChain = 0
	}
	if b.winrtDevice != 0 {
		comRelease(b.winrtDevice)
		b.winrtDevice = 0
	}
	if b.context != 0 {
		comRelease(b.context)
		b.context = 0
	}
	if b.device != 0 {
		comRelease(b.device)
		b.device = 0
	}
	return nil
}
