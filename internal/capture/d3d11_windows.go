//go:build windows && !cgo

package capture

import (
	"fmt"
	"syscall"
	"unsafe"
)

// D3D11/DXGI constants
const (
	d3dDriverTypeHardware = 1
	d3d11SDKVersion       = 7

	d3d11CreateDeviceBGRASupport = 0x20

	d3d11UsageDefault  = 0
	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000

	d3d11BindVertexBuffer = 0x1
	d3d11BindShaderRes    = 0x8
	d3d11BindRenderTarget = 0x20
	d3d11MiscShared       = 0x2

	d3d11MapRead = 1

	dxgiFormatB8G8R8A8 = 87 // DXGI_FORMAT_B8G8R8A8_UNORM

	dxgiUsageRenderTargetOutput = 0x20
	dxgiScalingStretch          = 0
	dxgiSwapEffectFlipDiscard   = 4
	dxgiAlphaModeUnspecified    = 0
	dxgiSwapChainAllowTearing   = 0x800
	dxgiPresentAllowTearing     = 0x200

	// DXGI/D3D11 COM vtable indices
	dxgiDeviceGetAdapter               = 7  // IDXGIDevice
	dxgiObjectGetParent                = 6  // IDXGIObject
	dxgiFactory2CreateSwapChainForHwnd = 15 // IDXGIFactory2
	dxgiSwapChainPresent               = 8  // IDXGISwapChain
	dxgiResourceGetSharedHandle        = 8  // IDXGIResource

	d3d11DeviceCreateBuffer       = 3  // ID3D11Device
	d3d11DeviceCreateTexture2D    = 5  // ID3D11Device
	d3d11DeviceCreateSRV          = 7  // ID3D11Device::CreateShaderResourceView
	d3d11DeviceCreateRTV          = 9  // ID3D11Device::CreateRenderTargetView
	d3d11DeviceCreateInputLayout  = 11 // ID3D11Device
	d3d11DeviceCreateVertexShader = 12 // ID3D11Device
	d3d11DeviceCreatePixelShader  = 15 // ID3D11Device
	d3d11DeviceCreateSamplerState = 23 // ID3D11Device

	d3d11CtxPSSetShaderResources  = 8   // ID3D11DeviceContext
	d3d11CtxPSSetShader           = 9   // ID3D11DeviceContext
	d3d11CtxPSSetSamplers         = 10  // ID3D11DeviceContext
	d3d11CtxVSSetShader           = 11  // ID3D11DeviceContext
	d3d11CtxDraw                  = 13  // ID3D11DeviceContext
	d3d11CtxMap                   = 14  // ID3D11DeviceContext
	d3d11CtxUnmap                 = 15  // ID3D11DeviceContext
	d3d11CtxIASetInputLayout      = 17  // ID3D11DeviceContext
	d3d11CtxIASetVertexBuffers    = 18  // ID3D11DeviceContext
	d3d11CtxIASetTopology         = 24  // ID3D11DeviceContext::IASetPrimitiveTopology
	d3d11CtxOMSetRenderTargets    = 33  // ID3D11DeviceContext
	d3d11CtxRSSetViewports        = 44  // ID3D11DeviceContext
	d3d11CtxCopySubresourceRegion = 46  // ID3D11DeviceContext
	d3d11CtxCopyResource          = 47  // ID3D11DeviceContext
	d3d11CtxFlush                 = 111 // ID3D11DeviceContext::Flush

	d3d11Texture2DGetDesc = 10 // ID3D11Texture2D

	d3dBlobGetBufferPointer = 3 // ID3DBlob
	d3dBlobGetBufferSize    = 4 // ID3DBlob

	d3d11TopologyTriangleList = 4 // D3D11_PRIMITIVE_TOPOLOGY_TRIANGLELIST
)

// COM GUIDs for DXGI/D3D11 interfaces
var (
	iidIDXGIDevice     = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidIDXGIFactory2   = comGUID{0x50c83a1c, 0xe072, 0x4c48, [8]byte{0x87, 0xb0, 0x36, 0x30, 0xfa, 0x36, 0xa6, 0xd0}}
	iidIDXGIResource   = comGUID{0x035f3ab4, 0x482e, 0x4e50, [8]byte{0xb4, 0x1f, 0x8a, 0x7f, 0x8b, 0xd8, 0x96, 0x0b}}
	iidID3D11Texture2D = comGUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC (44 bytes).
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32 // DXGI_SAMPLE_DESC.Count
	SampleQuality  uint32 // DXGI_SAMPLE_DESC.Quality
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

// d3d11Box matches D3D11_BOX.
type d3d11Box struct {
	Left   uint32
	Top    uint32
	Front  uint32
	Right  uint32
	Bottom uint32
	Back   uint32
}

// d3d11BufferDesc matches D3D11_BUFFER_DESC.
type d3d11BufferDesc struct {
	ByteWidth           uint32
	Usage               uint32
	BindFlags           uint32
	CPUAccessFlags      uint32
	MiscFlags           uint32
	StructureByteStride uint32
}

// d3d11SubresourceData matches D3D11_SUBRESOURCE_DATA.
type d3d11SubresourceData struct {
	PSysMem          uintptr
	SysMemPitch      uint32
	SysMemSlicePitch uint32
}

// d3d11SamplerDesc matches D3D11_SAMPLER_DESC.
type d3d11SamplerDesc struct {
	Filter         uint32
	AddressU       uint32
	AddressV       uint32
	AddressW       uint32
	MipLODBias     float32
	MaxAnisotropy  uint32
	ComparisonFunc uint32
	BorderColor    [4]float32
	MinLOD         float32
	MaxLOD         float32
}

// d3d11InputElementDesc matches D3D11_INPUT_ELEMENT_DESC.
type d3d11InputElementDesc struct {
	SemanticName         uintptr // *byte, NUL-terminated
	SemanticIndex        uint32
	Format               uint32
	InputSlot            uint32
	AlignedByteOffset    uint32
	InputSlotClass       uint32
	InstanceDataStepRate uint32
}

// d3d11Viewport matches D3D11_VIEWPORT.
type d3d11Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

// dxgiSwapChainDesc1 matches DXGI_SWAP_CHAIN_DESC1.
type dxgiSwapChainDesc1 struct {
	Width       uint32
	Height      uint32
	Format      uint32
	Stereo      int32
	SampleCount uint32 // DXGI_SAMPLE_DESC.Count
	SampleQual  uint32 // DXGI_SAMPLE_DESC.Quality
	BufferUsage uint32
	BufferCount uint32
	Scaling     uint32
	SwapEffect  uint32
	AlphaMode   uint32
	Flags       uint32
}

// createD3D11Device creates a hardware D3D11 device with BGRA support,
// retrying without flags for drivers that reject them.
func createD3D11Device() (device, context uintptr, err error) {
	flags := uintptr(d3d11CreateDeviceBGRASupport)
	hr, _, _ := procD3D11CreateDevice.Call(
		0, // pAdapter (NULL = default)
		uintptr(d3dDriverTypeHardware),
		0, // Software
		flags,
		0, // pFeatureLevels (NULL = driver default)
		0, // FeatureLevels count
		uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)),
		0, // pFeatureLevel
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 && flags != 0 {
		hr, _, _ = procD3D11CreateDevice.Call(
			0,
			uintptr(d3dDriverTypeHardware),
			0,
			0,
			0,
			0,
			uintptr(d3d11SDKVersion),
			uintptr(unsafe.Pointer(&device)),
			0,
			uintptr(unsafe.Pointer(&context)),
		)
	}
	if int32(hr) < 0 {
		return 0, 0, fmt.Errorf("D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}
	return device, context, nil
}

// createTexture2D creates an ID3D11Texture2D from desc.
func createTexture2D(device uintptr, desc *d3d11Texture2DDesc) (uintptr, error) {
	var tex uintptr
	_, err := comCall(device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(desc)),
		0, // pInitialData
		uintptr(unsafe.Pointer(&tex)),
	)
	if err != nil {
		return 0, fmt.Errorf("CreateTexture2D: %w", err)
	}
	return tex, nil
}

// textureDesc reads an ID3D11Texture2D's description. GetDesc is void.
func textureDesc(tex uintptr) d3d11Texture2DDesc {
	var desc d3d11Texture2DDesc
	syscall.SyscallN(comVtblFn(tex, d3d11Texture2DGetDesc), tex, uintptr(unsafe.Pointer(&desc)))
	return desc
}

// mapAndCopyRows maps a staging texture, copies width*4-byte rows into dst
// (normalizing away the hardware row pitch), and unmaps. dst must hold
// width*height*4 bytes.
func mapAndCopyRows(context, staging uintptr, width, height int, dst []byte) error {
	var mapped d3d11MappedSubresource
	hr, _, _ := syscall.SyscallN(
		comVtblFn(context, d3d11CtxMap),
		context,
		staging,
		0, // Subresource
		uintptr(d3d11MapRead),
		0, // Flags
		uintptr(unsafe.Pointer(&mapped)),
	)
	if int32(hr) < 0 {
		return fmt.Errorf("Map staging texture: 0x%08X", uint32(hr))
	}

	rowPitch := int(mapped.RowPitch)
	rowBytes := width * BytesPerPixel
	if rowPitch == rowBytes {
		src := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), height*rowPitch)
		copy(dst, src)
	} else {
		for y := 0; y < height; y++ {
			srcRow := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData+uintptr(y*rowPitch))), rowBytes)
			copy(dst[y*rowBytes:], srcRow)
		}
	}

	syscall.SyscallN(comVtblFn(context, d3d11CtxUnmap), context, staging, 0)
	return nil
}
