//go:build windows && !cgo

package capture

import (
	"fmt"
	"syscall"
	"unsafe"
)

// quadScaler is the GPU downscale pipeline: a textured quad drawn with a
// linear sampler into a render target of the capped dimensions. Shaders,
// input layout, vertex buffer, and sampler are compiled once per session;
// the destination texture and its render target view are recreated only
// when the target dimensions change.
type quadScaler struct {
	vs          uintptr // ID3D11VertexShader
	ps          uintptr // ID3D11PixelShader
	inputLayout uintptr // ID3D11InputLayout
	quadVB      uintptr // ID3D11Buffer
	sampler     uintptr // ID3D11SamplerState

	dst    uintptr // ID3D11Texture2D
	dstRTV uintptr // ID3D11RenderTargetView
	dstW   int
	dstH   int
}

const scalerVertexSrc = "struct VSIn { float3 pos : POSITION; float2 uv : TEXCOORD; };" +
	" struct VSOut { float4 pos : SV_POSITION; float2 uv : TEXCOORD; };" +
	" VSOut main(VSIn input) { VSOut o; o.pos = float4(input.pos, 1.0); o.uv = input.uv; return o; }"

const scalerPixelSrc = "Texture2D src : register(t0); SamplerState samp : register(s0);" +
	" struct PSIn { float4 pos : SV_POSITION; float2 uv : TEXCOORD; };" +
	" float4 main(PSIn i) : SV_TARGET { return src.Sample(samp, i.uv); }"

// scalerVertex matches the input layout: float3 position, float2 uv.
type scalerVertex struct {
	X, Y, Z float32
	U, V    float32
}

// Full-screen quad as two triangles, UV origin top-left.
var scalerQuad = [6]scalerVertex{
	{-1, -1, 0, 0, 1}, {-1, 1, 0, 0, 0}, {1, 1, 0, 1, 0},
	{-1, -1, 0, 0, 1}, {1, 1, 0, 1, 0}, {1, -1, 0, 1, 1},
}

// compileShader runs D3DCompile and returns the code blob.
func compileShader(src, entry, target string) (uintptr, error) {
	srcBytes := append([]byte(src), 0)
	entryBytes := append([]byte(entry), 0)
	targetBytes := append([]byte(target), 0)

	var code, errBlob uintptr
	hr, _, _ := procD3DCompile.Call(
		uintptr(unsafe.Pointer(&srcBytes[0])),
		uintptr(len(src)),
		0, // pSourceName
		0, // pDefines
		0, // pInclude
		uintptr(unsafe.Pointer(&entryBytes[0])),
		uintptr(unsafe.Pointer(&targetBytes[0])),
		0, // Flags1
		0, // Flags2
		uintptr(unsafe.Pointer(&code)),
		uintptr(unsafe.Pointer(&errBlob)),
	)
	if errBlob != 0 {
		comRelease(errBlob)
	}
	if int32(hr) < 0 {
		return 0, fmt.Errorf("D3DCompile %s failed: 0x%08X", target, uint32(hr))
	}
	return code, nil
}

func blobData(blob uintptr) (ptr uintptr, size uintptr) {
	ptr, _, _ = syscall.SyscallN(comVtblFn(blob, d3dBlobGetBufferPointer), blob)
	size, _, _ = syscall.SyscallN(comVtblFn(blob, d3dBlobGetBufferSize), blob)
	return ptr, size
}

// ensurePipeline compiles the shader program and creates the fixed pipeline
// objects on first use.
func (q *quadScaler) ensurePipeline(device uintptr) error {
	if q.vs != 0 && q.ps != 0 {
		return nil
	}

	vsBlob, err := compileShader(scalerVertexSrc, "main", "vs_4_0")
	if err != nil {
		return err
	}
	defer comRelease(vsBlob)
	psBlob, err := compileShader(scalerPixelSrc, "main", "ps_4_0")
	if err != nil {
		return err
	}
	defer comRelease(psBlob)

	vsPtr, vsSize := blobData(vsBlob)
	if _, err := comCall(device, d3d11DeviceCreateVertexShader,
		vsPtr, vsSize, 0, uintptr(unsafe.Pointer(&q.vs)),
	); err != nil {
		return fmt.Errorf("CreateVertexShader: %w", err)
	}
	psPtr, psSize := blobData(psBlob)
	if _, err := comCall(device, d3d11DeviceCreatePixelShader,
		psPtr, psSize, 0, uintptr(unsafe.Pointer(&q.ps)),
	); err != nil {
		return fmt.Errorf("CreatePixelShader: %w", err)
	}

	position := append([]byte("POSITION"), 0)
	texcoord := append([]byte("TEXCOORD"), 0)
	elems := [2]d3d11InputElementDesc{
		{
			SemanticName:      uintptr(unsafe.Pointer(&position[0])),
			Format:            6, // DXGI_FORMAT_R32G32B32_FLOAT
			AlignedByteOffset: 0,
		},
		{
			SemanticName:      uintptr(unsafe.Pointer(&texcoord[0])),
			Format:            16, // DXGI_FORMAT_R32G32_FLOAT
			AlignedByteOffset: 12,
		},
	}
	if _, err := comCall(device, d3d11DeviceCreateInputLayout,
		uintptr(unsafe.Pointer(&elems[0])),
		2,
		vsPtr,
		vsSize,
		uintptr(unsafe.Pointer(&q.inputLayout)),
	); err != nil {
		return fmt.Errorf("CreateInputLayout: %w", err)
	}

	bufDesc := d3d11BufferDesc{
		ByteWidth: uint32(unsafe.Sizeof(scalerQuad)),
		Usage:     d3d11UsageDefault,
		BindFlags: d3d11BindVertexBuffer,
	}
	initData := d3d11SubresourceData{PSysMem: uintptr(unsafe.Pointer(&scalerQuad[0]))}
	if _, err := comCall(device, d3d11DeviceCreateBuffer,
		uintptr(unsafe.Pointer(&bufDesc)),
		uintptr(unsafe.Pointer(&initData)),
		uintptr(unsafe.Pointer(&q.quadVB)),
	); err != nil {
		return fmt.Errorf("CreateBuffer quad: %w", err)
	}

	samplerDesc := d3d11SamplerDesc{
		Filter:   0x15, // D3D11_FILTER_MIN_MAG_MIP_LINEAR
		AddressU: 3,    // D3D11_TEXTURE_ADDRESS_CLAMP
		AddressV: 3,
		AddressW: 3,
		MaxLOD:   3.402823466e+38, // D3D11_FLOAT32_MAX
	}
	if _, err := comCall(device, d3d11DeviceCreateSamplerState,
		uintptr(unsafe.Pointer(&samplerDesc)),
		uintptr(unsafe.Pointer(&q.sampler)),
	); err != nil {
		return fmt.Errorf("CreateSamplerState: %w", err)
	}
	return nil
}

// ensureTarget recreates the destination texture and RTV when the target
// dimensions change.
func (q *quadScaler) ensureTarget(device uintptr, width, height int) error {
	if q.dst != 0 && q.dstW == width && q.dstH == height {
		return nil
	}
	if q.dstRTV != 0 {
		comRelease(q.dstRTV)
		q.dstRTV = 0
	}
	if q.dst != 0 {
		comRelease(q.dst)
		q.dst = 0
	}

	desc := d3d11Texture2DDesc{
		Width:       uint32(width),
		Height:      uint32(height),
		MipLevels:   1,
		ArraySize:   1,
		Format:      dxgiFormatB8G8R8A8,
		SampleCount: 1,
		Usage:       d3d11UsageDefault,
		BindFlags:   d3d11BindRenderTarget | d3d11BindShaderRes,
		MiscFlags:   d3d11MiscShared,
	}
	dst, err := createTexture2D(device, &desc)
	if err != nil {
		return fmt.Errorf("scale target %dx%d: %w", width, height, err)
	}
	var rtv uintptr
	if _, err := comCall(device, d3d11DeviceCreateRTV,
		dst, 0, uintptr(unsafe.Pointer(&rtv)),
	); err != nil {
		comRelease(dst)
		return fmt.Errorf("CreateRenderTargetView: %w", err)
	}
	q.dst = dst
	q.dstRTV = rtv
	q.dstW = width
	q.dstH = height
	return nil
}

// render draws src downsampled into the cached target and returns the
// target texture handle (owned by the scaler).
func (q *quadScaler) render(device, context, src uintptr, width, height int) (uintptr, error) {
	if err := q.ensurePipeline(device); err != nil {
		return 0, err
	}
	if err := q.ensureTarget(device, width, height); err != nil {
		return 0, err
	}

	var srv uintptr
	if _, err := comCall(device, d3d11DeviceCreateSRV,
		src, 0, uintptr(unsafe.Pointer(&srv)),
	); err != nil {
		return 0, fmt.Errorf("CreateShaderResourceView: %w", err)
	}
	defer comRelease(srv)

	rtvs := [1]uintptr{q.dstRTV}
	syscall.SyscallN(comVtblFn(context, d3d11CtxOMSetRenderTargets),
		context, 1, uintptr(unsafe.Pointer(&rtvs[0])), 0)

	vp := d3d11Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}
	syscall.SyscallN(comVtblFn(context, d3d11CtxRSSetViewports),
		context, 1, uintptr(unsafe.Pointer(&vp)))

	stride := uint32(unsafe.Sizeof(scalerVertex{}))
	offset := uint32(0)
	vbs := [1]uintptr{q.quadVB}
	syscall.SyscallN(comVtblFn(context, d3d11CtxIASetVertexBuffers),
		context, 0, 1,
		uintptr(unsafe.Pointer(&vbs[0])),
		uintptr(unsafe.Pointer(&stride)),
		uintptr(unsafe.Pointer(&offset)))

	syscall.SyscallN(comVtblFn(context, d3d11CtxIASetInputLayout), context, q.inputLayout)
	syscall.SyscallN(comVtblFn(context, d3d11CtxIASetTopology), context, uintptr(d3d11TopologyTriangleList))
	syscall.SyscallN(comVtblFn(context, d3d11CtxVSSetShader), context, q.vs, 0, 0)
	syscall.SyscallN(comVtblFn(context, d3d11CtxPSSetShader), context, q.ps, 0, 0)

	srvs := [1]uintptr{srv}
	syscall.SyscallN(comVtblFn(context, d3d11CtxPSSetShaderResources),
		context, 0, 1, uintptr(unsafe.Pointer(&srvs[0])))
	samplers := [1]uintptr{q.sampler}
	syscall.SyscallN(comVtblFn(context, d3d11CtxPSSetSamplers),
		context, 0, 1, uintptr(unsafe.Pointer(&samplers[0])))

	syscall.SyscallN(comVtblFn(context, d3d11CtxDraw), context, 6, 0)

	// Unbind the SRV so the next frame's source can be bound as input while
	// the destination is still a render target.
	nullSRV := [1]uintptr{0}
	syscall.SyscallN(comVtblFn(context, d3d11CtxPSSetShaderResources),
		context, 0, 1, uintptr(unsafe.Pointer(&nullSRV[0])))

	return q.dst, nil
}

// release frees all pipeline and target objects.
func (q *quadScaler) release() {
	for _, obj := range []*uintptr{&q.dstRTV, &q.dst, &q.sampler, &q.quadVB, &q.inputLayout, &q.ps, &q.vs} {
		if *obj != 0 {
			comRelease(*obj)
			*obj = 0
		}
	}
	q.dstW, q.dstH = 0, 0
}
