package capture

// texture is the pipeline's view of one GPU-resident image.
type texture interface {
	// Size returns the texture dimensions in pixels.
	Size() (width, height int)

	// Handle returns the native texture pointer for zero-copy consumers,
	// or 0 when there is none.
	Handle() uintptr

	// Retain takes an additional reference for long-lived storage (the
	// session's "latest texture" slot). The caller owns the returned
	// reference and must Release it.
	Retain() texture

	// Release drops a reference taken by Retain.
	Release()
}

// capturedFrame is one frame-arrived event payload. Release must be called
// exactly once, on every path including errors, so the compositor's frame
// pool never stalls.
type capturedFrame interface {
	// Texture resolves the frame's GPU texture.
	Texture() (texture, error)

	// Release returns the frame to the compositor pool.
	Release()
}

// backend abstracts the compositor session and GPU pipeline behind a
// Session. The Windows implementation lives in backend_windows.go; tests
// drive the session with an in-memory fake.
type backend interface {
	// Start begins frame delivery. The backend invokes deliver for every
	// compositor frame event, potentially from arbitrary OS threads.
	Start(deliver func(capturedFrame)) error

	// Crop copies the sub-rectangle r of src into a backend-cached
	// intermediate texture and returns it. The cached texture is only
	// recreated when r's dimensions change.
	Crop(src texture, r CropRect) (texture, error)

	// Scale renders src downsampled to width x height through the shader
	// pipeline and returns the backend-cached destination texture.
	Scale(src texture, width, height int) (texture, error)

	// Readback copies src into dst as tightly packed 32-bit pixel rows
	// (stride = width*BytesPerPixel). dst must be width*height*BytesPerPixel
	// bytes.
	Readback(src texture, dst []byte) error

	// PresentHint presents a throwaway frame on the auxiliary swap chain to
	// signal refresh cadence (VRR hint). Advisory; failures are swallowed.
	PresentHint(allowTearing bool)

	// SetBorderRequired toggles the OS capture border, best-effort.
	SetBorderRequired(required bool) error

	// Device returns the native graphics device pointer, or 0.
	Device() uintptr

	// SharedHandle derives an OS shareable handle from t, or 0.
	SharedHandle(t texture) uintptr

	// Close unregisters listeners and releases all graphics resources.
	Close() error
}
