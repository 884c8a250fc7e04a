package capture

import "math"

// CropRect is a source-texture sub-rectangle in pixel coordinates.
// Zero Width or Height means "no crop".
type CropRect struct {
	X, Y, Width, Height int
}

// Active reports whether the rect selects a non-empty region.
func (r CropRect) Active() bool {
	return r.Width > 0 && r.Height > 0
}

// clampCrop sanitizes caller-supplied crop coordinates: negatives become 0
// and every component is bounded by MaxDimension.
func clampCrop(x, y, width, height int) CropRect {
	return CropRect{
		X:      clampInt(x, 0, MaxDimension),
		Y:      clampInt(y, 0, MaxDimension),
		Width:  clampInt(width, 0, MaxDimension),
		Height: clampInt(height, 0, MaxDimension),
	}
}

// ResolutionCap bounds published frame dimensions. Zero on either axis
// disables downscaling.
type ResolutionCap struct {
	MaxWidth, MaxHeight int
}

// Active reports whether the cap is enabled.
func (c ResolutionCap) Active() bool {
	return c.MaxWidth > 0 && c.MaxHeight > 0
}

// Exceeded reports whether a source of the given dimensions needs scaling.
func (c ResolutionCap) Exceeded(width, height int) bool {
	return c.Active() && (width > c.MaxWidth || height > c.MaxHeight)
}

// Fit computes aspect-preserving target dimensions for a source that
// exceeds the cap: scale = min(maxW/srcW, maxH/srcH), each axis rounded
// and floored at one pixel.
func (c ResolutionCap) Fit(width, height int) (targetW, targetH int) {
	scale := math.Min(
		float64(c.MaxWidth)/float64(width),
		float64(c.MaxHeight)/float64(height),
	)
	targetW = int(math.Round(float64(width) * scale))
	targetH = int(math.Round(float64(height) * scale))
	if targetW < 1 {
		targetW = 1
	}
	if targetH < 1 {
		targetH = 1
	}
	return targetW, targetH
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
