package capture

import "testing"

func TestClampCrop(t *testing.T) {
	cases := []struct {
		name       string
		x, y, w, h int
		want       CropRect
	}{
		{"passthrough", 100, 100, 400, 300, CropRect{100, 100, 400, 300}},
		{"negatives become zero", -5, -1, -100, -300, CropRect{0, 0, 0, 0}},
		{"oversized clamped", 10000, 9000, 20000, 8193, CropRect{8192, 8192, 8192, 8192}},
		{"zero disables", 0, 0, 0, 0, CropRect{0, 0, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := clampCrop(tc.x, tc.y, tc.w, tc.h)
			if got != tc.want {
				t.Fatalf("clampCrop(%d,%d,%d,%d) = %+v, want %+v", tc.x, tc.y, tc.w, tc.h, got, tc.want)
			}
		})
	}
}

func TestCropRectActive(t *testing.T) {
	if (CropRect{0, 0, 0, 300}).Active() {
		t.Fatal("zero width should disable crop")
	}
	if (CropRect{0, 0, 400, 0}).Active() {
		t.Fatal("zero height should disable crop")
	}
	if !(CropRect{10, 20, 400, 300}).Active() {
		t.Fatal("non-empty rect should be active")
	}
}

func TestResolutionCapFit(t *testing.T) {
	cases := []struct {
		name         string
		rc           ResolutionCap
		srcW, srcH   int
		wantW, wantH int
	}{
		{"1080p bounded by width", ResolutionCap{960, 960}, 1920, 1080, 960, 540},
		{"portrait bounded by height", ResolutionCap{960, 960}, 1080, 1920, 540, 960},
		{"4k to 720p", ResolutionCap{1280, 720}, 3840, 2160, 1280, 720},
		{"extreme aspect floors at one", ResolutionCap{100, 100}, 8192, 2, 100, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotW, gotH := tc.rc.Fit(tc.srcW, tc.srcH)
			if gotW != tc.wantW || gotH != tc.wantH {
				t.Fatalf("Fit(%d,%d) = %dx%d, want %dx%d", tc.srcW, tc.srcH, gotW, gotH, tc.wantW, tc.wantH)
			}
		})
	}
}

// Aspect ratio of the fitted size must match the source within one pixel of
// integer rounding.
func TestResolutionCapFitPreservesAspect(t *testing.T) {
	rc := ResolutionCap{960, 960}
	for _, src := range [][2]int{{1920, 1080}, {2560, 1440}, {1366, 768}, {3440, 1440}, {1200, 1920}} {
		w, h := rc.Fit(src[0], src[1])
		srcAspect := float64(src[0]) / float64(src[1])
		// Reconstruct the height the source aspect implies for the fitted width.
		implied := float64(w) / srcAspect
		if diff := implied - float64(h); diff > 1 || diff < -1 {
			t.Fatalf("aspect drift for %dx%d: got %dx%d (implied height %.2f)", src[0], src[1], w, h, implied)
		}
	}
}

func TestResolutionCapExceeded(t *testing.T) {
	rc := ResolutionCap{960, 960}
	if rc.Exceeded(800, 600) {
		t.Fatal("source within cap should not trigger scaling")
	}
	if !rc.Exceeded(1920, 600) {
		t.Fatal("width over cap should trigger scaling")
	}
	if (ResolutionCap{0, 960}).Exceeded(4000, 4000) {
		t.Fatal("zero axis disables the cap")
	}
}
