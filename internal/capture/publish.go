package capture

import (
	"sync"
	"sync/atomic"
)

// publishBuffer is the reader-synchronized hand-off point between the
// capture producer and consumers. The producer swaps a freshly assembled
// working buffer into place; consumers either copy the published bytes out
// or borrow them directly under reader-count protection.
//
// The publish path is optimistic-check, lock, re-check: the atomic reader
// count keeps the common no-reader case cheap, the mutex plus re-check
// closes the race between the optimistic load and the lock acquisition.
// While any reader is outstanding the published storage is never mutated;
// the producer drops the frame instead of waiting.
type publishBuffer struct {
	mu      sync.Mutex
	readers atomic.Int32

	// Guarded by mu. data and width/height are always mutually consistent:
	// a reader holding mu never observes a mismatched (data, width, height)
	// triple.
	data   []byte
	width  int
	height int

	frameCount atomic.Uint64
}

// tryPublish installs local as the published buffer if no reader is active.
// On success it returns the previous published buffer (for recycling) and
// true. On contention it returns nil, false and leaves local untouched.
func (b *publishBuffer) tryPublish(local []byte, width, height int) (old []byte, ok bool) {
	if b.readers.Load() != 0 {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readers.Load() != 0 {
		return nil, false
	}
	old = b.data
	b.data = local
	b.width = width
	b.height = height
	b.frameCount.Add(1)
	return old, true
}

// copyTo copies the published bytes into dst. It returns ok=false with no
// copy performed when nothing has been published yet or when dst is too
// small; in the latter case width/height still describe the frame so the
// caller can resize and retry. count is read under the same lock as the
// copy, so it always names the generation the copied bytes belong to.
func (b *publishBuffer) copyTo(dst []byte) (width, height, n int, count uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return 0, 0, 0, 0, false
	}
	if len(dst) < len(b.data) {
		return b.width, b.height, 0, b.frameCount.Load(), false
	}
	n = copy(dst, b.data)
	return b.width, b.height, n, b.frameCount.Load(), true
}

// peek returns the published frame dimensions and required buffer size
// without copying.
func (b *publishBuffer) peek() (width, height, required int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return 0, 0, 0, false
	}
	return b.width, b.height, len(b.data), true
}

// acquire borrows the published buffer without copying and increments the
// reader count, suppressing publishes until the matching release. The
// returned slice aliases the published storage and must not be retained
// past release.
func (b *publishBuffer) acquire() (data []byte, width, height int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil, 0, 0, false
	}
	b.readers.Add(1)
	return b.data, b.width, b.height, true
}

// release ends a borrow started by acquire. Every acquire must be paired
// with exactly one release.
func (b *publishBuffer) release() {
	if b.readers.Add(-1) < 0 {
		// Unbalanced release is caller misuse; clamp so a stray call can't
		// wedge the publish gate open forever.
		b.readers.Add(1)
	}
}

func (b *publishBuffer) readerCount() int32 {
	return b.readers.Load()
}

func (b *publishBuffer) count() uint64 {
	return b.frameCount.Load()
}
