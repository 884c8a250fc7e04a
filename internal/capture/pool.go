package capture

import "sync"

// frameBufPool recycles working buffers between the readback and publish
// steps. Buffers swapped out of the publish slot come back here.
var frameBufPool = sync.Pool{
	New: func() any {
		return []byte(nil)
	},
}

// Don't pool buffers past this size; a stray 8K frame shouldn't pin memory
// after the session drops back to a smaller resolution.
const maxPooledBuf = 64 << 20

func getFrameBuf(n int) []byte {
	buf := frameBufPool.Get().([]byte)
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

func putFrameBuf(buf []byte) {
	if buf == nil || cap(buf) > maxPooledBuf {
		return
	}
	frameBufPool.Put(buf[:0])
}
