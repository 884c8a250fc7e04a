package server

import (
	"encoding/binary"
	"fmt"
)

// Frame stream wire format: each message is a fixed 24-byte little-endian
// header followed by width*height*4 bytes of BGRA pixel data.
//
//	offset  size  field
//	0       4     magic ("FRM1")
//	4       4     width
//	8       4     height
//	12      8     frame count (strictly increasing per session)
//	20      4     payload size in bytes
const (
	frameMagic  = 0x314D5246 // "FRM1" little-endian
	headerSize  = 24
	maxFrameDim = 8192
)

// frameHeader describes one frame message on the stream.
type frameHeader struct {
	Width      uint32
	Height     uint32
	FrameCount uint64
	Size       uint32
}

func (h frameHeader) encode(dst []byte) {
	_ = dst[headerSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], frameMagic)
	binary.LittleEndian.PutUint32(dst[4:8], h.Width)
	binary.LittleEndian.PutUint32(dst[8:12], h.Height)
	binary.LittleEndian.PutUint64(dst[12:20], h.FrameCount)
	binary.LittleEndian.PutUint32(dst[20:24], h.Size)
}

func decodeFrameHeader(src []byte) (frameHeader, error) {
	if len(src) < headerSize {
		return frameHeader{}, fmt.Errorf("frame header truncated: %d bytes", len(src))
	}
	if magic := binary.LittleEndian.Uint32(src[0:4]); magic != frameMagic {
		return frameHeader{}, fmt.Errorf("bad frame magic 0x%08X", magic)
	}
	h := frameHeader{
		Width:      binary.LittleEndian.Uint32(src[4:8]),
		Height:     binary.LittleEndian.Uint32(src[8:12]),
		FrameCount: binary.LittleEndian.Uint64(src[12:20]),
		Size:       binary.LittleEndian.Uint32(src[20:24]),
	}
	if h.Width == 0 || h.Height == 0 || h.Width > maxFrameDim || h.Height > maxFrameDim {
		return frameHeader{}, fmt.Errorf("bad frame dimensions %dx%d", h.Width, h.Height)
	}
	if h.Size != h.Width*h.Height*4 {
		return frameHeader{}, fmt.Errorf("size %d does not match %dx%d BGRA", h.Size, h.Width, h.Height)
	}
	return h, nil
}
