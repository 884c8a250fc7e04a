package server

import "testing"

func TestFrameHeaderRoundTrip(t *testing.T) {
	in := frameHeader{Width: 1920, Height: 1080, FrameCount: 12345678901, Size: 1920 * 1080 * 4}
	buf := make([]byte, headerSize)
	in.encode(buf)

	out, err := decodeFrameHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestDecodeFrameHeaderRejects(t *testing.T) {
	good := frameHeader{Width: 64, Height: 32, FrameCount: 1, Size: 64 * 32 * 4}
	buf := make([]byte, headerSize)

	good.encode(buf)
	buf[0] ^= 0xFF
	if _, err := decodeFrameHeader(buf); err == nil {
		t.Fatal("bad magic accepted")
	}

	good.encode(buf)
	if _, err := decodeFrameHeader(buf[:10]); err == nil {
		t.Fatal("truncated header accepted")
	}

	bad := good
	bad.Width = 0
	bad.encode(buf)
	if _, err := decodeFrameHeader(buf); err == nil {
		t.Fatal("zero width accepted")
	}

	bad = good
	bad.Size = good.Size - 4
	bad.encode(buf)
	if _, err := decodeFrameHeader(buf); err == nil {
		t.Fatal("size/dimension mismatch accepted")
	}

	bad = good
	bad.Width = maxFrameDim + 1
	bad.Size = bad.Width * bad.Height * 4
	bad.encode(buf)
	if _, err := decodeFrameHeader(buf); err == nil {
		t.Fatal("oversized width accepted")
	}
}
