package compress

import (
	"testing"
)

// uyvyImage builds a deterministic UYVY test image: luma encodes the
// pixel position, chroma encodes the row.
func uyvyImage(width, height int) []byte {
	src := make([]byte, 2*width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width/2; x++ {
			o := y*2*width + 4*x
			src[o] = byte(64 + y)      // Cb
			src[o+1] = byte(y*31 + 2*x) // Y0
			src[o+2] = byte(192 - y)   // Cr
			src[o+3] = byte(y*31 + 2*x + 1) // Y1
		}
	}
	return src
}

func lumaAt(src []byte, width, x, y int) byte {
	return src[y*2*width+2*x+1]
}

func TestPack422Exact(t *testing.T) {
	t.Parallel()
	const w, h = 8, 4
	src := uyvyImage(w, h)
	p, err := newPlanarFrame(planar422, w, h)
	if err != nil {
		t.Fatal(err)
	}
	packUYVY(planar422, p.view(0, h), src, w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if got, want := p.y[y*p.yStride+x], lumaAt(src, w, x, y); got != want {
				t.Fatalf("luma (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
		for x := 0; x < w/2; x++ {
			o := y*2*w + 4*x
			if p.u[y*p.cStride+x] != src[o] || p.v[y*p.cStride+x] != src[o+2] {
				t.Fatalf("chroma (%d,%d) mismatch", x, y)
			}
		}
	}
}

func TestPack420Averaging(t *testing.T) {
	t.Parallel()
	const w, h = 8, 4
	src := uyvyImage(w, h)
	p, err := newPlanarFrame(planar420, w, h)
	if err != nil {
		t.Fatal(err)
	}
	packUYVY(planar420, p.view(0, h), src, w, h)

	// luma preserved exactly
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if got, want := p.y[y*p.yStride+x], lumaAt(src, w, x, y); got != want {
				t.Fatalf("luma (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
	// chroma is the two-row average
	for cy := 0; cy < h/2; cy++ {
		for x := 0; x < w/2; x++ {
			o1 := (2*cy)*2*w + 4*x
			o2 := (2*cy+1)*2*w + 4*x
			wantCb := byte((int(src[o1]) + int(src[o2])) / 2)
			wantCr := byte((int(src[o1+2]) + int(src[o2+2])) / 2)
			if p.u[cy*p.cStride+x] != wantCb || p.v[cy*p.cStride+x] != wantCr {
				t.Fatalf("chroma (%d,%d) mismatch", x, cy)
			}
		}
	}
}

func TestPackNV12Interleaves(t *testing.T) {
	t.Parallel()
	const w, h = 8, 4
	src := uyvyImage(w, h)
	p420, _ := newPlanarFrame(planar420, w, h)
	packUYVY(planar420, p420.view(0, h), src, w, h)
	nv12, _ := newPlanarFrame(semiPlanar420, w, h)
	packUYVY(semiPlanar420, nv12.view(0, h), src, w, h)

	for i := range nv12.y {
		if nv12.y[i] != p420.y[i] {
			t.Fatalf("nv12 luma differs from planar at %d", i)
		}
	}
	for cy := 0; cy < h/2; cy++ {
		for x := 0; x < w/2; x++ {
			cb := nv12.u[cy*nv12.cStride+2*x]
			cr := nv12.u[cy*nv12.cStride+2*x+1]
			if cb != p420.u[cy*p420.cStride+x] || cr != p420.v[cy*p420.cStride+x] {
				t.Fatalf("nv12 chroma (%d,%d) mismatch", x, cy)
			}
		}
	}
}

func TestPack444Duplicates(t *testing.T) {
	t.Parallel()
	const w, h = 6, 2
	src := uyvyImage(w, h)
	p, _ := newPlanarFrame(planar444, w, h)
	packUYVY(planar444, p.view(0, h), src, w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if got, want := p.y[y*p.yStride+x], lumaAt(src, w, x, y); got != want {
				t.Fatalf("luma (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
		for x := 0; x < w; x += 2 {
			if p.u[y*p.cStride+x] != p.u[y*p.cStride+x+1] {
				t.Fatalf("chroma not duplicated at (%d,%d)", x, y)
			}
		}
	}
}

// Packing a strip through a view must produce exactly the same bytes as
// packing the full image at once.
func TestViewsMatchFullPack(t *testing.T) {
	t.Parallel()
	const w, h = 16, 12
	src := uyvyImage(w, h)
	for _, kind := range []planarKind{planar420, planar422, planar444, semiPlanar420} {
		whole, _ := newPlanarFrame(kind, w, h)
		packUYVY(kind, whole.view(0, h), src, w, h)

		split, _ := newPlanarFrame(kind, w, h)
		for _, st := range partition(h, 3) {
			packUYVY(kind, split.view(st.row, st.rows), src[st.row*2*w:], w, st.rows)
		}
		for i := range whole.buf {
			if whole.buf[i] != split.buf[i] {
				t.Fatalf("%v: strip packing differs at byte %d", kind, i)
			}
		}
	}
}

func TestPartition(t *testing.T) {
	t.Parallel()
	cases := []struct {
		height, workers int
	}{
		{1080, 4}, {1080, 8}, {720, 3}, {10, 4}, {2, 8}, {480, 1},
	}
	for _, c := range cases {
		strips := partition(c.height, c.workers)
		if len(strips) != c.workers {
			t.Fatalf("partition(%d,%d) produced %d strips", c.height, c.workers, len(strips))
		}
		total := 0
		for i, st := range strips {
			if st.row != total {
				t.Fatalf("partition(%d,%d) strip %d starts at %d, want %d",
					c.height, c.workers, i, st.row, total)
			}
			if i < len(strips)-1 && st.rows%2 != 0 {
				t.Fatalf("partition(%d,%d) strip %d has odd rows %d",
					c.height, c.workers, i, st.rows)
			}
			total += st.rows
		}
		if total != c.height {
			t.Fatalf("partition(%d,%d) covers %d rows", c.height, c.workers, total)
		}
	}
}

func TestNewPlanarFrameRejectsOddDims(t *testing.T) {
	t.Parallel()
	if _, err := newPlanarFrame(planar420, 7, 8); err == nil {
		t.Error("odd width should be rejected")
	}
	if _, err := newPlanarFrame(planar420, 8, 7); err == nil {
		t.Error("odd height should be rejected for 4:2:0")
	}
	if _, err := newPlanarFrame(semiPlanar420, 8, 7); err == nil {
		t.Error("odd height should be rejected for nv12")
	}
	if _, err := newPlanarFrame(planar422, 8, 7); err != nil {
		t.Errorf("odd height is fine for 4:2:2: %v", err)
	}
	if _, err := newPlanarFrame(planar422, 8, 1); err != nil {
		t.Errorf("height 1 is fine for 4:2:2: %v", err)
	}
	if _, err := newPlanarFrame(planar444, 1, 4); err == nil {
		t.Error("width 1 should be rejected: the working format is pair-based")
	}
}

func TestLineYUYVtoUYVY(t *testing.T) {
	t.Parallel()
	src := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88} // Y0 U Y1 V ...
	dst := make([]byte, len(src))
	lineYUYVtoUYVY(dst, src, 4)
	want := []byte{0x22, 0x11, 0x44, 0x33, 0x66, 0x55, 0x88, 0x77}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, dst[i], want[i])
		}
	}
}

func TestLineRGBAtoUYVYGray(t *testing.T) {
	t.Parallel()
	// white and black pixels: luma near the studio-range extremes,
	// chroma neutral
	src := []byte{255, 255, 255, 255, 0, 0, 0, 255}
	dst := make([]byte, 4)
	lineRGBAtoUYVY(dst, src, 2)
	u, y0, v, y1 := dst[0], dst[1], dst[2], dst[3]
	if y0 < 230 || y1 > 20 {
		t.Errorf("luma = %d, %d; want ~235 and ~16", y0, y1)
	}
	if u < 120 || u > 136 || v < 120 || v > 136 {
		t.Errorf("chroma = %d, %d; want neutral ~128", u, v)
	}
}

func TestLineRGBvsBGRSymmetry(t *testing.T) {
	t.Parallel()
	rgb := []byte{200, 40, 90, 10, 250, 120}
	bgr := []byte{90, 40, 200, 120, 250, 10}
	a := make([]byte, 4)
	b := make([]byte, 4)
	lineRGBtoUYVY(a, rgb, 2)
	lineBGRtoUYVY(b, bgr, 2)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("byte %d: rgb=%d bgr=%d", i, a[i], b[i])
		}
	}
}

func TestLineV210toUYVY(t *testing.T) {
	t.Parallel()
	// one group of 6 pixels with 10-bit components chosen so the 8-bit
	// truncation is exact (all values are multiples of 4)
	comp := []uint32{
		64 << 2, 100 << 2, 200 << 2, // Cb0 Y0 Cr0
		101 << 2, 65 << 2, 102 << 2, // Y1 Cb2 Y2
		201 << 2, 103 << 2, 66 << 2, // Cr2 Y3 Cb4
		104 << 2, 202 << 2, 105 << 2, // Y4 Cr4 Y5
	}
	src := make([]byte, 16)
	for w := 0; w < 4; w++ {
		word := comp[3*w] | comp[3*w+1]<<10 | comp[3*w+2]<<20
		src[4*w] = byte(word)
		src[4*w+1] = byte(word >> 8)
		src[4*w+2] = byte(word >> 16)
		src[4*w+3] = byte(word >> 24)
	}
	dst := make([]byte, 12)
	lineV210toUYVY(dst, src, 6)
	want := []byte{64, 100, 200, 101, 65, 102, 201, 103, 66, 104, 202, 105}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], want[i])
		}
	}
}
