package compress

import (
	"encoding/binary"
	"fmt"
)

// The packers turn the interleaved UYVY working format (U, Y0, V, Y1 per
// pixel pair, stride 2*width) into the planar layout the encoder wants.
// The image is partitioned into even-row strips, one per worker; every
// worker writes through a view whose plane slices are pre-offset into the
// shared frame, so workers never touch the same bytes.

type planarKind int

const (
	planar420 planarKind = iota
	planar422
	planar444
	semiPlanar420 // NV12
)

func (k planarKind) String() string {
	switch k {
	case planar420:
		return "yuv420p"
	case planar422:
		return "yuv422p"
	case planar444:
		return "yuv444p"
	case semiPlanar420:
		return "nv12"
	}
	return "unknown"
}

// planarFrame owns one contiguous buffer laid out the way libavcodec
// reads tightly packed (align=1) images: the planes follow one another
// with linesize equal to the plane width.
type planarFrame struct {
	kind          planarKind
	width, height int
	buf           []byte
	y, u, v       []byte
	yStride       int
	cStride       int
}

func newPlanarFrame(kind planarKind, width, height int) (*planarFrame, error) {
	if width < 2 || width%2 != 0 {
		return nil, fmt.Errorf("width %d: the working format needs an even width of at least 2", width)
	}
	if (kind == planar420 || kind == semiPlanar420) && height%2 != 0 {
		return nil, fmt.Errorf("height %d: 4:2:0 output needs an even height", height)
	}
	if height < 1 {
		return nil, fmt.Errorf("height %d: at least one row required", height)
	}

	p := &planarFrame{kind: kind, width: width, height: height, yStride: width}
	ySize := width * height
	switch kind {
	case planar420:
		p.cStride = width / 2
		cSize := p.cStride * height / 2
		p.buf = make([]byte, ySize+2*cSize)
		p.y = p.buf[:ySize]
		p.u = p.buf[ySize : ySize+cSize]
		p.v = p.buf[ySize+cSize:]
	case planar422:
		p.cStride = width / 2
		cSize := p.cStride * height
		p.buf = make([]byte, ySize+2*cSize)
		p.y = p.buf[:ySize]
		p.u = p.buf[ySize : ySize+cSize]
		p.v = p.buf[ySize+cSize:]
	case planar444:
		p.cStride = width
		p.buf = make([]byte, 3*ySize)
		p.y = p.buf[:ySize]
		p.u = p.buf[ySize : 2*ySize]
		p.v = p.buf[2*ySize:]
	case semiPlanar420:
		// interleaved CbCr plane at full width, half height
		p.cStride = width
		p.buf = make([]byte, ySize+p.cStride*height/2)
		p.y = p.buf[:ySize]
		p.u = p.buf[ySize:]
	}
	return p, nil
}

// planarView is a worker's window into the shared frame.
type planarView struct {
	y, u, v []byte
	yStride int
	cStride int
}

// view returns the strip starting at row spanning rows scanlines. row
// must be even.
func (p *planarFrame) view(row, rows int) planarView {
	_ = rows
	v := planarView{yStride: p.yStride, cStride: p.cStride}
	v.y = p.y[row*p.yStride:]
	switch p.kind {
	case planar420, semiPlanar420:
		v.u = p.u[row/2*p.cStride:]
		if p.v != nil {
			v.v = p.v[row/2*p.cStride:]
		}
	default:
		v.u = p.u[row*p.cStride:]
		v.v = p.v[row*p.cStride:]
	}
	return v
}

// packUYVY converts rows scanlines of UYVY starting at src into the view.
func packUYVY(kind planarKind, dst planarView, src []byte, width, rows int) {
	switch kind {
	case planar420:
		packUYVYto420(dst, src, width, rows)
	case planar422:
		packUYVYto422(dst, src, width, rows)
	case planar444:
		packUYVYto444(dst, src, width, rows)
	case semiPlanar420:
		packUYVYtoNV12(dst, src, width, rows)
	}
}

// packUYVYto420 processes row pairs: both luma rows are kept, each chroma
// sample is the average of the two rows.
func packUYVYto420(dst planarView, src []byte, width, rows int) {
	srcStride := 2 * width
	for y := 0; y+1 < rows; y += 2 {
		s1 := src[y*srcStride:]
		s2 := src[(y+1)*srcStride:]
		dy1 := dst.y[y*dst.yStride:]
		dy2 := dst.y[(y+1)*dst.yStride:]
		dcb := dst.u[y/2*dst.cStride:]
		dcr := dst.v[y/2*dst.cStride:]
		si := 0
		for x := 0; x < width/2; x++ {
			dcb[x] = uint8((int(s1[si]) + int(s2[si])) / 2)
			dy1[2*x] = s1[si+1]
			dy2[2*x] = s2[si+1]
			dcr[x] = uint8((int(s1[si+2]) + int(s2[si+2])) / 2)
			dy1[2*x+1] = s1[si+3]
			dy2[2*x+1] = s2[si+3]
			si += 4
		}
	}
}

func packUYVYto422(dst planarView, src []byte, width, rows int) {
	srcStride := 2 * width
	for y := 0; y < rows; y++ {
		s := src[y*srcStride:]
		dy := dst.y[y*dst.yStride:]
		dcb := dst.u[y*dst.cStride:]
		dcr := dst.v[y*dst.cStride:]
		si := 0
		for x := 0; x < width/2; x++ {
			dcb[x] = s[si]
			dy[2*x] = s[si+1]
			dcr[x] = s[si+2]
			dy[2*x+1] = s[si+3]
			si += 4
		}
	}
}

// packUYVYto444 duplicates each chroma sample horizontally.
func packUYVYto444(dst planarView, src []byte, width, rows int) {
	srcStride := 2 * width
	for y := 0; y < rows; y++ {
		s := src[y*srcStride:]
		dy := dst.y[y*dst.yStride:]
		dcb := dst.u[y*dst.cStride:]
		dcr := dst.v[y*dst.cStride:]
		si := 0
		for x := 0; x < width; x += 2 {
			dcb[x] = s[si]
			dcb[x+1] = s[si]
			dy[x] = s[si+1]
			dcr[x] = s[si+2]
			dcr[x+1] = s[si+2]
			dy[x+1] = s[si+3]
			si += 4
		}
	}
}

// packUYVYtoNV12 is 4:2:0 with the chroma planes interleaved.
func packUYVYtoNV12(dst planarView, src []byte, width, rows int) {
	srcStride := 2 * width
	for y := 0; y+1 < rows; y += 2 {
		s1 := src[y*srcStride:]
		s2 := src[(y+1)*srcStride:]
		dy1 := dst.y[y*dst.yStride:]
		dy2 := dst.y[(y+1)*dst.yStride:]
		duv := dst.u[y/2*dst.cStride:]
		si := 0
		for x := 0; x < width/2; x++ {
			duv[2*x] = uint8((int(s1[si]) + int(s2[si])) / 2)
			dy1[2*x] = s1[si+1]
			dy2[2*x] = s2[si+1]
			duv[2*x+1] = uint8((int(s1[si+2]) + int(s2[si+2])) / 2)
			dy1[2*x+1] = s1[si+3]
			dy2[2*x+1] = s2[si+3]
			si += 4
		}
	}
}

// strip is one worker's share of the image height.
type strip struct {
	row  int
	rows int
}

// partition splits height into workers strips of even row counts; the
// last strip takes the remainder.
func partition(height, workers int) []strip {
	if workers < 1 {
		workers = 1
	}
	chunk := height / workers
	chunk = chunk / 2 * 2
	strips := make([]strip, workers)
	for i := 0; i < workers-1; i++ {
		strips[i] = strip{row: i * chunk, rows: chunk}
	}
	strips[workers-1] = strip{
		row:  (workers - 1) * chunk,
		rows: height - chunk*(workers-1),
	}
	return strips
}

// lineConverter rewrites one scanline of an input layout into UYVY. A nil
// converter marks inputs that already are UYVY.
type lineConverter func(dst, src []byte, width int)

func lineYUYVtoUYVY(dst, src []byte, width int) {
	for x := 0; x < width/2; x++ {
		o := 4 * x
		dst[o] = src[o+1]
		dst[o+1] = src[o]
		dst[o+2] = src[o+3]
		dst[o+3] = src[o+2]
	}
}

func lineRGBAtoUYVY(dst, src []byte, width int) {
	packedRGBToUYVY(dst, src, width, 4, 0, 1, 2)
}

func lineRGBtoUYVY(dst, src []byte, width int) {
	packedRGBToUYVY(dst, src, width, 3, 0, 1, 2)
}

func lineBGRtoUYVY(dst, src []byte, width int) {
	packedRGBToUYVY(dst, src, width, 3, 2, 1, 0)
}

// packedRGBToUYVY converts pixel pairs using BT.601 studio-range
// coefficients, averaging chroma across the pair.
func packedRGBToUYVY(dst, src []byte, width, bpp, ri, gi, bi int) {
	di := 0
	for x := 0; x+1 < width; x += 2 {
		o1 := x * bpp
		o2 := (x + 1) * bpp
		r1, g1, b1 := int(src[o1+ri]), int(src[o1+gi]), int(src[o1+bi])
		r2, g2, b2 := int(src[o2+ri]), int(src[o2+gi]), int(src[o2+bi])

		y1 := ((66*r1 + 129*g1 + 25*b1 + 128) >> 8) + 16
		y2 := ((66*r2 + 129*g2 + 25*b2 + 128) >> 8) + 16
		u := ((-38*(r1+r2)/2 - 74*(g1+g2)/2 + 112*(b1+b2)/2 + 128) >> 8) + 128
		v := ((112*(r1+r2)/2 - 94*(g1+g2)/2 - 18*(b1+b2)/2 + 128) >> 8) + 128

		dst[di] = clamp8(u)
		dst[di+1] = clamp8(y1)
		dst[di+2] = clamp8(v)
		dst[di+3] = clamp8(y2)
		di += 4
	}
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// lineV210toUYVY unpacks the 10-bit packed 4:2:2 layout (six pixels in
// four little-endian 32-bit words) down to 8 bits.
func lineV210toUYVY(dst, src []byte, width int) {
	di := 0
	limit := 2 * width
	si := 0
	for px := 0; px < width; px += 6 {
		w0 := binary.LittleEndian.Uint32(src[si:])
		w1 := binary.LittleEndian.Uint32(src[si+4:])
		w2 := binary.LittleEndian.Uint32(src[si+8:])
		w3 := binary.LittleEndian.Uint32(src[si+12:])
		si += 16

		c10 := func(w uint32, shift uint) uint8 {
			return uint8(((w >> shift) & 0x3ff) >> 2)
		}
		cb0, y0, cr0 := c10(w0, 0), c10(w0, 10), c10(w0, 20)
		y1, cb2, y2 := c10(w1, 0), c10(w1, 10), c10(w1, 20)
		cr2, y3, cb4 := c10(w2, 0), c10(w2, 10), c10(w2, 20)
		y4, cr4, y5 := c10(w3, 0), c10(w3, 10), c10(w3, 20)

		group := [12]uint8{cb0, y0, cr0, y1, cb2, y2, cr2, y3, cb4, y4, cr4, y5}
		for _, b := range group {
			if di >= limit {
				return
			}
			dst[di] = b
			di++
		}
	}
}
