package stream

import "github.com/meshcast/meshcast/internal/video"

// Copy fills dst with an RGBA rendition of the source scanlines. Sources
// in BGRA channel order need channels 0 and 2 swapped; RGBA-order sources
// are a straight per-line copy. dst must be at least width x height.
func Copy(dst *video.Frame, src []byte, width, height int, swapRedBlue bool) {
	linesize := video.RGBA.Linesize(width)
	if !swapRedBlue {
		copy(dst.Data, src[:height*linesize])
	} else {
		for lineOffset := 0; lineOffset < height*linesize; lineOffset += linesize {
			for x := 0; x < linesize; x += 4 {
				// rgba <- bgra
				dst.Data[lineOffset+x] = src[lineOffset+x+2]
				dst.Data[lineOffset+x+1] = src[lineOffset+x+1]
				dst.Data[lineOffset+x+2] = src[lineOffset+x]
				dst.Data[lineOffset+x+3] = src[lineOffset+x+3]
			}
		}
	}
	dst.Width = width
	dst.Height = height
	dst.Stride = linesize
}

// CopyCropped copies the sub-rectangle r of a srcWidth-wide source into
// dst. The destination is packed: its stride becomes 4*r.W.
func CopyCropped(dst *video.Frame, src []byte, srcWidth int, r video.Rect, swapRedBlue bool) {
	dstStride := video.RGBA.Linesize(r.W)
	for y := 0; y < r.H; y++ {
		srcOffset := ((r.Y+y)*srcWidth + r.X) * 4
		dstOffset := y * dstStride
		if swapRedBlue {
			for x := 0; x < r.W; x++ {
				s := srcOffset + 4*x
				d := dstOffset + 4*x
				dst.Data[d] = src[s+2]
				dst.Data[d+1] = src[s+1]
				dst.Data[d+2] = src[s]
				dst.Data[d+3] = src[s+3]
			}
		} else {
			copy(dst.Data[dstOffset:dstOffset+dstStride], src[srcOffset:srcOffset+dstStride])
		}
	}
	dst.Width = r.W
	dst.Height = r.H
	dst.Stride = dstStride
}

// ClampRect shrinks r so it fits inside width x height. Returns false when
// nothing remains.
func ClampRect(r video.Rect, width, height int) (video.Rect, bool) {
	if r.X < 0 {
		r.W += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.H += r.Y
		r.Y = 0
	}
	if r.X+r.W > width {
		r.W = width - r.X
	}
	if r.Y+r.H > height {
		r.H = height - r.Y
	}
	if r.W <= 0 || r.H <= 0 {
		return video.Rect{}, false
	}
	return r, true
}
