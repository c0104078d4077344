package compress

import (
	"errors"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/meshcast/meshcast/internal/video"
)

// ErrNoPixelFormat means the encoder backend accepts none of the pixel
// formats the requested subsampling allows.
var ErrNoPixelFormat = errors.New("no suitable pixel format")

// RegistryEntry maps an engine codec id onto the encoder backend and its
// defaults.
type RegistryEntry struct {
	CodecID          astiav.CodecID
	PreferredEncoder string // "" means the library default for CodecID
	AvgBPP           float64
	Tuning           TuningPolicy
}

var registry = map[video.Codec]RegistryEntry{
	video.H264: {
		CodecID:          astiav.CodecIDH264,
		PreferredEncoder: "libx264",
		AvgBPP:           0.28,
		Tuning:           PolicyH264,
	},
	video.H265: {
		CodecID: astiav.CodecIDHevc,
		AvgBPP:  0.28,
		Tuning:  PolicyH265,
	},
	video.MJPG: {
		CodecID: astiav.CodecIDMjpeg,
		AvgBPP:  1.2,
		Tuning:  PolicyDefault,
	},
	video.J2K: {
		CodecID: astiav.CodecIDJpeg2000,
		AvgBPP:  1.0,
		Tuning:  PolicyDefault,
	},
	video.VP8: {
		CodecID: astiav.CodecIDVp8,
		AvgBPP:  0.4,
		Tuning:  PolicyVP8,
	},
}

// LookupCodec resolves the registry entry for an engine codec id.
func LookupCodec(c video.Codec) (RegistryEntry, bool) {
	e, ok := registry[c]
	return e, ok
}

// DefaultBitrate derives the bitrate from the frame geometry and the
// average bits-per-pixel figure.
func DefaultBitrate(width, height int, fps, avgBPP float64) int64 {
	return int64(float64(width*height) * fps * avgBPP)
}

// Pixel formats grouped by subsampling, most preferred first.
var (
	pixfmts420 = []astiav.PixelFormat{astiav.PixelFormatYuv420P, astiav.PixelFormatNv12}
	pixfmts422 = []astiav.PixelFormat{astiav.PixelFormatYuv422P}
	pixfmts444 = []astiav.PixelFormat{astiav.PixelFormatYuv444P}
)

// preferenceList builds the candidate order for the requested subsampling
// (0 = auto). Interlaced content prefers 422 and 444 over 420: merged
// fields subsampled vertically look noticeably bad.
func preferenceList(requested int, interlaced bool) []astiav.PixelFormat {
	switch requested {
	case 420:
		return pixfmts420
	case 422:
		return pixfmts422
	case 444:
		return pixfmts444
	}
	var out []astiav.PixelFormat
	if interlaced {
		out = append(out, pixfmts422...)
		out = append(out, pixfmts444...)
		out = append(out, pixfmts420...)
	} else {
		out = append(out, pixfmts420...)
		out = append(out, pixfmts422...)
		out = append(out, pixfmts444...)
	}
	return out
}

// selectPixelFormat picks the first candidate the encoder accepts. The
// nvenc backends get a single-entry NV12 list regardless of the request:
// the other layouts are broken there.
func selectPixelFormat(requested int, interlaced bool, encoderName string, supported []astiav.PixelFormat) (astiav.PixelFormat, error) {
	candidates := preferenceList(requested, interlaced)
	if strings.Contains(encoderName, "nvenc") {
		candidates = []astiav.PixelFormat{astiav.PixelFormatNv12}
	}
	for _, want := range candidates {
		for _, have := range supported {
			if want == have {
				return want, nil
			}
		}
	}
	return 0, ErrNoPixelFormat
}

// kindForPixelFormat maps the selected encoder layout onto a packer.
func kindForPixelFormat(f astiav.PixelFormat) (planarKind, bool) {
	switch f {
	case astiav.PixelFormatYuv420P:
		return planar420, true
	case astiav.PixelFormatYuv422P:
		return planar422, true
	case astiav.PixelFormatYuv444P:
		return planar444, true
	case astiav.PixelFormatNv12:
		return semiPlanar420, true
	}
	return 0, false
}
