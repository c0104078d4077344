package compress

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/meshcast/meshcast/internal/video"
)

// DefaultGOPSize is used when no gop token is given.
const DefaultGOPSize = 20

// ConfigError reports an unrecognised or malformed encode option token.
type ConfigError struct {
	Token string
	Hint  string
}

func (e *ConfigError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid option %q: %s", e.Token, e.Hint)
	}
	return fmt.Sprintf("unknown option %q", e.Token)
}

// Settings is the parsed encode option string.
type Settings struct {
	Codec               video.Codec
	Bitrate             int64   // 0: derive from BPP
	BPP                 float64 // 0: registry default
	Subsampling         int     // 0 (auto), 420, 422 or 444
	Preset              string
	GOP                 int
	H264NoPeriodicIntra bool
	Threads             string // "", "no", "frame" or "slice"
	Backend             string
	Help                bool
}

func DefaultSettings() Settings {
	return Settings{
		Codec: video.MJPG,
		GOP:   DefaultGOPSize,
	}
}

// ParseSettings parses the colon-separated encode option string
// (everything after "libavcodec"). An unknown token is fatal.
func ParseSettings(cfg string) (Settings, error) {
	s := DefaultSettings()
	if cfg == "" {
		return s, nil
	}
	for _, token := range strings.Split(cfg, ":") {
		switch {
		case token == "":
		case token == "help":
			s.Help = true
			return s, nil
		case token == "h264_no_periodic_intra":
			s.H264NoPeriodicIntra = true
		case strings.HasPrefix(token, "codec="):
			name := strings.TrimPrefix(token, "codec=")
			s.Codec = video.CodecFromName(name)
			if s.Codec == video.CodecUnknown {
				return s, &ConfigError{Token: token, Hint: "unknown codec"}
			}
		case strings.HasPrefix(token, "bitrate="):
			v, err := evalUnit(strings.TrimPrefix(token, "bitrate="))
			if err != nil {
				return s, &ConfigError{Token: token, Hint: err.Error()}
			}
			s.Bitrate = int64(v)
		case strings.HasPrefix(token, "bpp="):
			v, err := evalUnit(strings.TrimPrefix(token, "bpp="))
			if err != nil {
				return s, &ConfigError{Token: token, Hint: err.Error()}
			}
			s.BPP = v
		case strings.HasPrefix(token, "subsampling="):
			v, err := strconv.Atoi(strings.TrimPrefix(token, "subsampling="))
			if err != nil || (v != 420 && v != 422 && v != 444) {
				return s, &ConfigError{Token: token, Hint: "supported subsampling is 444, 422 or 420"}
			}
			s.Subsampling = v
		case strings.HasPrefix(token, "preset="):
			s.Preset = strings.TrimPrefix(token, "preset=")
		case strings.HasPrefix(token, "gop="):
			v, err := strconv.Atoi(strings.TrimPrefix(token, "gop="))
			if err != nil || v <= 0 {
				return s, &ConfigError{Token: token, Hint: "gop takes a positive integer"}
			}
			s.GOP = v
		case strings.HasPrefix(token, "threads="):
			v := strings.TrimPrefix(token, "threads=")
			if v != "no" && v != "frame" && v != "slice" {
				return s, &ConfigError{Token: token, Hint: `threads is one of "no", "frame" or "slice"`}
			}
			s.Threads = v
		case strings.HasPrefix(token, "backend="):
			s.Backend = strings.TrimPrefix(token, "backend=")
		default:
			return s, &ConfigError{Token: token}
		}
	}
	return s, nil
}

// evalUnit parses a number with an optional metric suffix (k, M, G).
func evalUnit(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1e3
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1e6
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1e9
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value")
	}
	return v * mult, nil
}

// Usage returns the encode option grammar for the help token.
func Usage() string {
	var b strings.Builder
	b.WriteString("Encoder usage:\n")
	b.WriteString("  -c libavcodec[:codec=<codec_name>][:bitrate=<bits_per_sec>|:bpp=<bits_per_pixel>]" +
		"[:subsampling=<subsampling>][:preset=<preset>][:gop=<gop>]" +
		"[:h264_no_periodic_intra][:threads=<thr_mode>][:backend=<backend>]\n")
	b.WriteString("  <codec_name>            H264, H265, MJPEG, JPEG2000 or VP8 (default MJPEG)\n")
	b.WriteString("  <bits_per_sec>          requested bitrate; 0 derives it from bpp\n")
	b.WriteString("  <subsampling>           444, 422 or 420; default 420 progressive, 422 interlaced\n")
	b.WriteString("  <preset>                encoder preset, eg. ultrafast or superfast for H.264\n")
	b.WriteString("  <gop>                   GOP size\n")
	b.WriteString("  h264_no_periodic_intra  do not use periodic intra refresh with H.264\n")
	b.WriteString("  <thr_mode>              \"no\", \"frame\" or \"slice\"\n")
	b.WriteString("  <backend>               encoder backend, eg. nvenc or libx264 for H.264\n")
	return b.String()
}
