package capture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/meshcast/meshcast/internal/video"
)

// Options configure a screen-capture session. The zero value is not
// useful; DefaultOptions carries the defaults the option grammar mutates.
type Options struct {
	// ShowCursor embeds the pointer into captured frames.
	ShowCursor bool
	// Crop removes the empty background around window captures. On by
	// default; cleared automatically for whole-monitor captures.
	Crop bool
	// FPS is the preferred frame rate offered to the media server.
	FPS uint32
	// RestoreFile persists the portal restore token between runs.
	RestoreFile string
	// Region restricts delivered frames to a fixed sub-rectangle.
	Region *video.Rect
	// Help is set when the option string requested the usage text.
	Help bool
}

func DefaultOptions() Options {
	return Options{Crop: true}
}

// ParseOptions parses the colon-separated capture option string
// (everything after "screen_pw"). An unknown token is fatal.
func ParseOptions(cfg string) (Options, error) {
	opts := DefaultOptions()
	if cfg == "" {
		return opts, nil
	}
	for _, token := range strings.Split(cfg, ":") {
		switch {
		case token == "":
			// tolerate empty segments from trailing colons
		case token == "help":
			opts.Help = true
			return opts, nil
		case token == "cursor":
			opts.ShowCursor = true
		case token == "nocrop":
			opts.Crop = false
		case strings.HasPrefix(token, "fps="):
			v, err := strconv.ParseUint(strings.TrimPrefix(token, "fps="), 10, 32)
			if err != nil {
				return opts, &ConfigError{Token: token, Hint: "fps takes an unsigned integer"}
			}
			opts.FPS = uint32(v)
		case strings.HasPrefix(token, "restore="):
			opts.RestoreFile = strings.TrimPrefix(token, "restore=")
			if opts.RestoreFile == "" {
				return opts, &ConfigError{Token: token, Hint: "restore takes a file path"}
			}
		case strings.HasPrefix(token, "region="):
			r, err := parseRegion(strings.TrimPrefix(token, "region="))
			if err != nil {
				return opts, &ConfigError{Token: token, Hint: err.Error()}
			}
			opts.Region = &r
		default:
			return opts, &ConfigError{Token: token}
		}
	}
	return opts, nil
}

func parseRegion(s string) (video.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return video.Rect{}, fmt.Errorf("region takes x,y,w,h")
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return video.Rect{}, fmt.Errorf("region takes x,y,w,h")
		}
		vals[i] = v
	}
	r := video.Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	if r.W <= 0 || r.H <= 0 {
		return video.Rect{}, fmt.Errorf("region needs positive width and height")
	}
	return r, nil
}

// Usage returns the capture option grammar for the help token.
func Usage() string {
	var b strings.Builder
	b.WriteString("Screen capture via the desktop portal and the media server\n")
	b.WriteString("Usage: -t screen_pw[:cursor][:nocrop][:fps=<fps>][:restore=<token_file>][:region=<x>,<y>,<w>,<h>]\n")
	b.WriteString("  cursor       make the cursor visible (default hidden)\n")
	b.WriteString("  nocrop       when capturing a window do not crop out the empty background\n")
	b.WriteString("  fps=<fps>    preferred FPS passed to the media server (may be ignored)\n")
	b.WriteString("  restore=<f>  restore the selected display/window from a token file;\n")
	b.WriteString("               the token is saved there after the first selection\n")
	b.WriteString("  region=<r>   deliver only the given sub-rectangle\n")
	return b.String()
}
