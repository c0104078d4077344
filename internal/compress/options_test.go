package compress

import (
	"errors"
	"testing"

	"github.com/meshcast/meshcast/internal/video"
)

func TestParseSettingsDefaults(t *testing.T) {
	t.Parallel()
	s, err := ParseSettings("")
	if err != nil {
		t.Fatal(err)
	}
	if s.Codec != video.MJPG || s.GOP != DefaultGOPSize || s.Subsampling != 0 {
		t.Errorf("defaults wrong: %+v", s)
	}
}

func TestParseSettingsFull(t *testing.T) {
	t.Parallel()
	s, err := ParseSettings("codec=H264:bitrate=8M:subsampling=422:preset=ultrafast:gop=60:h264_no_periodic_intra:threads=slice:backend=nvenc")
	if err != nil {
		t.Fatal(err)
	}
	if s.Codec != video.H264 || s.Bitrate != 8_000_000 || s.Subsampling != 422 {
		t.Errorf("values wrong: %+v", s)
	}
	if s.Preset != "ultrafast" || s.GOP != 60 || !s.H264NoPeriodicIntra {
		t.Errorf("values wrong: %+v", s)
	}
	if s.Threads != "slice" || s.Backend != "nvenc" {
		t.Errorf("values wrong: %+v", s)
	}
}

func TestParseSettingsBPP(t *testing.T) {
	t.Parallel()
	s, err := ParseSettings("codec=vp8:bpp=0.4")
	if err != nil {
		t.Fatal(err)
	}
	if s.Codec != video.VP8 || s.BPP != 0.4 || s.Bitrate != 0 {
		t.Errorf("values wrong: %+v", s)
	}
}

func TestParseSettingsRejects(t *testing.T) {
	t.Parallel()
	bad := []string{
		"bogus",
		"codec=nope",
		"subsampling=411",
		"subsampling=x",
		"threads=auto",
		"gop=0",
		"gop=-3",
		"bitrate=fast",
	}
	for _, cfg := range bad {
		_, err := ParseSettings(cfg)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("ParseSettings(%q) = %v, want ConfigError", cfg, err)
		}
	}
}

func TestParseSettingsHelp(t *testing.T) {
	t.Parallel()
	s, err := ParseSettings("help")
	if err != nil || !s.Help {
		t.Errorf("help token: %+v, %v", s, err)
	}
}

func TestEvalUnit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want float64
	}{
		{"1000", 1000},
		{"10k", 10_000},
		{"10K", 10_000},
		{"8M", 8_000_000},
		{"1.5M", 1_500_000},
		{"2G", 2_000_000_000},
		{"0.28", 0.28},
	}
	for _, c := range cases {
		got, err := evalUnit(c.in)
		if err != nil || got != c.want {
			t.Errorf("evalUnit(%q) = (%v, %v), want %v", c.in, got, err, c.want)
		}
	}
	for _, in := range []string{"", "x", "-5", "MM"} {
		if _, err := evalUnit(in); err == nil {
			t.Errorf("evalUnit(%q) should fail", in)
		}
	}
}
