package capture

import (
	"errors"
	"testing"

	"github.com/meshcast/meshcast/internal/video"
)

func TestParseOptionsDefaults(t *testing.T) {
	t.Parallel()
	opts, err := ParseOptions("")
	if err != nil {
		t.Fatal(err)
	}
	if opts.ShowCursor || !opts.Crop || opts.FPS != 0 || opts.RestoreFile != "" || opts.Region != nil {
		t.Errorf("defaults wrong: %+v", opts)
	}
}

func TestParseOptionsFull(t *testing.T) {
	t.Parallel()
	opts, err := ParseOptions("cursor:nocrop:fps=60:restore=/tmp/token:region=10,20,800,600")
	if err != nil {
		t.Fatal(err)
	}
	if !opts.ShowCursor || opts.Crop {
		t.Errorf("flags wrong: %+v", opts)
	}
	if opts.FPS != 60 || opts.RestoreFile != "/tmp/token" {
		t.Errorf("values wrong: %+v", opts)
	}
	if opts.Region == nil || *opts.Region != (video.Rect{X: 10, Y: 20, W: 800, H: 600}) {
		t.Errorf("region wrong: %+v", opts.Region)
	}
}

func TestParseOptionsHelp(t *testing.T) {
	t.Parallel()
	opts, err := ParseOptions("help")
	if err != nil || !opts.Help {
		t.Errorf("help token: opts=%+v err=%v", opts, err)
	}
	// help short-circuits later garbage
	opts, err = ParseOptions("help:bogus")
	if err != nil || !opts.Help {
		t.Errorf("help prefix: opts=%+v err=%v", opts, err)
	}
}

func TestParseOptionsRejects(t *testing.T) {
	t.Parallel()
	bad := []string{
		"bogus",
		"fps=abc",
		"fps=-1",
		"restore=",
		"region=1,2,3",
		"region=a,b,c,d",
		"region=0,0,-5,10",
		"cursor:wat",
	}
	for _, cfg := range bad {
		_, err := ParseOptions(cfg)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("ParseOptions(%q) = %v, want ConfigError", cfg, err)
		}
	}
}

func TestDriverRegistry(t *testing.T) {
	t.Parallel()
	d, ok := Lookup("screen_pw")
	if !ok {
		t.Fatal("screen_pw driver not registered")
	}
	if d.Name != "screen_pw" || d.Init == nil {
		t.Errorf("driver malformed: %+v", d)
	}
	found := false
	for _, n := range Names() {
		if n == "screen_pw" {
			found = true
		}
	}
	if !found {
		t.Error("Names() missing screen_pw")
	}
}
