package portal

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestTokensMonotonic(t *testing.T) {
	t.Parallel()
	var tokens Tokens
	prev := 0
	for i := 0; i < 5; i++ {
		tok, path := tokens.NextRequest("1_42")
		if !strings.HasPrefix(tok, "mc") {
			t.Fatalf("token %q missing prefix", tok)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(tok, "mc"))
		if err != nil {
			t.Fatalf("token %q has non-numeric counter", tok)
		}
		if n <= prev {
			t.Fatalf("counter not monotonic: %d after %d", n, prev)
		}
		prev = n
		want := "/org/freedesktop/portal/desktop/request/1_42/" + tok
		if path != want {
			t.Errorf("request path = %q, want %q", path, want)
		}
	}
	tok, path := tokens.NextSession("1_42")
	want := "/org/freedesktop/portal/desktop/session/1_42/" + tok
	if path != want {
		t.Errorf("session path = %q, want %q", path, want)
	}
}

func TestResponseError(t *testing.T) {
	t.Parallel()
	if err := responseError(0, "Start"); err != nil {
		t.Errorf("status 0 should be nil, got %v", err)
	}
	if err := responseError(1, "Start"); !errors.Is(err, ErrDenied) {
		t.Errorf("status 1 should map to ErrDenied, got %v", err)
	}
	if err := responseError(2, "Start"); !errors.Is(err, ErrFailed) {
		t.Errorf("status 2 should map to ErrFailed, got %v", err)
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()
	status, results, err := decodeResponse([]interface{}{
		uint32(0),
		map[string]dbus.Variant{"session_handle": dbus.MakeVariant("/a/b")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if status != 0 || len(results) != 1 {
		t.Errorf("decode = (%d, %v)", status, results)
	}
	if _, _, err := decodeResponse([]interface{}{uint32(0)}); err == nil {
		t.Error("short body should be rejected")
	}
	if _, _, err := decodeResponse([]interface{}{"x", map[string]dbus.Variant{}}); err == nil {
		t.Error("non-uint32 status should be rejected")
	}
}

func TestParseStreams(t *testing.T) {
	t.Parallel()
	props := map[string]dbus.Variant{"source_type": dbus.MakeVariant(uint32(1))}

	node, got, err := parseStreams([][]interface{}{{uint32(68), props}})
	if err != nil || node != 68 {
		t.Fatalf("nested slice shape: node=%d err=%v", node, err)
	}
	if v, ok := got["source_type"]; !ok || v.Value().(uint32) != 1 {
		t.Error("properties not carried through")
	}

	node, _, err = parseStreams([]interface{}{[]interface{}{uint32(99), props}})
	if err != nil || node != 99 {
		t.Fatalf("boxed shape: node=%d err=%v", node, err)
	}

	if _, _, err := parseStreams([][]interface{}{}); err == nil {
		t.Error("empty streams array should be rejected")
	}
	if _, _, err := parseStreams([][]interface{}{{uint32(1), props}, {uint32(2), props}}); err == nil {
		t.Error("multi-stream array should be rejected")
	}
	if _, _, err := parseStreams("bogus"); err == nil {
		t.Error("wrong type should be rejected")
	}
}

func TestRestoreTokenRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "restore")

	if got := readRestoreToken(path); got != "" {
		t.Errorf("missing file should read as empty, got %q", got)
	}
	const token = "a4f1b2c3-opaque-token"
	if err := writeRestoreToken(path, token); err != nil {
		t.Fatal(err)
	}
	if got := readRestoreToken(path); got != token {
		t.Errorf("round trip = %q, want %q", got, token)
	}
	// tokens written by other tools may carry a trailing newline
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := readRestoreToken(path); got != token {
		t.Errorf("trimmed read = %q, want %q", got, token)
	}
}

func TestStreamFullScreen(t *testing.T) {
	t.Parallel()
	if !(&Stream{SourceType: SourceTypeMonitor}).FullScreen() {
		t.Error("monitor source should be full screen")
	}
	if (&Stream{SourceType: SourceTypeWindow}).FullScreen() {
		t.Error("window source should not be full screen")
	}
}
