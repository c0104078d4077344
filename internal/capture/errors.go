package capture

import (
	"fmt"

	"github.com/meshcast/meshcast/internal/capture/portal"
	"github.com/meshcast/meshcast/internal/capture/stream"
)

// The capture error taxonomy. Portal and stream conditions keep their
// originating sentinel so callers can errors.Is against either layer.
var (
	// ErrPortalDenied: the user cancelled the picker dialog.
	ErrPortalDenied = portal.ErrDenied
	// ErrPortalFailed: any other portal-side failure.
	ErrPortalFailed = portal.ErrFailed
	// ErrMediaNegotiation: no acceptable pixel format or buffer layout.
	ErrMediaNegotiation = stream.ErrNegotiation
)

// BusError is re-exported for errors.As checks on IPC failures.
type BusError = portal.BusError

// ConfigError reports an unrecognised or malformed option token. It is
// fatal at init.
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
