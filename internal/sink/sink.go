// Package sink holds the display outputs coded or raw frames are handed
// to after the pipeline.
package sink

import "github.com/meshcast/meshcast/internal/video"

// Sink defines the interface for frame output mechanisms, so the engine
// can swap between a file dump, a network sender, or a preview window.
type Sink interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends one frame to the output
	WriteFrame(frame *video.Frame) error

	// Name returns a human-readable name for this output type
	Name() string
}
