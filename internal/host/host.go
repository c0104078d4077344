// Package host carries the engine-side context injected into the capture
// and compression components: init result codes, the CUDA device list, and
// the CPU count used to size worker pools.
package host

import "runtime"

// InitCode is the result a component init reports upward to the engine.
type InitCode int

const (
	InitOK InitCode = iota
	// InitNoErr means init did not produce a usable component but the
	// outcome is not an error (typically: help was printed).
	InitNoErr
	InitFail
	// AudioNotSupported is returned by capture components that were asked
	// to also provide audio.
	AudioNotSupported
)

func (c InitCode) String() string {
	switch c {
	case InitOK:
		return "ok"
	case InitNoErr:
		return "no-error"
	case InitFail:
		return "fail"
	case AudioNotSupported:
		return "audio-not-supported"
	}
	return "unknown"
}

// Context is the engine state components receive instead of reaching for
// process globals.
type Context struct {
	// CudaDevices lists the GPU indices the engine was configured with;
	// index 0 is handed to GPU encoder backends.
	CudaDevices []int
	// CPUCount sizes the pixel-format worker pool.
	CPUCount int
}

// DefaultContext returns a context for a host with no explicit GPU
// configuration.
func DefaultContext() Context {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return Context{
		CudaDevices: []int{0},
		CPUCount:    n,
	}
}
