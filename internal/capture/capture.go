// Package capture exposes the engine-facing screen capture facade: Init
// spawns the portal handshake and the media stream, Grab hands frames to
// the engine tick, Done tears everything down.
package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshcast/meshcast/internal/capture/portal"
	"github.com/meshcast/meshcast/internal/capture/stream"
	"github.com/meshcast/meshcast/internal/logger"
	"github.com/meshcast/meshcast/internal/video"
	"github.com/rs/zerolog"
)

// grabTimeout bounds how long the engine thread waits for a frame.
const grabTimeout = 500 * time.Millisecond

// Session is a live screen capture. Grab must be called from a single
// goroutine; Done may be called from anywhere and is idempotent.
type Session struct {
	mu      sync.Mutex
	portal  *portal.Client
	adapter *stream.Adapter

	pool     *stream.Pool
	inFlight *video.Frame
	closed   atomic.Bool
	doneOnce sync.Once
	ready    chan error
	log      zerolog.Logger
}

// Init runs the portal handshake and stream attach on a control goroutine
// and blocks until the stream is negotiated or setup failed.
func Init(opts Options) (*Session, error) {
	s := &Session{
		pool:  stream.NewPool(),
		ready: make(chan error, 2),
		log:   *logger.WithComponent("capture"),
	}

	go s.setup(opts, s.ready)

	if err := <-s.ready; err != nil {
		s.Done()
		return nil, err
	}
	s.log.Info().Msg("capture ready")
	return s, nil
}

func (s *Session) setup(opts Options, ready chan<- error) {
	client, err := portal.Connect(portal.Options{
		ShowCursor:  opts.ShowCursor,
		RestoreFile: opts.RestoreFile,
	})
	if err != nil {
		ready <- err
		return
	}
	s.mu.Lock()
	s.portal = client
	s.mu.Unlock()

	if err := client.OnClosed(func() { s.remoteClosed(nil) }); err != nil {
		s.log.Warn().Err(err).Msg("cannot watch for session closure")
	}

	st, err := client.Open()
	if err != nil {
		ready <- err
		return
	}

	crop := opts.Crop
	if st.FullScreen() {
		// a whole monitor has no empty background to crop out
		crop = false
	}

	var once sync.Once
	adapter, err := stream.Attach(st.FD, st.NodeID, stream.Options{
		FPSHint: opts.FPS,
		Crop:    crop,
		Region:  opts.Region,
	}, s.pool,
		func() { once.Do(func() { ready <- nil }) },
		func(err error) { s.remoteClosed(err) },
	)
	if err != nil {
		ready <- err
		return
	}
	s.mu.Lock()
	s.adapter = adapter
	closed := s.closed.Load()
	s.mu.Unlock()
	if closed {
		// Done already ran (failed init or remote close); it saw no
		// adapter, so detach here
		adapter.Detach()
	}
}

// remoteClosed reacts to the compositor ending the session: the facade
// flips into a closed state where Grab returns nil, and teardown runs off
// the callback goroutine.
func (s *Session) remoteClosed(err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("stream closed with error")
	}
	if s.closed.Swap(true) {
		return
	}
	// unblock an Init still waiting on negotiation
	if err == nil {
		err = errors.New("capture session closed by compositor")
	}
	select {
	case s.ready <- err:
	default:
	}
	s.pool.Close()
	go s.Done()
}

// Closed reports whether the session ended, either through Done or a
// compositor-side closure.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Grab returns the next captured frame, or nil after a timeout or once
// the session is closed. The previously returned frame is recycled into
// the pool, so it must not be used after the next Grab.
func (s *Session) Grab() *video.Frame {
	if s.closed.Load() {
		return nil
	}
	if s.inFlight != nil {
		s.pool.Recycle(s.inFlight)
		s.inFlight = nil
	}
	f, ok := s.pool.Recv(grabTimeout)
	if !ok {
		return nil
	}
	s.inFlight = f
	return f
}

// Done stops the media stream, closes the portal session, and frees the
// pools. Safe to call multiple times and after a remote close.
func (s *Session) Done() {
	s.doneOnce.Do(func() {
		s.closed.Store(true)
		s.mu.Lock()
		adapter := s.adapter
		client := s.portal
		s.adapter = nil
		s.portal = nil
		s.mu.Unlock()

		if adapter != nil {
			adapter.Detach()
		}
		if client != nil {
			client.Close()
		}
		s.pool.Close()
		s.inFlight = nil
		s.log.Info().Msg("capture done")
	})
}
