package stream

import (
	"sync"
	"time"

	"github.com/meshcast/meshcast/internal/queue"
	"github.com/meshcast/meshcast/internal/video"
)

// QueueSize is the frame pool depth: the number of output frames cycling
// between the media callback and the grab side.
const QueueSize = 3

// Pool owns the blank/sending queue pair and the preallocated output
// frames. Frames never leave the pool; the consumer holds at most one
// in-flight frame and recycles it on the next grab.
type Pool struct {
	blank   *queue.SPSC[*video.Frame]
	sending *queue.SPSC[*video.Frame]

	mu   sync.Mutex
	desc video.Desc
}

func NewPool() *Pool {
	return &Pool{
		blank:   queue.NewSPSC[*video.Frame](QueueSize),
		sending: queue.NewSPSC[*video.Frame](QueueSize),
	}
}

// Configure (re)allocates the pool for a negotiated stream size. Frames
// from a previous configuration are dropped from both queues first, so
// the pool always holds exactly QueueSize frames afterwards. The consumer
// side must not be holding a frame across a reconfiguration.
func (p *Pool) Configure(width, height int, fps float64) {
	for _, f := range p.blank.Drain() {
		f.Dispose()
	}
	for _, f := range p.sending.Drain() {
		f.Dispose()
	}
	desc := video.Desc{
		Width:       width,
		Height:      height,
		FPS:         fps,
		PixelFormat: video.RGBA,
		Interlacing: video.Progressive,
		TileCount:   1,
	}
	p.mu.Lock()
	p.desc = desc
	p.mu.Unlock()
	for i := 0; i < QueueSize; i++ {
		p.blank.Enqueue(desc.Alloc())
	}
}

// Desc returns the configuration the pool frames were allocated for.
func (p *Pool) Desc() video.Desc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desc
}

// Configured reports whether Configure has run at least once.
func (p *Pool) Configured() bool { return p.Desc().Width > 0 }

// DequeueBlank hands the producer a recycled frame, waiting up to timeout.
func (p *Pool) DequeueBlank(timeout time.Duration) (*video.Frame, bool) {
	return p.blank.WaitDequeueTimed(timeout)
}

// Send queues a filled frame for the consumer.
func (p *Pool) Send(f *video.Frame) bool {
	return p.sending.Enqueue(f)
}

// Recv blocks the consumer for at most timeout waiting for a filled frame.
func (p *Pool) Recv(timeout time.Duration) (*video.Frame, bool) {
	return p.sending.WaitDequeueTimed(timeout)
}

// Recycle returns the consumer's previous frame to the blank queue. A
// frame allocated under an older, smaller configuration is replaced with
// a fresh buffer so the pool never hands the producer a short frame.
func (p *Pool) Recycle(f *video.Frame) {
	desc := p.Desc()
	if need := desc.PixelFormat.Linesize(desc.Width) * desc.Height; len(f.Data) < need {
		f.Dispose()
		f = desc.Alloc()
	}
	p.blank.Enqueue(f)
}

// BlankApprox and SendingApprox expose queue depths for logging.
func (p *Pool) BlankApprox() int   { return p.blank.SizeApprox() }
func (p *Pool) SendingApprox() int { return p.sending.SizeApprox() }

// Close unblocks both sides and frees every pooled frame.
func (p *Pool) Close() {
	p.blank.Close()
	p.sending.Close()
	for _, f := range p.blank.Drain() {
		f.Dispose()
	}
	for _, f := range p.sending.Drain() {
		f.Dispose()
	}
}
