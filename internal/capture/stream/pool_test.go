package stream

import (
	"testing"
	"time"
)

func TestPoolConfigureAllocates(t *testing.T) {
	t.Parallel()
	p := NewPool()
	if p.Configured() {
		t.Fatal("fresh pool should be unconfigured")
	}
	p.Configure(640, 480, 30)
	if !p.Configured() {
		t.Fatal("pool should be configured")
	}
	if p.BlankApprox() != QueueSize || p.SendingApprox() != 0 {
		t.Fatalf("blank=%d sending=%d after configure", p.BlankApprox(), p.SendingApprox())
	}
	f, ok := p.DequeueBlank(time.Second)
	if !ok {
		t.Fatal("no blank frame available")
	}
	if f.Width != 640 || f.Height != 480 || f.Stride != 2560 {
		t.Errorf("frame geometry = %dx%d stride %d", f.Width, f.Height, f.Stride)
	}
	if len(f.Data) != f.Stride*f.Height {
		t.Errorf("buffer length %d != stride*height %d", len(f.Data), f.Stride*f.Height)
	}
}

// Reconfiguration must not leak or duplicate frames: the pool holds
// exactly QueueSize frames afterwards.
func TestPoolReconfigureConservesFrames(t *testing.T) {
	t.Parallel()
	p := NewPool()
	p.Configure(640, 480, 30)

	// move one frame into sending to make the state non-trivial
	f, _ := p.DequeueBlank(time.Second)
	p.Send(f)

	p.Configure(1920, 1080, 60)
	if total := p.BlankApprox() + p.SendingApprox(); total != QueueSize {
		t.Fatalf("pool holds %d frames after reconfigure, want %d", total, QueueSize)
	}
	f, ok := p.DequeueBlank(time.Second)
	if !ok || f.Width != 1920 {
		t.Fatalf("post-reconfigure frame = %+v", f)
	}
}

// Producer at high rate, consumer stalled: sending saturates at QueueSize,
// further producer attempts starve on blank and must drop; order holds.
func TestPoolBackpressure(t *testing.T) {
	t.Parallel()
	p := NewPool()
	p.Configure(64, 64, 30)

	delivered := 0
	dropped := 0
	for tick := 0; tick < 10; tick++ {
		f, ok := p.DequeueBlank(10 * time.Millisecond)
		if !ok {
			dropped++
			continue
		}
		f.PTS = int64(delivered)
		p.Send(f)
		delivered++
	}
	if delivered != QueueSize {
		t.Errorf("delivered %d frames, want %d", delivered, QueueSize)
	}
	if dropped != 10-QueueSize {
		t.Errorf("dropped %d frames, want %d", dropped, 10-QueueSize)
	}

	// consumer drains in order and recycles; producer recovers
	for i := 0; i < QueueSize; i++ {
		f, ok := p.Recv(time.Second)
		if !ok {
			t.Fatalf("recv %d failed", i)
		}
		if f.PTS != int64(i) {
			t.Fatalf("out of order: got pts %d at position %d", f.PTS, i)
		}
		p.Recycle(f)
	}
	if _, ok := p.DequeueBlank(time.Second); !ok {
		t.Error("producer still starved after recycle")
	}
}

func TestPoolCloseUnblocks(t *testing.T) {
	t.Parallel()
	p := NewPool()
	p.Configure(64, 64, 30)
	done := make(chan struct{})
	go func() {
		p.Recv(5 * time.Second)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	p.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not unblock the consumer")
	}
}
