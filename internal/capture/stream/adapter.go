// Package stream attaches to the media server on the portal's file
// descriptor, negotiates the pixel layout, and feeds received buffers
// through the frame pool to the grab side.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshcast/meshcast/internal/logger"
	"github.com/meshcast/meshcast/internal/video"
	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// DefaultExpectedFPS seeds the rate estimate before the first window
// closes.
const DefaultExpectedFPS = 30

// ErrNegotiation is returned when no acceptable format or buffer layout
// could be agreed with the media server.
var ErrNegotiation = errors.New("media stream negotiation failed")

// State mirrors the media server's view of the stream.
type State int32

const (
	Unconnected State = iota
	Connecting
	Paused
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Paused:
		return "paused"
	case Streaming:
		return "streaming"
	}
	return "unconnected"
}

// Options tune the attach.
type Options struct {
	// FPSHint is the preferred framerate offered during negotiation;
	// 0 means DefaultExpectedFPS. The server may ignore it.
	FPSHint uint32
	// Crop enables compositor-driven window cropping.
	Crop bool
	// Region restricts delivered frames to a fixed sub-rectangle.
	Region *video.Rect
}

// Adapter drives one media-server stream. Buffers are consumed on a
// dedicated goroutine until Detach.
type Adapter struct {
	pool     *Pool
	opts     Options
	pipeline *gst.Pipeline
	sink     *app.Sink
	rate     *RateWindow
	state    atomic.Int32
	stop     chan struct{}
	wg       sync.WaitGroup
	ready    sync.Once
	onReady  func()
	onClosed func(error)
	log      zerolog.Logger
}

// Attach connects to the media server on fd and subscribes to the given
// node. onReady fires once the format is negotiated and the pool is
// populated; onClosed fires when the stream ends from the server side.
func Attach(fd int, nodeID uint32, opts Options, pool *Pool, onReady func(), onClosed func(error)) (*Adapter, error) {
	gst.Init(nil)

	a := &Adapter{
		pool:     pool,
		opts:     opts,
		rate:     NewRateWindow(hintOrDefault(opts.FPSHint)),
		stop:     make(chan struct{}),
		onReady:  onReady,
		onClosed: onClosed,
		log:      *logger.WithComponent("stream"),
	}

	desc := pipelineString(fd, nodeID, opts)
	a.log.Debug().Str("pipeline", desc).Msg("creating media pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	a.pipeline = pipeline

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("%w: no sink element: %v", ErrNegotiation, err)
	}
	a.sink = app.SinkFromElement(sinkElement)

	a.setState(Connecting)
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("%w: cannot start stream: %v", ErrNegotiation, err)
	}

	a.wg.Add(2)
	go a.pullLoop()
	go a.busLoop()

	a.log.Info().Uint32("node_id", nodeID).Int("fd", fd).Msg("attached to media stream")
	return a, nil
}

func hintOrDefault(hint uint32) uint32 {
	if hint == 0 {
		return DefaultExpectedFPS
	}
	return hint
}

// pipelineString builds the negotiation offer. With cropping enabled the
// stream's crop metadata is applied upstream and frames arrive in RGBA;
// without it the raw negotiated layout ({BGRA,RGBA,BGRx,RGBx}) is handed
// to the conversion stage.
func pipelineString(fd int, nodeID uint32, opts Options) string {
	src := fmt.Sprintf("pipewiresrc fd=%d path=%d do-timestamp=true", fd, nodeID)
	sink := "appsink name=sink emit-signals=false max-buffers=2 drop=true sync=false"
	if opts.Crop {
		return fmt.Sprintf("%s ! videoconvert ! video/x-raw,format=RGBA ! %s", src, sink)
	}
	return fmt.Sprintf("%s ! %s ! %s", src, rawCaps(opts.FPSHint), sink)
}

// rawCaps lists the accepted layouts, the size range, and the framerate
// range. When a rate hint is given an exact-rate structure is offered
// first so the server prefers it.
func rawCaps(fpsHint uint32) string {
	const base = "video/x-raw,format=(string){BGRA,RGBA,BGRx,RGBx}," +
		"width=(int)[1,3840],height=(int)[1,2160]"
	full := base + ",framerate=(fraction)[0/1,600/1]"
	if fpsHint == 0 {
		return full
	}
	return fmt.Sprintf("%s,framerate=(fraction)%d/1; %s", base, fpsHint, full)
}

// ExpectedFPS reports the rolling frame-rate estimate.
func (a *Adapter) ExpectedFPS() uint32 { return a.rate.Expected() }

// State returns the adapter's current stream state.
func (a *Adapter) State() State { return State(a.state.Load()) }

func (a *Adapter) setState(s State) {
	old := State(a.state.Swap(int32(s)))
	if old != s {
		a.log.Info().Stringer("from", old).Stringer("to", s).Msg("stream state changed")
	}
}

func (a *Adapter) pullLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		sample := a.sink.TryPullSample(100 * time.Millisecond)
		if sample == nil {
			continue
		}
		a.processSample(sample)
	}
}

func (a *Adapter) processSample(sample *gst.Sample) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return
	}
	caps := sample.GetCaps()
	if caps == nil {
		return
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return
	}
	widthV, _ := structure.GetValue("width")
	heightV, _ := structure.GetValue("height")
	formatV, _ := structure.GetValue("format")
	width, okW := widthV.(int)
	height, okH := heightV.(int)
	format, okF := formatV.(string)
	if !okW || !okH || !okF {
		return
	}

	if !a.pool.Configured() || a.pool.Desc().Width != width || a.pool.Desc().Height != height {
		a.pool.Configure(width, height, float64(a.rate.Expected()))
		a.log.Info().Int("width", width).Int("height", height).Str("format", format).
			Msg("stream format negotiated")
		a.ready.Do(func() {
			if a.onReady != nil {
				a.onReady()
			}
		})
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return
	}
	defer buffer.Unmap()

	src := mapInfo.Bytes()
	if len(src) == 0 {
		// empty chunk: hand the buffer straight back
		a.log.Debug().Msg("dropping empty buffer")
		return
	}
	linesize := video.RGBA.Linesize(width)
	if len(src) < linesize*height {
		a.log.Debug().Int("got", len(src)).Int("want", linesize*height).
			Msg("dropping short buffer")
		return
	}

	frame, ok := a.pool.DequeueBlank(a.rate.DequeueTimeout())
	if !ok {
		// backpressure: the grab side is behind, drop this buffer
		a.log.Debug().Msg("dropping frame (blank frame dequeue timed out)")
		return
	}

	swap := format == "BGRA" || format == "BGRx"
	if a.opts.Region != nil {
		if r, ok := ClampRect(*a.opts.Region, width, height); ok {
			CopyCropped(frame, src, width, r, swap)
		} else {
			Copy(frame, src, width, height, swap)
		}
	} else {
		Copy(frame, src, width, height, swap)
	}
	frame.FPS = float64(a.rate.Expected())

	a.pool.Send(frame)

	if a.rate.Tick(time.Now()) {
		a.log.Debug().Uint32("fps", a.rate.Expected()).
			Int("sending", a.pool.SendingApprox()).Int("blank", a.pool.BlankApprox()).
			Msg("rate window closed")
	}
}

func (a *Adapter) busLoop() {
	defer a.wg.Done()
	bus := a.pipeline.GetPipelineBus()
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			a.log.Info().Msg("stream ended")
			wasStreaming := a.State() == Streaming
			a.setState(Unconnected)
			if wasStreaming && a.onClosed != nil {
				a.onClosed(nil)
			}
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			a.setState(Unconnected)
			a.log.Error().Str("error", gerr.Error()).Msg("stream error")
			if a.onClosed != nil {
				a.onClosed(fmt.Errorf("stream error: %s", gerr.Error()))
			}
			return
		case gst.MessageStateChanged:
			if msg.Source() != a.pipeline.GetName() {
				continue
			}
			_, next := msg.ParseStateChanged()
			switch next {
			case gst.StateReady:
				a.setState(Connecting)
			case gst.StatePaused:
				a.setState(Paused)
			case gst.StatePlaying:
				a.setState(Streaming)
			case gst.StateNull:
				a.setState(Unconnected)
			}
		}
	}
}

// Detach stops the stream, joins both loops, and releases the pipeline.
// Idempotent.
func (a *Adapter) Detach() {
	select {
	case <-a.stop:
		return
	default:
	}
	close(a.stop)
	if a.pipeline != nil {
		_ = a.pipeline.SetState(gst.StateNull)
	}
	a.wg.Wait()
	if a.pipeline != nil {
		a.pipeline.Unref()
		a.pipeline = nil
	}
	a.setState(Unconnected)
	a.log.Info().Msg("detached from media stream")
}
