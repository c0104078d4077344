// Package compress wraps the system encoder: it negotiates a pixel
// format with the selected backend, converts raw frames into the
// encoder's planar layout across the CPU cores, and emits coded packets
// as engine frames.
package compress

import (
	"errors"
	"fmt"
	"os"

	"github.com/asticode/go-astiav"
	"github.com/meshcast/meshcast/internal/host"
	"github.com/meshcast/meshcast/internal/logger"
	"github.com/meshcast/meshcast/internal/video"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEncoderInit covers a missing encoder, a failed open, or a frame
	// allocation failure; it is fatal for the current configuration.
	ErrEncoderInit = errors.New("encoder initialization failed")
	// ErrEncoderEncode marks a failed encode call; the frame is dropped
	// and the encoder stays alive.
	ErrEncoderEncode = errors.New("encode failed")
)

// Compressor drives one encoder instance. Compress must be called from a
// single goroutine.
type Compressor struct {
	settings Settings
	hostCtx  host.Context

	saved      video.Desc
	configured bool

	codec    *astiav.Codec
	ctx      *astiav.CodecContext
	encFrame *astiav.Frame
	selected astiav.PixelFormat
	kind     planarKind
	planar   *planarFrame
	staging  []byte
	lineConv lineConverter

	pts int64
	log zerolog.Logger
}

// New parses the encode option string and prepares a compressor. The
// encoder itself is configured lazily from the first frame's description.
func New(cfg string, hostCtx host.Context) (*Compressor, host.InitCode, error) {
	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, host.InitFail, err
	}
	if settings.Help {
		fmt.Fprint(os.Stdout, Usage())
		return nil, host.InitNoErr, nil
	}
	if hostCtx.CPUCount < 1 {
		hostCtx.CPUCount = 1
	}

	c := &Compressor{
		settings: settings,
		hostCtx:  hostCtx,
		log:      *logger.WithComponent("compress"),
	}
	c.log.Info().Stringer("codec", settings.Codec).Msg("using codec")
	return c, host.InitOK, nil
}

// Compress encodes one raw frame. A nil frame with nil error means the
// encoder produced no packet this tick (or the current configuration is
// broken and the frame was dropped); the caller just moves on.
func (c *Compressor) Compress(in *video.Frame) (*video.Frame, error) {
	desc := video.DescFromFrame(in)
	if !desc.EqualExceptTileCount(c.saved) {
		c.teardown()
		c.saved = desc
		if err := c.configure(desc); err != nil {
			c.configured = false
			return nil, fmt.Errorf("%w: %v", ErrEncoderInit, err)
		}
		c.configured = true
	}
	if !c.configured {
		// a previous configure for this same description failed; drop
		// frames until the input changes
		return nil, nil
	}

	src := in.Data
	if c.lineConv != nil {
		srcLinesize := in.PixelFormat.Linesize(in.Width)
		dstLinesize := video.UYVY.Linesize(in.Width)
		for row := 0; row < in.Height; row++ {
			c.lineConv(c.staging[row*dstLinesize:], in.Data[row*srcLinesize:], in.Width)
		}
		src = c.staging
	}

	var g errgroup.Group
	srcLinesize := video.UYVY.Linesize(in.Width)
	for _, st := range partition(in.Height, c.hostCtx.CPUCount) {
		st := st
		if st.rows == 0 {
			continue
		}
		view := c.planar.view(st.row, st.rows)
		data := src[st.row*srcLinesize:]
		g.Go(func() error {
			packUYVY(c.kind, view, data, in.Width, st.rows)
			return nil
		})
	}
	_ = g.Wait()

	if err := c.encFrame.Data().SetBytes(c.planar.buf, 1); err != nil {
		return nil, fmt.Errorf("%w: fill frame: %v", ErrEncoderEncode, err)
	}
	c.encFrame.SetPts(c.pts)
	c.pts++

	if err := c.ctx.SendFrame(c.encFrame); err != nil {
		c.log.Error().Err(err).Msg("encode failed, dropping frame")
		return nil, fmt.Errorf("%w: %v", ErrEncoderEncode, err)
	}
	pkt := astiav.AllocPacket()
	if err := c.ctx.ReceivePacket(pkt); err != nil {
		pkt.Free()
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			// the encoder is buffering; nothing to emit this tick
			return nil, nil
		}
		c.log.Error().Err(err).Msg("encode failed, dropping frame")
		return nil, fmt.Errorf("%w: %v", ErrEncoderEncode, err)
	}

	// the coded frame takes ownership of the packet; its disposer frees
	// the packet when the frame is dropped
	out := &video.Frame{
		Width:       desc.Width,
		Height:      desc.Height,
		PixelFormat: c.settings.Codec,
		FPS:         desc.FPS,
		Interlacing: desc.Interlacing,
		PTS:         pkt.Pts(),
		Data:        pkt.Data(),
	}
	out.SetDisposer(func(*video.Frame) { pkt.Free() })
	c.log.Debug().Int("size", len(out.Data)).Int64("pts", out.PTS).Msg("compressed frame")
	return out, nil
}

func (c *Compressor) configure(desc video.Desc) error {
	entry, ok := LookupCodec(c.settings.Codec)
	if !ok {
		return fmt.Errorf("codec %s is not supported by the encoder library", c.settings.Codec)
	}

	c.codec = nil
	if c.settings.Backend != "" {
		c.codec = astiav.FindEncoderByName(c.settings.Backend)
		if c.codec == nil {
			return fmt.Errorf("requested encoder %q not found", c.settings.Backend)
		}
	} else if entry.PreferredEncoder != "" {
		c.codec = astiav.FindEncoderByName(entry.PreferredEncoder)
		if c.codec == nil {
			c.log.Warn().Str("encoder", entry.PreferredEncoder).
				Msg("preferred encoder not found, trying the default")
		}
	}
	if c.codec == nil {
		c.codec = astiav.FindEncoder(entry.CodecID)
	}
	if c.codec == nil {
		return fmt.Errorf("no encoder available for %s", c.settings.Codec)
	}

	interlaced := desc.Interlacing == video.InterlacedMerged
	selected, err := selectPixelFormat(c.settings.Subsampling, interlaced, c.codec.Name(), c.codec.PixelFormats())
	if err != nil {
		if c.settings.Subsampling != 0 {
			return fmt.Errorf("%w: requested subsampling %d not supported by %s",
				err, c.settings.Subsampling, c.codec.Name())
		}
		return err
	}
	c.selected = selected
	c.kind, _ = kindForPixelFormat(selected)
	c.log.Info().Stringer("pixfmt", c.kind).Str("encoder", c.codec.Name()).Msg("selected pixel format")

	planar, err := newPlanarFrame(c.kind, desc.Width, desc.Height)
	if err != nil {
		return err
	}

	avgBPP := entry.AvgBPP
	if c.settings.BPP != 0 {
		avgBPP = c.settings.BPP
	}
	bitRate := c.settings.Bitrate
	if bitRate <= 0 {
		bitRate = DefaultBitrate(desc.Width, desc.Height, desc.FPS, avgBPP)
	}

	fps := int(desc.FPS)
	if fps < 1 {
		fps = 1
	}
	newContext := func() (*astiav.CodecContext, error) {
		ctx := astiav.AllocCodecContext(c.codec)
		if ctx == nil {
			return nil, fmt.Errorf("cannot allocate codec context")
		}
		ctx.SetStrictStdCompliance(astiav.StrictStdComplianceExperimental)
		ctx.SetBitRate(bitRate)
		ctx.SetWidth(desc.Width)
		ctx.SetHeight(desc.Height)
		ctx.SetTimeBase(astiav.NewRational(1, fps))
		ctx.SetFramerate(astiav.NewRational(fps, 1))
		ctx.SetGopSize(c.settings.GOP)
		ctx.SetMaxBFrames(0)
		ctx.SetPixelFormat(selected)
		return ctx, nil
	}

	opts := newOptionSet()
	if c.settings.Preset != "" {
		opts.Set("preset", c.settings.Preset)
	}
	paramStr := entry.Tuning.apply(opts, tuneParams{
		encoderName:         c.codec.Name(),
		fps:                 desc.FPS,
		interlaced:          interlaced,
		h264NoPeriodicIntra: c.settings.H264NoPeriodicIntra,
		cpuCount:            c.hostCtx.CPUCount,
		threads:             c.settings.Threads,
		havePreset:          c.settings.Preset != "",
		bitRate:             bitRate,
		cudaDevices:         c.hostCtx.CudaDevices,
	})

	ctx, err := c.openContext(newContext, opts, paramStr)
	if err != nil {
		return err
	}

	freeContext := func() {
		release := acquireEncoderLock()
		ctx.Free()
		release()
	}

	encFrame := astiav.AllocFrame()
	if encFrame == nil {
		freeContext()
		return fmt.Errorf("cannot allocate encoder frame")
	}
	encFrame.SetWidth(desc.Width)
	encFrame.SetHeight(desc.Height)
	encFrame.SetPixelFormat(selected)
	if err := encFrame.AllocBuffer(1); err != nil {
		encFrame.Free()
		freeContext()
		return fmt.Errorf("cannot allocate encoder frame buffer: %v", err)
	}

	c.lineConv, err = lineConverterFor(desc.PixelFormat)
	if err != nil {
		encFrame.Free()
		freeContext()
		return err
	}
	if c.lineConv != nil {
		c.staging = make([]byte, video.UYVY.Linesize(desc.Width)*desc.Height)
	} else {
		c.staging = nil
	}

	c.ctx = ctx
	c.encFrame = encFrame
	c.planar = planar
	return nil
}

// openAttempt is one stage of the versioned-option-key fallback: the
// option string under one candidate key, or the preset once every key
// was rejected.
type openAttempt struct {
	key   string
	value string
}

// fallbackAttempts expands an option string into the open sequence: each
// candidate key in order, then the fallback preset. Without an option
// string there is a single plain attempt.
func fallbackAttempts(paramStr *optionString) []openAttempt {
	if paramStr == nil {
		return []openAttempt{{}}
	}
	attempts := make([]openAttempt, 0, len(paramStr.keys)+1)
	for _, key := range paramStr.keys {
		attempts = append(attempts, openAttempt{key: key, value: paramStr.value})
	}
	return append(attempts, openAttempt{key: "preset", value: paramStr.presetFallback})
}

// openContext opens the encoder, retrying with a fresh context per
// attempt. An option string is set under its newest key first, then the
// legacy key, then replaced by the fallback preset. A key the encoder
// does not consume is left behind in the open dictionary; that counts as
// a failure the same way an open error does.
func (c *Compressor) openContext(newContext func() (*astiav.CodecContext, error), opts *optionSet, paramStr *optionString) (*astiav.CodecContext, error) {
	attempts := fallbackAttempts(paramStr)

	var lastErr error
	for i, att := range attempts {
		ctx, err := newContext()
		if err != nil {
			return nil, err
		}
		dict := astiav.NewDictionary()
		opts.Each(func(key, value string) {
			_ = dict.Set(key, value, 0)
		})
		if att.key != "" {
			_ = dict.Set(att.key, att.value, 0)
		}

		release := acquireEncoderLock()
		err = ctx.Open(c.codec, dict)
		release()

		rejected := err == nil && att.key != "" && att.key != "preset" &&
			dict.Get(att.key, nil, 0) != nil
		dict.Free()

		if err == nil && !rejected {
			if att.key == "preset" {
				c.log.Warn().Str("preset", att.value).
					Msg("old encoder library detected, consider upgrading; using preset")
			}
			return ctx, nil
		}

		release = acquireEncoderLock()
		ctx.Free()
		release()
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("encoder does not accept option key %q", att.key)
		}
		if i < len(attempts)-1 {
			c.log.Warn().Err(lastErr).Msg("cannot apply encoder options, trying fallback")
		}
	}
	return nil, fmt.Errorf("cannot open codec: %v", lastErr)
}

// lineConverterFor maps an input layout onto its UYVY scanline converter;
// nil means the input already is UYVY.
func lineConverterFor(f video.Codec) (lineConverter, error) {
	switch f {
	case video.UYVY:
		return nil, nil
	case video.YUYV:
		return lineYUYVtoUYVY, nil
	case video.RGBA:
		return lineRGBAtoUYVY, nil
	case video.RGB:
		return lineRGBtoUYVY, nil
	case video.BGR:
		return lineBGRtoUYVY, nil
	case video.V210:
		return lineV210toUYVY, nil
	}
	return nil, fmt.Errorf("no converter for input pixel format %s", f)
}

func (c *Compressor) teardown() {
	if c.encFrame != nil {
		c.encFrame.Free()
		c.encFrame = nil
	}
	if c.ctx != nil {
		release := acquireEncoderLock()
		c.ctx.Free()
		release()
		c.ctx = nil
	}
	c.planar = nil
	c.staging = nil
	c.configured = false
}

// Close releases the encoder. The pts sequence survives a Close/configure
// cycle only through a new Compressor.
func (c *Compressor) Close() {
	c.teardown()
	c.saved = video.Desc{}
}
