package compress

import (
	"strconv"
	"strings"

	"github.com/meshcast/meshcast/internal/logger"
)

// TuningPolicy reshapes a freshly allocated encoder context before open.
// Every policy writes AVOptions into an ordered list that is replayed
// into the open dictionary; a later Set of the same key wins.
type TuningPolicy int

const (
	PolicyDefault TuningPolicy = iota
	PolicyH264
	PolicyH265
	PolicyVP8
)

// disableH265IntraRefresh mirrors the build switch some deployments use
// when the decoder pool cannot handle intra-refresh H.265.
const disableH265IntraRefresh = false

type tuneParams struct {
	encoderName         string
	fps                 float64
	interlaced          bool
	h264NoPeriodicIntra bool
	cpuCount            int
	threads             string
	havePreset          bool
	bitRate             int64
	cudaDevices         []int
}

// optionSet is an ordered AVOption collection; replay order matters when
// a policy overwrites its own earlier value.
type optionSet struct {
	keys   []string
	values map[string]string
}

func newOptionSet() *optionSet {
	return &optionSet{values: map[string]string{}}
}

func (o *optionSet) Set(key, value string) {
	if _, seen := o.values[key]; !seen {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *optionSet) Get(key string) (string, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *optionSet) Each(fn func(key, value string)) {
	for _, k := range o.keys {
		fn(k, o.values[k])
	}
}

// ultrafast-equivalent option string; aq-mode 2 is kept on: disabling
// adaptive quantisation causes visible posterization.
const x264ParamsLowLatency = "no-8x8dct=1:b-adapt=0:bframes=0:no-cabac=1:" +
	"no-deblock=1:no-mbtree=1:me=dia:no-mixed-refs=1:partitions=none:" +
	"rc-lookahead=0:ref=1:scenecut=0:subme=0:trellis=0:aq-mode=2"

const x265ParamsLowLatency = "b-adapt=0:bframes=0:no-b-pyramid=1:" +
	"no-deblock=1:no-sao=1:no-weightb=1:no-weightp=1:no-b-intra=1:" +
	"me=dia:max-merge=1:subme=0:no-strong-intra-smoothing=1:" +
	"rc-lookahead=2:ref=1:scenecut=0:" +
	"no-cutree=1:rd=0:" +
	"ctu=32:min-cu-size=16:max-tu-size=16:" +
	"frame-threads=3:pme=1:" +
	"keyint=180:min-keyint=120:" +
	"aq-mode=0"

const (
	defaultNvencPreset = "llhp"
	defaultX264Preset  = "superfast"
	defaultX265Preset  = "ultrafast"
)

// optionString is an encoder option blob whose dictionary key changed
// across library versions. Each key is tried in order; when the encoder
// consumes none of them the preset fallback applies instead.
type optionString struct {
	value          string
	keys           []string
	presetFallback string
}

// apply fills opts for the freshly allocated context. The returned
// option string, if any, must be set through the staged key-fallback
// open (see the encoder driver); it is not part of opts.
func (p TuningPolicy) apply(opts *optionSet, params tuneParams) *optionString {
	switch p {
	case PolicyH264:
		return tuneH264(opts, params)
	case PolicyH265:
		return tuneH265(opts, params)
	case PolicyVP8:
		tuneVP8(opts, params)
	default:
		tuneDefault(opts, params)
	}
	return nil
}

// tuneDefault only arranges multithreading. Thread count 0 lets the
// backend size its own pool; backends without the capability fall back on
// their own.
func tuneDefault(opts *optionSet, params tuneParams) {
	log := logger.WithComponent("compress")
	switch params.threads {
	case "", "no":
	case "slice", "frame":
		opts.Set("threads", "0")
		opts.Set("thread_type", params.threads)
	default:
		log.Warn().Str("threads", params.threads).Msg("unknown thread mode, using encoder defaults")
	}
}

func tuneH264(opts *optionSet, params tuneParams) *optionString {
	log := logger.WithComponent("compress")
	switch {
	case params.encoderName == "libx264":
		var fallback *optionString
		if !params.havePreset {
			fallback = &optionString{
				value:          x264ParamsLowLatency,
				keys:           []string{"x264-params", "x264opts"},
				presetFallback: defaultX264Preset,
			}
		}
		opts.Set("tune", "fastdecode,zerolatency")
		setEvenRateControl(opts, params.bitRate, params.fps, 8)
		if !params.h264NoPeriodicIntra {
			opts.Set("refs", "1")
			opts.Set("intra-refresh", "1")
		}
		return fallback
	case strings.Contains(params.encoderName, "nvenc"):
		if !params.havePreset {
			opts.Set("preset", defaultNvencPreset)
		}
		opts.Set("cbr", "1")
		if len(params.cudaDevices) > 0 {
			opts.Set("gpu", strconv.Itoa(params.cudaDevices[0]))
		}
		opts.Set("maxrate", strconv.FormatInt(params.bitRate, 10))
		opts.Set("bufsize", strconv.FormatInt(rateOverFPS(params.bitRate, params.fps, 1), 10))
	default:
		log.Warn().Str("encoder", params.encoderName).
			Msg("unknown H.264 encoder, using default configuration values")
	}
	return nil
}

func tuneH265(opts *optionSet, params tuneParams) *optionString {
	x265 := x265ParamsLowLatency
	if params.interlaced {
		x265 += ":tff=1"
	}
	opts.Set("tune", "zerolatency")
	opts.Set("tune", "fastdecode")
	setEvenRateControl(opts, params.bitRate, params.fps, 8)
	if !disableH265IntraRefresh {
		opts.Set("refs", "1")
		opts.Set("intra-refresh", "1")
	}
	return &optionString{
		value:          x265,
		keys:           []string{"x265-params", "x265opts"},
		presetFallback: defaultX265Preset,
	}
}

func tuneVP8(opts *optionSet, params tuneParams) {
	opts.Set("threads", strconv.Itoa(params.cpuCount))
	opts.Set("slices", "4")
	opts.Set("bufsize", strconv.FormatInt(rateOverFPS(params.bitRate, params.fps, 1), 10))
	opts.Set("deadline", "realtime")
}

// setEvenRateControl caps the peak rate at the target and shrinks the VBV
// window so frame sizes stay as even as possible.
func setEvenRateControl(opts *optionSet, bitRate int64, fps float64, bufferFrames int64) {
	opts.Set("maxrate", strconv.FormatInt(bitRate, 10))
	opts.Set("bufsize", strconv.FormatInt(rateOverFPS(bitRate, fps, bufferFrames), 10))
	opts.Set("qcomp", "0")
	opts.Set("qmin", "0")
	opts.Set("qmax", "69")
}

func rateOverFPS(bitRate int64, fps float64, frames int64) int64 {
	if fps < 1 {
		fps = 1
	}
	return int64(float64(bitRate)/fps) * frames
}
