package sink

import (
	"fmt"
	"os"

	"github.com/meshcast/meshcast/internal/logger"
	"github.com/meshcast/meshcast/internal/video"
	"github.com/rs/zerolog"
)

// FileSink appends every frame's payload to a single file. For coded
// elementary streams (H.264/H.265) the result is playable as-is; for raw
// frames it is a headerless dump useful for debugging.
type FileSink struct {
	path   string
	file   *os.File
	frames int64
	log    zerolog.Logger
}

func NewFileSink(path string) *FileSink {
	return &FileSink{
		path: path,
		log:  *logger.WithComponent("sink"),
	}
}

func (s *FileSink) Name() string { return "file" }

// Start is lazy: the file is created on the first frame so an aborted
// init leaves nothing behind.
func (s *FileSink) Start() error { return nil }

func (s *FileSink) WriteFrame(frame *video.Frame) error {
	if frame == nil || len(frame.Data) == 0 {
		return nil
	}
	if s.file == nil {
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("create %s: %w", s.path, err)
		}
		s.file = f
		s.log.Info().Str("path", s.path).Stringer("format", frame.PixelFormat).
			Msg("writing stream")
	}
	if _, err := s.file.Write(frame.Data); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.frames++
	return nil
}

func (s *FileSink) Stop() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.log.Info().Int64("frames", s.frames).Str("path", s.path).Msg("stream closed")
	return err
}
