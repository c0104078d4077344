package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/meshcast/meshcast/internal/capture"
	"github.com/meshcast/meshcast/internal/compress"
	"github.com/meshcast/meshcast/internal/host"
	"github.com/meshcast/meshcast/internal/logger"
	"github.com/meshcast/meshcast/internal/sink"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Capture the screen and write the compressed stream to a file",
	Long: `Capture a display or window through the desktop portal, compress it,
and append the coded stream to the output file.

The capture and compression option strings use the engine grammars:
pass "screen_pw:help" or "libavcodec:help" to print them.`,
	Example: `  # pick a source interactively and encode H.264
  meshcast stream -c libavcodec:codec=H264:bitrate=8M -o out.h264

  # remember the picked source between runs, capture the cursor
  meshcast stream -t screen_pw:cursor:restore=/tmp/mc.token

  # fixed 60 fps hint, VP8, slice threading
  meshcast stream -t screen_pw:fps=60 -c libavcodec:codec=VP8:threads=slice`,
	RunE: runStream,
}

// process exit statuses surfaced to the engine host
const (
	exitFail              = 1
	exitAudioNotSupported = 3
)

func init() {
	streamCmd.Flags().StringP("capture", "t", "", "capture device and options (default from config)")
	streamCmd.Flags().StringP("compress", "c", "", "compression and options (default from config)")
	streamCmd.Flags().StringP("output", "o", "", "output file (default from config)")
	streamCmd.Flags().StringP("audio", "s", "", "audio capture device (not supported by screen capture)")
	streamCmd.Flags().Int("frames", 0, "stop after this many captured frames (0 = until interrupted)")

	viper.BindPFlag("capture", streamCmd.Flags().Lookup("capture"))
	viper.BindPFlag("compress", streamCmd.Flags().Lookup("compress"))
	viper.BindPFlag("output", streamCmd.Flags().Lookup("output"))

	rootCmd.AddCommand(streamCmd)
}

// splitOptionString separates the device name from its colon-separated
// option string.
func splitOptionString(s string) (name, cfg string) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func runStream(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("stream-cmd")
	hostCtx := host.DefaultContext()

	captureName, captureCfg := splitOptionString(viper.GetString("capture"))
	driver, ok := capture.Lookup(captureName)
	if !ok {
		return fmt.Errorf("unknown capture device %q (available: %s)",
			captureName, strings.Join(capture.Names(), ", "))
	}

	audioDev, _ := cmd.Flags().GetString("audio")
	session, code, err := driver.Init(captureCfg, audioDev != "")
	switch code {
	case host.InitNoErr:
		return nil
	case host.AudioNotSupported:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitAudioNotSupported)
	case host.InitFail:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFail)
	}
	defer session.Done()

	compressName, compressCfg := splitOptionString(viper.GetString("compress"))
	if compressName != "libavcodec" {
		return fmt.Errorf("unknown compression %q (available: libavcodec)", compressName)
	}
	comp, code, err := compress.New(compressCfg, hostCtx)
	switch code {
	case host.InitNoErr:
		return nil
	case host.InitFail:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFail)
	}
	defer comp.Close()

	out := sink.NewFileSink(viper.GetString("output"))
	if err := out.Start(); err != nil {
		return err
	}
	defer out.Stop()

	maxFrames, _ := cmd.Flags().GetInt("frames")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("capture", captureName).Str("compress", compressName).
		Str("output", viper.GetString("output")).Msg("streaming")

	grabbed := 0
	for {
		select {
		case <-stop:
			log.Info().Int("frames", grabbed).Msg("interrupted")
			return nil
		default:
		}

		frame := session.Grab()
		if frame == nil {
			if session.Closed() {
				log.Info().Int("frames", grabbed).Msg("capture session closed")
				return nil
			}
			continue
		}
		grabbed++

		coded, err := comp.Compress(frame)
		if err != nil {
			log.Warn().Err(err).Msg("frame dropped")
			continue
		}
		if coded == nil {
			continue
		}
		err = out.WriteFrame(coded)
		coded.Dispose()
		if err != nil {
			return err
		}

		if maxFrames > 0 && grabbed >= maxFrames {
			log.Info().Int("frames", grabbed).Msg("frame limit reached")
			return nil
		}
	}
}
