package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/meshcast/meshcast/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "meshcast",
		Short: "meshcast - real-time screen capture and compression engine",
		Long: `meshcast captures a display or application window through the
desktop portal, pulls frames from the compositor's media server, and
compresses them with a system encoder for real-time streaming.

Features:
  • Portal-based screen and window selection with restore tokens
  • Zero-copy frame pooling between the media thread and the engine tick
  • H.264/H.265/MJPEG/JPEG2000/VP8 compression with low-latency tuning
  • CPU-parallel pixel format conversion`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/meshcast/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if configDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(configDir, "meshcast"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetDefault("log_level", "info")
	viper.SetDefault("capture", "screen_pw")
	viper.SetDefault("compress", "libavcodec:codec=H264")
	viper.SetDefault("output", "meshcast.dump")
	_ = viper.ReadInConfig()

	logger.Init(viper.GetString("log_level"), true)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
