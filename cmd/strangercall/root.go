package main

import (
	"os"

	"strangercall/native/internal/config"
	"strangercall/native/internal/logging"
	"strangercall/native/internal/ui"

	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "strangercall",
	Short: "Random one-to-one video calls over WebRTC",
	Long: `strangercall pairs you with a stranger for a peer-to-peer video call.

Rooms are allocated by a room service, offers and ICE candidates travel
over a websocket signaling server, and media flows directly between the
two peers. Run "strangercall relay" to host both services locally.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default ./strangercall.yaml)")
	rootCmd.AddCommand(callCmd, relayCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// setup loads configuration and initializes logging. logFile overrides
// the configured log file when non-empty.
func setup(logFile string) (*config.Config, func(), error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if logFile == "" {
		logFile = cfg.LogFile
	}
	closer, err := logging.Init(cfg.LogLevel, logFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { closer.Close() }, nil
}
