package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"strangercall/native/internal/api"
	"strangercall/native/internal/config"
	"strangercall/native/internal/domain"
	"strangercall/native/internal/media"
	"strangercall/native/internal/session"
	sigclient "strangercall/native/internal/signal"
	"strangercall/native/internal/ui"
	"strangercall/native/internal/webrtc"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagVideo    string
	flagAudio    string
	flagRelayICE bool
	flagRemote   string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Join a random video call",
	Long: `Join a random video call and show the call screen.

Without --video or --audio a synthetic placeholder stream is sent.

Examples:
  strangercall call
  strangercall call --video clip.ivf --audio clip.ogg
  strangercall call --relay-only
  strangercall call --remote-video - | ffplay -f h264 -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The call screen owns the terminal, so logs go to a file.
		cfg, done, err := setup(filepath.Join(os.TempDir(), "strangercall.log"))
		if err != nil {
			return err
		}
		defer done()

		if flagVideo != "" {
			cfg.VideoFile = flagVideo
		}
		if flagAudio != "" {
			cfg.AudioFile = flagAudio
		}
		if flagRelayICE {
			cfg.ForceRelay = true
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCall(ctx, cfg, flagRemote)
	},
}

func init() {
	callCmd.Flags().StringVar(&flagVideo, "video", "", "IVF (VP8) file to send as camera")
	callCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg (Opus) file to send as microphone")
	callCmd.Flags().BoolVar(&flagRelayICE, "relay-only", false, "only use TURN relay candidates")
	callCmd.Flags().StringVar(&flagRemote, "remote-video", "", "write remote H264 video as Annex-B to a file, or - for stdout")
}

// openVideoSink opens the --remote-video target. With "-" the stream goes to
// stdout and the call screen draws on stderr instead.
func openVideoSink(path string) (io.Writer, []tea.ProgramOption, func(), error) {
	switch path {
	case "":
		return nil, nil, func() {}, nil
	case "-":
		return os.Stdout, []tea.ProgramOption{tea.WithOutput(os.Stderr)}, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open remote video sink: %w", err)
	}
	return f, nil, func() {
		if err := f.Close(); err != nil {
			log.Warn().Str("module", "main").Err(err).Str("path", path).Msg("close remote video sink")
		}
	}, nil
}

func runCall(ctx context.Context, cfg *config.Config, remoteVideo string) error {
	participant := uuid.NewString()

	sink, uiOpts, closeSink, err := openVideoSink(remoteVideo)
	if err != nil {
		return err
	}
	defer closeSink()

	engine, err := webrtc.NewEngine(webrtc.Config{
		ICEServers:      cfg.ICEServers,
		ForceRelay:      cfg.ForceRelay,
		IncludeLoopback: cfg.IncludeLoopback,
		ParticipantID:   participant,
	})
	if err != nil {
		return fmt.Errorf("create webrtc engine: %w", err)
	}

	acquirer := media.NewAcquirer(device(cfg), media.AcquirerConfig{
		Secure:      cfg.SecureSignaling() || !cfg.RequireSecureContext,
		Placeholder: cfg.PlaceholderMedia,
	})

	s := session.New(session.Deps{
		Rooms: api.NewClient(cfg.RoomsURL, nil),
		Signaling: func() domain.Signaler {
			c := sigclient.NewClient(cfg.SignalingURL)
			c.SetHandshakeTimeout(cfg.ConnectTimeout)
			return c
		},
		Peers: session.EnginePeers(engine),
		Media: acquirer,
	}, session.Options{
		ParticipantID:      participant,
		NegotiationTimeout: cfg.NegotiationTimeout,
		SignalingRetries:   cfg.SignalingRetries,
		AllowLocalRooms:    cfg.AllowLocalRooms,
		VideoSink:          sink,
	})

	log.Info().Str("module", "main").Str("participant", participant).Str("signaling", cfg.SignalingURL).Msg("starting call")

	runErr := ui.Run(ctx, s, uiOpts...)
	if err := s.Close(); err != nil {
		log.Warn().Str("module", "main").Err(err).Msg("stop session")
	}
	return runErr
}

// device returns the file-backed camera when media files are configured.
// With none, acquisition falls back to placeholder media.
func device(cfg *config.Config) media.Device {
	if cfg.VideoFile == "" && cfg.AudioFile == "" {
		return nil
	}
	return media.FileDevice{VideoPath: cfg.VideoFile, AudioPath: cfg.AudioFile}
}
