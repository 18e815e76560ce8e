package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strangercall/native/internal/relay"
	"strangercall/native/internal/ui"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var flagAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the room service and signaling server",
	Long: `Run a development room service and websocket signaling relay.

Rooms are created with POST /api/rooms and released with
DELETE /api/rooms/{id}. Signaling connects to /ws.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup("")
		if err != nil {
			return err
		}
		defer done()

		addr := cfg.RelayAddr
		if flagAddr != "" {
			addr = flagAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRelay(ctx, addr)
	},
}

func init() {
	relayCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default from relay_addr)")
}

func runRelay(ctx context.Context, addr string) error {
	hub := relay.NewHub()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.NewServer(hub).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	ui.PrintSuccess(fmt.Sprintf("relay listening on %s", addr))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Str("module", "main").Msg("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown relay: %w", err)
	}
	return nil
}
