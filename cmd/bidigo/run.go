package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/bidigo/bidi"
	"github.com/tzrikka/bidigo/launcher"
	"github.com/tzrikka/bidigo/modules/session"
)

// run launches the configured driver binary, opens a BiDi session over its
// WebSocket endpoint, issues session.status, and tears everything down.
// It exists to exercise the full stack end to end; real callers are
// expected to use the bidi and launcher packages directly.
func run(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("dev"))

	ctx = log.Logger.WithContext(ctx)

	l, err := launcher.Start(ctx, launcher.Options{
		BinaryPath:     cmd.String("driver-path"),
		Args:           cmd.StringSlice("driver-arg"),
		StartupTimeout: cmd.Duration("startup-timeout"),
	})
	if err != nil {
		return fmt.Errorf("failed to start driver: %w", err)
	}
	defer func() {
		if err := l.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shut down driver")
		}
	}()

	sessionID, wsURL, err := l.NewSession(ctx, map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to create driver session: %w", err)
	}
	defer func() {
		if err := l.EndSession(context.Background(), sessionID); err != nil {
			log.Error().Err(err).Msg("failed to end driver session")
		}
	}()

	t := bidi.New(ctx, bidi.NewWSConnection(), bidi.WithCommandTimeout(cmd.Duration("command-timeout")))
	if err := t.Connect(ctx, wsURL); err != nil {
		return fmt.Errorf("failed to connect BiDi transport: %w", err)
	}
	defer t.Disconnect()

	status, err := session.Status(t)
	if err != nil {
		return fmt.Errorf("session.status failed: %w", err)
	}

	log.Info().Bool("ready", status.Ready).Str("message", status.Message).Msg("session status")
	return nil
}
