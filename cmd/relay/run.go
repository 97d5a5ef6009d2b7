package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liker0704/telegram-signals-parisng/pkg/api"
	"github.com/liker0704/telegram-signals-parisng/pkg/app"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	channeldomain "github.com/liker0704/telegram-signals-parisng/pkg/domain/channel"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay",
		Long: `Run the relay until SIGINT or SIGTERM.

Records left unfinished by a previous run are marked failed before intake
starts. On shutdown, in-flight pipelines get the configured grace period
to finish.

Example:
  relay run --config relay.yaml
  RELAY_TELEGRAM_TOKEN=... RELAY_PUBLISHER_TYPE=slack relay run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), rootOpts)
		},
	}
}

func runRelay(parent context.Context, opts *RootOptions) error {
	cfg := opts.Config
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}

	var server *api.Server
	if cfg.API.Enabled {
		if _, err := c.Channels.RegisterChannel(api.WebhookChannel, domain.ChannelWebhook, channeldomain.RoleSource, nil); err != nil {
			return err
		}
		server = api.NewServer(api.Config{
			Addr:        cfg.API.Addr,
			Token:       cfg.API.Token,
			CORSOrigins: cfg.API.CORSOrigins,
		}, api.Deps{
			Status:    c,
			Bus:       c.Bus,
			Reporter:  c.Channels,
			Templates: c.Templates,
		})
		if err := server.Start(ctx); err != nil {
			return err
		}
	}

	logger.InfoCF("relay", "Relay running", map[string]interface{}{
		"version":   version,
		"store":     cfg.Store.Driver,
		"publisher": cfg.Publisher.Type,
		"channels":  c.Channels.ListChannels(),
	})

	runErr := c.Run(ctx)
	logger.InfoC("relay", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.GracePeriod+shutdownSlack)
	defer cancel()
	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			logger.WarnCF("relay", "API shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := c.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCF("relay", "Pipelines did not finish in time", map[string]interface{}{"error": err.Error()})
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
