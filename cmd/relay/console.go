package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/liker0704/telegram-signals-parisng/pkg/app"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/console"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	channeldomain "github.com/liker0704/telegram-signals-parisng/pkg/domain/channel"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// ConsoleOptions holds flags for the console command.
type ConsoleOptions struct {
	ChatID      int64
	Sender      int64
	HistoryFile string
	DrainWait   time.Duration
}

// NewConsoleCommand creates the console command.
func NewConsoleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConsoleOptions{}

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Relay lines typed on the terminal",
		Long: `Run the relay with the terminal as both source and destination.

Each line becomes a source message with the next id. Prefix a line with
@<sender> to change the sender and [reply:<id>] to reply to an earlier line.

Example:
  relay console
  > #signal BTC long 64000
  > [reply:1] TP1 hit
  > @99 [reply:1] not the owner, dropped`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), rootOpts, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.ChatID, "chat", 1, "source chat id for typed lines")
	cmd.Flags().Int64Var(&opts.Sender, "sender", 1, "default sender id")
	cmd.Flags().StringVar(&opts.HistoryFile, "history", defaultHistoryFile(), "readline history file")
	cmd.Flags().DurationVar(&opts.DrainWait, "drain", 10*time.Second, "time to wait for queued lines after EOF")

	return cmd
}

func defaultHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "relay", "console_history")
}

func runConsole(parent context.Context, rootOpts *RootOptions, opts *ConsoleOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.HistoryFile != "" {
		_ = os.MkdirAll(filepath.Dir(opts.HistoryFile), 0o755)
	}

	cfg := rootOpts.Config
	c, err := app.NewContainer(ctx, cfg,
		app.WithPublisher("console-out", domain.ChannelConsole, console.NewLogPublisher(os.Stdout, "console")))
	if err != nil {
		return err
	}

	src := console.NewSource(console.Config{
		ChatID:        opts.ChatID,
		DefaultSender: opts.Sender,
		HistoryFile:   opts.HistoryFile,
	}, c.Bus, c.Channels)
	if _, err := c.Channels.RegisterChannel(src.Name(), domain.ChannelConsole, channeldomain.RoleSource, nil); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	if err := src.Start(ctx); err != nil {
		logger.ErrorCF("console", "Console input failed", map[string]interface{}{"error": err.Error()})
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, opts.DrainWait)
	if err := c.Drain(drainCtx); err != nil {
		logger.WarnCF("console", "Queued lines still pending", map[string]interface{}{"error": err.Error()})
	}
	drainCancel()
	cancel()
	runErr := <-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Supervisor.GracePeriod+shutdownSlack)
	defer shutdownCancel()
	if err := c.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdownSlack is added to the grace period so the store can close after
// the supervisor gives up.
const shutdownSlack = 5 * time.Second
