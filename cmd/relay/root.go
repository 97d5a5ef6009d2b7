package main

import (
	"github.com/spf13/cobra"

	"github.com/liker0704/telegram-signals-parisng/pkg/config"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// Config is loaded in PersistentPreRunE.
	Config *config.Config
}

// NewRootCommand creates the root command for the relay CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Signal relay",
		Long:    "Relays marked signals and their threaded replies from source chats to a destination channel.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "override log format (console|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewConsoleCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTemplatesCommand(opts))
	cmd.AddCommand(NewTranslateCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	o.Config = cfg
	return nil
}
