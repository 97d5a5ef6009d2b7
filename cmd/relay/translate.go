package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liker0704/telegram-signals-parisng/pkg/translate"
)

// NewTranslateCommand creates the translate command, which checks the
// configured translation provider end to end.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text with the configured provider",
		Long: `Translate text with the configured provider and print the result.

Reads from stdin when no text is given.

Example:
  RELAY_TRANSLATOR_PROVIDER=moonshot RELAY_TRANSLATOR_API_KEY=... relay translate "BTC лонг 64000"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimSpace(string(raw))
			}
			if text == "" {
				return fmt.Errorf("nothing to translate")
			}

			cfg := rootOpts.Config.Translator
			tr, err := translate.New(translate.Config{
				Provider:       cfg.Provider,
				APIKey:         cfg.APIKey,
				APIBase:        cfg.APIBase,
				Model:          cfg.Model,
				TargetLanguage: cfg.TargetLanguage,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
			}
			out, err := tr.Translate(ctx, text)
			if err != nil {
				return fmt.Errorf("translate with %s: %w", cfg.Provider, err)
			}

			if m, ok := tr.(interface{ Model() string }); ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "provider %s, model %s\n", cfg.Provider, m.Model())
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
