package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liker0704/telegram-signals-parisng/pkg/channels/templates"
)

// NewTemplatesCommand creates the templates command.
func NewTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List post templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := templates.NewRegistry()
			_, warns := reg.LoadDefaults(rootOpts.Config.Publisher.TemplateDir)
			for _, w := range warns {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSOURCE\tDESCRIPTION")
			for _, t := range reg.List() {
				source := t.SourceFile
				if t.Builtin {
					source = "builtin"
				}
				mark := ""
				if t.Name == rootOpts.Config.Publisher.Template {
					mark = " (active)"
				}
				fmt.Fprintf(tw, "%s%s\t%s\t%s\n", t.Name, mark, source, t.Description)
			}
			return tw.Flush()
		},
	}
}
