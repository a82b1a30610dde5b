package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vollahub/internal/render"
)

func newArticleCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "article <url>",
		Short: "Render one article as a standalone page or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := render.ParseMode(mode)
			if err != nil {
				return err
			}
			d, err := loadDeps()
			if err != nil {
				return err
			}
			defer func() { _ = d.log.Sync() }()

			r, ok := d.renderers()[m]
			if !ok {
				return fmt.Errorf("render mode %q is disabled", m)
			}
			doc, err := r.Render(cmd.Context(), args[0])
			// the error page is still worth printing
			if doc != "" {
				fmt.Fprintln(cmd.OutOrStdout(), doc)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(render.ModeFormatted), "formatted, browser or markdown")
	return cmd
}
