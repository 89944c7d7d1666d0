package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-aur/pkg/app"
)

type helperStatus struct {
	Helper string `json:"helper"`
	Found  bool   `json:"found"`
	Path   string `json:"path,omitempty"`
}

func newHelpersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "helpers",
		Short: "List AUR helpers found on the target",
		Long: `Look up every supported helper on the target in preference order.
With --use auto the first one found is selected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var out []helperStatus
				for _, d := range a.Engine.Helpers(ctx) {
					out = append(out, helperStatus{Helper: d.Helper.ID(), Found: d.Found, Path: d.Path})
				}

				w := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(w, out)
				}
				for _, h := range out {
					path := "not found"
					if h.Found {
						path = h.Path
					}
					fmt.Fprintf(w, "%-10s %s\n", h.Helper, path)
				}
				return nil
			})
		},
	}
}
