package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-aur/pkg/app"
	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/config"
)

func loadManifest(ctx context.Context, files []string) (*config.Manifest, error) {
	parser, err := config.NewParser(aur.DefaultRegistry())
	if err != nil {
		return nil, err
	}
	return parser.ParseFiles(ctx, files)
}

func newApplyCommand() *cobra.Command {
	var (
		files     []string
		check     bool
		keepGoing bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a package manifest",
		Long: `Bring every entry of a manifest into its desired state.

Manifests are CUE, YAML or JSON documents with a packages list or map.
Several files are merged in order. Entries run one after another; after
the first failure the remaining entries are skipped unless --keep-going
is given.`,
		Example: `  # Apply a manifest
  froyo-aur apply -f packages.cue

  # Preview two merged manifests on a remote host
  froyo-aur --host build01 apply -f base.yaml -f desktop.yaml --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManifest(cmd.Context(), files)
			if err != nil {
				return err
			}
			log.Debug().Strs("files", m.SourceFiles).Int("entries", len(m.Packages)).Msg("Manifest loaded")

			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				exec, err := a.Executor(ctx)
				if err != nil {
					return err
				}
				result := app.Apply(ctx, exec, m, app.ApplyOptions{Check: check, KeepGoing: keepGoing}, a.Logger)

				if err := printApply(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if result.Failed() {
					return &reportedError{err: errFailed}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "manifest file (repeatable)")
	cmd.Flags().BoolVar(&check, "check", false, "run every entry in check mode")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue after a failed entry")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printApply(w io.Writer, result *app.ApplyResult) error {
	if jsonOutput {
		return printJSON(w, result)
	}
	for _, e := range result.Entries {
		fmt.Fprintf(w, "[%s] %s\n", e.ID, e.Status)
		if e.Outcome != nil {
			printOutcome(w, e.Outcome)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "  error [%s]: %s\n", e.Code, e.Error)
		}
	}
	s := result.Summary
	fmt.Fprintf(w, "\n%d entries: %d ok, %d changed, %d failed, %d skipped\n",
		s.Total, s.OK, s.Changed, s.Failed, s.Skipped)
	return nil
}

func newValidateCommand() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a package manifest",
		Long: `Parse and validate manifests against the built-in schemas without
touching any host.`,
		Example: `  froyo-aur validate -f packages.cue`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManifest(cmd.Context(), files)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, m)
			}
			for _, spec := range m.Packages {
				fmt.Fprintf(w, "%-24s %-8s %v\n", spec.ID, spec.Operation(), spec.Packages)
			}
			fmt.Fprintf(w, "\n%d entries from %d files are valid\n", len(m.Packages), len(m.SourceFiles))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "manifest file (repeatable)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
