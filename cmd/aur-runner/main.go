// Package main implements aur-runner, a self-contained binary that serves
// AUR install commands as JSON-over-stdio on the host it runs on and
// removes itself on exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-aur/pkg/app"
	"github.com/openfroyo/froyo-aur/pkg/runner"
	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

// Version is set via ldflags during build.
var Version = "dev"

type runnerFlags struct {
	policies    []string
	aurURL      string
	dbPath      string
	tempDir     string
	ttl         time.Duration
	selfDelete  bool
	logLevel    string
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	cmd := newRootCommand(&code)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	stop()
	os.Exit(code)
}

func newRootCommand(code *int) *cobra.Command {
	f := &runnerFlags{}

	cmd := &cobra.Command{
		Use:   "aur-runner",
		Short: "Serve AUR install commands over stdin/stdout",
		Long: `aur-runner reads one JSON command per line on stdin and answers with
EVENT, DONE and ERROR lines on stdout. Logs go to stderr.

It exits when stdin is closed, the TTL expires or it receives SIGTERM.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exit, err := serve(cmd.Context(), f)
			if err != nil {
				return err
			}
			*code = exit
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&f.policies, "policy", nil, "Rego policy file or directory, watched for changes (repeatable)")
	cmd.Flags().StringVar(&f.aurURL, "aur-url", "", "AUR base URL")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "record invocations in this SQLite database")
	cmd.Flags().StringVar(&f.tempDir, "temp-dir", "", "directory for build workspaces")
	cmd.Flags().DurationVar(&f.ttl, "ttl", 10*time.Minute, "maximum lifetime, 0 for none")
	cmd.Flags().BoolVar(&f.selfDelete, "self-delete", false, "remove the binary on exit")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func serve(ctx context.Context, f *runnerFlags) (int, error) {
	tcfg := telemetry.RunnerConfig()
	tcfg.ServiceVersion = Version
	tcfg.Logging.Level = f.logLevel
	if f.metricsAddr != "" {
		tcfg.Metrics.Enabled = true
		tcfg.Metrics.ListenAddress = f.metricsAddr
	}

	a, err := app.New(ctx, app.Options{
		TempDir:       f.tempDir,
		AURURL:        f.aurURL,
		Policies:      f.policies,
		WatchPolicies: true,
		DBPath:        f.dbPath,
		Telemetry:     tcfg,
	})
	if err != nil {
		return 1, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	if errCh := a.MetricsErrors(); errCh != nil {
		go func() {
			for err := range errCh {
				a.Logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var helpers []string
	for _, d := range a.Engine.Helpers(ctx) {
		if d.Found {
			helpers = append(helpers, d.Helper.ID())
		}
	}

	cfg := runner.Config{
		Version:    Version,
		TTL:        f.ttl,
		Helpers:    helpers,
		SelfDelete: f.selfDelete,
		Events:     a.Telemetry.Events,
	}
	if f.selfDelete {
		cfg.ExecPath, err = os.Executable()
		if err != nil {
			return 1, fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	exit := runner.New(a.Engine, cfg, a.Logger).Serve(ctx, os.Stdin, os.Stdout)
	return exit.ExitCode, nil
}
