package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	sshHost     string
	sshPort     int
	sshUser     string
	sshKey      string
	sshInsecure bool
	sshProxy    string
	tempDir     string
	aurURL      string
	policyPaths []string
	dbPath      string
	runnerPath  string
	runnerTTL   time.Duration
	useSudo     bool
	metricsAddr string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-aur",
		Short: "Install and upgrade AUR packages idempotently",
		Long: `froyo-aur drives an AUR helper (yay, paru, pikaur, aurman, pacaur, trizen)
or a bare makepkg build to bring packages into a desired state.

Features:
  - Idempotent install, upgrade and removal with changed/unchanged reporting
  - Check mode and before/after diffs
  - CUE, YAML and JSON manifests
  - Local or SSH targets, optionally through a self-deleting runner
  - Rego admission policies
  - Invocation history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&sshHost, "host", "H", "", "target host over SSH (default: local host)")
	flags.IntVar(&sshPort, "port", 22, "SSH port")
	flags.StringVarP(&sshUser, "user", "u", "", "SSH user (an unprivileged user with sudo rights)")
	flags.StringVarP(&sshKey, "identity", "i", "", "SSH private key")
	flags.BoolVar(&sshInsecure, "insecure", false, "accept any SSH host key")
	flags.StringVar(&sshProxy, "jump", "", "SSH jump host")
	flags.StringVar(&tempDir, "temp-dir", "", "directory for build workspaces on the target")
	flags.StringVar(&aurURL, "aur-url", "", "AUR base URL")
	flags.StringArrayVar(&policyPaths, "policy", nil, "Rego policy file or directory (repeatable)")
	flags.StringVar(&dbPath, "db", "", "record invocations in this SQLite database")
	flags.StringVar(&runnerPath, "runner", "", "execute through this aur-runner binary")
	flags.DurationVar(&runnerTTL, "runner-ttl", 30*time.Minute, "maximum runner lifetime")
	flags.BoolVar(&useSudo, "sudo", false, "start a local runner through sudo -n")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newUpgradeCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHelpersCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
