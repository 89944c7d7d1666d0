package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// requestFlags are the flags shared by every command that runs a request.
type requestFlags struct {
	use        string
	extraArgs  string
	aurOnly    bool
	skipPGP    bool
	ignoreArch bool
	update     bool
	check      bool
	diff       bool
}

func (f *requestFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.use, "use", aur.HelperAuto, "helper to use (auto, yay, paru, pacaur, trizen, pikaur, aurman, makepkg)")
	fs.StringVar(&f.extraArgs, "extra-args", "", "additional arguments passed to the helper")
	fs.BoolVar(&f.aurOnly, "aur-only", false, "limit the helper to the AUR")
	fs.BoolVar(&f.skipPGP, "skip-pgp-check", false, "pass --skippgpcheck to makepkg")
	fs.BoolVar(&f.ignoreArch, "ignore-arch", false, "pass --ignorearch to makepkg")
	fs.BoolVar(&f.update, "update-cache", false, "refresh the package database first")
	fs.BoolVar(&f.check, "check", false, "report what would change without changing anything")
	fs.BoolVar(&f.diff, "diff", false, "show the package listing before and after")
}

func (f *requestFlags) request(names []string) aur.InstallRequest {
	return aur.InstallRequest{
		Packages:  names,
		Use:       f.use,
		ExtraArgs: f.extraArgs,
		Options: aur.Options{
			SkipSignatureCheck: f.skipPGP,
			IgnoreArch:         f.ignoreArch,
			AUROnly:            f.aurOnly,
			UpdateCache:        f.update,
		},
	}
}

func (f *requestFlags) mode() aur.Mode {
	return aur.Mode{Check: f.check, Diff: f.diff}
}

func newInstallCommand() *cobra.Command {
	var (
		rf          requestFlags
		latest      bool
		localSource string
	)

	cmd := &cobra.Command{
		Use:   "install [package...]",
		Short: "Install AUR packages",
		Long: `Install AUR packages that are not installed yet.

With --latest, installed packages are also upgraded when the AUR has a
newer version. With --local-pkgbuild, the single named package is built
from a local directory holding a PKGBUILD instead of the AUR.`,
		Example: `  # Install with the first helper found
  froyo-aur install yay-bin

  # Keep packages at their latest AUR version, using paru
  froyo-aur install --latest --use paru google-chrome visual-studio-code-bin

  # Preview on a remote host
  froyo-aur --host build01 --user deploy install --check --diff spotify

  # Build from a local PKGBUILD
  froyo-aur install --use makepkg --local-pkgbuild ./pkgs/mytool mytool`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rf.request(args)
			req.State = aur.StatePresent
			if latest {
				req.State = aur.StateLatest
			}
			req.LocalSourceDir = localSource
			return run(cmd, req, rf.mode())
		},
	}

	rf.bind(cmd.Flags())
	cmd.Flags().BoolVar(&latest, "latest", false, "upgrade installed packages to the latest version")
	cmd.Flags().StringVar(&localSource, "local-pkgbuild", "", "build from this local PKGBUILD directory")

	return cmd
}

func newUpgradeCommand() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade all installed AUR packages",
		Long: `Upgrade every installed AUR package through the selected helper.

The helper runs its system upgrade once. When its output says there is
nothing to do, the command reports unchanged. In check mode the helper is
asked for pending upgrades (-Qu) instead.`,
		Example: `  # Upgrade everything
  froyo-aur upgrade

  # Show what would be upgraded
  froyo-aur upgrade --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := rf.request(nil)
			req.Upgrade = true
			return run(cmd, req, rf.mode())
		},
	}

	rf.bind(cmd.Flags())
	return cmd
}

func newRemoveCommand() *cobra.Command {
	var (
		use       string
		extraArgs string
		check     bool
		diff      bool
	)

	cmd := &cobra.Command{
		Use:     "remove package...",
		Aliases: []string{"uninstall"},
		Short:   "Remove installed packages",
		Long: `Remove packages with "<helper> -R --noconfirm", using the helper chosen
by --use (auto picks the first one installed). The makepkg build path
removes with pacman instead. Packages that are not installed are ignored,
so removing them again reports unchanged.`,
		Example: `  froyo-aur remove yay-bin
  froyo-aur remove --use paru --extra-args "--recursive" spotify
  froyo-aur remove --check --diff spotify`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := aur.InstallRequest{Packages: args, State: aur.StateAbsent, Use: use, ExtraArgs: extraArgs}
			return run(cmd, req, aur.Mode{Check: check, Diff: diff})
		},
	}

	cmd.Flags().StringVar(&use, "use", aur.HelperAuto, "helper to use (auto, yay, paru, pacaur, trizen, pikaur, aurman, makepkg)")
	cmd.Flags().StringVar(&extraArgs, "extra-args", "", "additional arguments passed to the removal command")
	cmd.Flags().BoolVar(&check, "check", false, "report what would change without changing anything")
	cmd.Flags().BoolVar(&diff, "diff", false, "show the package listing before and after")
	return cmd
}
