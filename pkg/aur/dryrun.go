package aur

import (
	"context"
	"fmt"
	"strings"
)

// reportWording holds the dry-run messages for one direction of change.
type reportWording struct {
	many      string // formatted with the pending count
	one       string
	noneMany  string
	noneOne   string
	removeDir bool
}

var (
	installWording = reportWording{
		many:     "%d package(s) would be installed",
		one:      "package would be installed",
		noneMany: "all packages are already installed",
		noneOne:  "package is already installed",
	}
	removeWording = reportWording{
		many:      "%d package(s) would be removed",
		one:       "package would be removed",
		noneMany:  "all packages are already absent",
		noneOne:   "package is already absent",
		removeDir: true,
	}
)

// report answers what Execute would do without mutating the host.
// It never builds helper commands.
func (e *Engine) report(ctx context.Context, req InstallRequest, helper HelperDescriptor, diff bool) (*Outcome, error) {
	switch {
	case req.Upgrade:
		return e.reportUpgrade(ctx, helper)
	case req.State == StateAbsent:
		return e.reportPackages(ctx, req.Packages, helper.RemoveTool(), diff, removeWording)
	default:
		return e.reportPackages(ctx, req.Packages, helper.ID(), diff, installWording)
	}
}

func (e *Engine) reportPackages(ctx context.Context, packages []string, helper string, diff bool, w reportWording) (*Outcome, error) {
	pending := make([]string, 0, len(packages))
	for _, pkg := range packages {
		installed, err := e.oracle.IsInstalled(ctx, pkg)
		if err != nil {
			return nil, err
		}
		if installed == w.removeDir {
			pending = append(pending, pkg)
		}
	}

	out := newOutcome(helper)
	out.Changed = len(pending) > 0
	multi := len(packages) > 1

	switch {
	case out.Changed && multi:
		out.Msg = fmt.Sprintf(w.many, len(pending))
	case out.Changed:
		out.Msg = w.one
	case multi:
		out.Msg = w.noneMany
	default:
		out.Msg = w.noneOne
	}

	if diff {
		listing := strings.Join(pending, "\n")
		if w.removeDir {
			out.Diff = &Diff{Before: listing, After: ""}
		} else {
			out.Diff = &Diff{Before: "", After: listing}
		}
	}

	return out, nil
}

// reportUpgrade counts pending upgrades with <helper> -Qu. A non-zero exit
// with nothing on stderr means there is nothing to upgrade.
func (e *Engine) reportUpgrade(ctx context.Context, helper HelperDescriptor) (*Outcome, error) {
	argv := []string{helper.ID(), "-Qu"}
	out := newOutcome(helper.ID())

	res, err := e.host.Executor.Run(ctx, Command{Argv: argv, Env: localeEnv()})
	if err != nil {
		return nil, NewCommandError(fmt.Sprintf("failed to run %s", argv[0]), err)
	}
	e.tel.CommandExecuted(ctx, argv[0], res.ExitCode, res.Duration)

	if res.ExitCode != 0 && strings.TrimSpace(res.Stderr) != "" {
		out.Failed = true
		out.RC = res.ExitCode
		out.Msg = res.Stderr
		return out, nil
	}

	count := 0
	if res.ExitCode == 0 {
		for _, line := range strings.Split(res.Stdout, "\n") {
			if strings.TrimSpace(line) != "" {
				count++
			}
		}
	}

	out.Changed = count > 0
	out.Msg = fmt.Sprintf("%d package(s) would be upgraded", count)
	return out, nil
}
