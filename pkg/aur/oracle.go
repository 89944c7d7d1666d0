package aur

import (
	"context"
	"fmt"
)

// Oracle answers whether a package is currently installed.
type Oracle interface {
	IsInstalled(ctx context.Context, pkg string) (bool, error)
}

// PacmanOracle queries the local package database with pacman -Q.
type PacmanOracle struct {
	exec Executor
}

// NewPacmanOracle creates an oracle that runs pacman through exec.
func NewPacmanOracle(exec Executor) *PacmanOracle {
	return &PacmanOracle{exec: exec}
}

// IsInstalled reports true when pacman -Q exits zero.
func (o *PacmanOracle) IsInstalled(ctx context.Context, pkg string) (bool, error) {
	res, err := o.exec.Run(ctx, Command{
		Argv: []string{"pacman", "-Q", pkg},
		Env:  localeEnv(),
	})
	if err != nil {
		return false, NewCommandError(fmt.Sprintf("failed to query package %s", pkg), err).WithPackage(pkg)
	}
	return res.ExitCode == 0, nil
}
