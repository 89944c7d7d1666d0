package aur

import (
	"context"
	"errors"
	"testing"
)

func TestPacmanOracle(t *testing.T) {
	exec := &fakeExecutor{handle: func(cmd Command) (*ExecutionResult, error) {
		if cmd.Argv[2] == "yay" {
			return &ExecutionResult{Stdout: "yay 12.4.2-1\n"}, nil
		}
		return &ExecutionResult{ExitCode: 1, Stderr: "error: package 'x' was not found\n"}, nil
	}}
	o := NewPacmanOracle(exec)

	installed, err := o.IsInstalled(context.Background(), "yay")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !installed {
		t.Error("Expected yay to be installed")
	}

	installed, err = o.IsInstalled(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if installed {
		t.Error("Expected missing not to be installed")
	}

	cmd := exec.calls[0]
	if !equalArgs(cmd.Argv, []string{"pacman", "-Q", "yay"}) {
		t.Errorf("Expected pacman -Q yay, got %v", cmd.Argv)
	}
	if cmd.Env["LC_ALL"] != "C" || cmd.Env["LANGUAGE"] != "C" {
		t.Errorf("Expected C locale, got %v", cmd.Env)
	}
}

func TestPacmanOracleStartFailure(t *testing.T) {
	exec := &fakeExecutor{handle: func(cmd Command) (*ExecutionResult, error) {
		return nil, errors.New("exec: \"pacman\": executable file not found in $PATH")
	}}

	_, err := NewPacmanOracle(exec).IsInstalled(context.Background(), "foo")
	if !IsKind(err, ErrorKindCommand) {
		t.Errorf("Expected command error, got %v", err)
	}
}
