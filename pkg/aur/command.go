package aur

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// CommandOptions are the argv-affecting switches of one build.
type CommandOptions struct {
	SkipSignatureCheck bool
	IgnoreArch         bool
	AUROnly            bool
	UpdateCache        bool

	// LocalSource selects the local-source template. For helpers other than
	// the build path it is also appended as the PKGBUILD path.
	LocalSource string
}

// BuildCommand returns the argv prefix for helper. The caller appends the
// package name or -u. The registry template is never modified.
//
// Flags are appended in a fixed order: --skippgpcheck, --ignorearch, --aur,
// local source path, -y, then extra args.
func BuildCommand(helper HelperDescriptor, opts CommandOptions, extraArgs string) ([]string, error) {
	var argv []string
	if opts.LocalSource != "" {
		if !helper.SupportsLocalSource() {
			return nil, NewValidationError(fmt.Sprintf("helper %s cannot install from a local PKGBUILD", helper.ID()))
		}
		argv = helper.LocalSourceArgs()
	} else {
		argv = helper.BaseArgs()
	}

	if helper.IsBuildPath() {
		if opts.SkipSignatureCheck {
			argv = append(argv, "--skippgpcheck")
		}
		if opts.IgnoreArch {
			argv = append(argv, "--ignorearch")
		}
	}

	if opts.AUROnly && helper.SupportsScopeFlag() {
		argv = append(argv, "--aur")
	}

	if opts.LocalSource != "" && !helper.IsBuildPath() {
		argv = append(argv, opts.LocalSource)
	}

	if opts.UpdateCache {
		argv = append(argv, "-y")
	}

	extra, err := SplitArgs(extraArgs)
	if err != nil {
		return nil, err
	}
	return append(argv, extra...), nil
}

// SplitArgs tokenizes s with shell quoting rules. Variable references are
// kept literally.
func SplitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	fields, err := shell.Fields(s, func(name string) string {
		return "$" + name
	})
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("cannot parse extra_args: %v", err))
	}
	return fields, nil
}

// ResolvedPlan is the per-request command template.
type ResolvedPlan struct {
	Helper   HelperDescriptor
	Template []string
}

// NewPlan derives the template once per request.
func NewPlan(helper HelperDescriptor, req InstallRequest) (*ResolvedPlan, error) {
	var (
		template []string
		err      error
	)
	if req.State == StateAbsent && !req.Upgrade {
		template = helper.RemoveArgs()
		var extra []string
		extra, err = SplitArgs(req.ExtraArgs)
		template = append(template, extra...)
	} else {
		template, err = BuildCommand(helper, CommandOptions{
			SkipSignatureCheck: req.SkipSignatureCheck,
			IgnoreArch:         req.IgnoreArch,
			AUROnly:            req.AUROnly,
			UpdateCache:        req.UpdateCache,
		}, req.ExtraArgs)
	}
	if err != nil {
		return nil, err
	}
	return &ResolvedPlan{Helper: helper, Template: template}, nil
}

// Argv returns a fresh argv with args appended to the template.
func (p *ResolvedPlan) Argv(args ...string) []string {
	out := make([]string, 0, len(p.Template)+len(args))
	out = append(out, p.Template...)
	return append(out, args...)
}
