package aur

import (
	"context"
	"errors"
)

// Phase is the lifecycle state of one package within a batch.
//
//	pending -> skipped
//	pending -> attempting -> succeeded | failed
//
// A pending package also fails directly when its installed state cannot be queried.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseSkipped    Phase = "skipped"
	PhaseAttempting Phase = "attempting"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// PackageResult is the terminal result of one package: *Skipped, *Succeeded or *Failed.
type PackageResult interface {
	Phase() Phase
	PackageName() string
}

// Skipped means no work was needed.
type Skipped struct {
	Package string
}

// Succeeded means the command ran and exited zero.
type Succeeded struct {
	Package      string
	Changed      bool
	WasInstalled bool
	Result       *ExecutionResult
}

// Failed means the command exited non-zero (Result set) or the package
// could not be processed at all (Err set).
type Failed struct {
	Package string
	Result  *ExecutionResult
	Err     error
}

func (r *Skipped) Phase() Phase { return PhaseSkipped }

func (r *Skipped) PackageName() string { return r.Package }

func (r *Succeeded) Phase() Phase { return PhaseSucceeded }

func (r *Succeeded) PackageName() string { return r.Package }

func (r *Failed) Phase() Phase { return PhaseFailed }

func (r *Failed) PackageName() string { return r.Package }

// PackageReport summarizes one package in an outcome.
type PackageReport struct {
	Package string `json:"package"`
	State   Phase  `json:"state"`
	Changed bool   `json:"changed"`
	RC      int    `json:"rc,omitempty"`
}

// Diff is the before/after package listing reported in diff mode.
type Diff struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Outcome is the single structured result of an invocation.
type Outcome struct {
	Changed   bool            `json:"changed"`
	Msg       string          `json:"msg"`
	Helper    string          `json:"helper"`
	RC        int             `json:"rc"`
	Failed    bool            `json:"failed,omitempty"`
	Installed []string        `json:"installed"`
	Updated   []string        `json:"updated"`
	Removed   []string        `json:"removed,omitempty"`
	Diff      *Diff           `json:"diff,omitempty"`
	Packages  []PackageReport `json:"packages,omitempty"`
}

func newOutcome(helper string) *Outcome {
	return &Outcome{
		Helper:    helper,
		Installed: []string{},
		Updated:   []string{},
	}
}

// add folds a package result into the outcome.
func (o *Outcome) add(r PackageResult) {
	report := PackageReport{Package: r.PackageName(), State: r.Phase()}

	switch v := r.(type) {
	case *Succeeded:
		report.Changed = v.Changed
		if v.Changed {
			o.Changed = true
		}
	case *Failed:
		o.Failed = true
		if v.Result != nil {
			o.RC = v.Result.ExitCode
			o.Msg = v.Result.Stderr
		} else {
			o.RC = 1
			if v.Err != nil {
				o.Msg = v.Err.Error()
			}
		}
		report.RC = o.RC
	}

	o.Packages = append(o.Packages, report)
}

// install runs the per-package state machine for present and latest.
func (e *Engine) install(ctx context.Context, req InstallRequest, helper HelperDescriptor) (*Outcome, error) {
	plan, err := NewPlan(helper, req)
	if err != nil {
		return nil, err
	}

	out := newOutcome(helper.ID())
	for _, pkg := range req.Packages {
		result := e.installPackage(ctx, plan, req, pkg)
		out.add(result)

		switch r := result.(type) {
		case *Succeeded:
			if r.Changed {
				if r.WasInstalled {
					out.Updated = append(out.Updated, pkg)
				} else {
					out.Installed = append(out.Installed, pkg)
				}
			}
		case *Failed:
			return out, r.Err
		}
	}

	if out.Changed {
		out.Msg = "installed package(s)"
	} else {
		out.Msg = "package(s) already installed"
	}
	return out, nil
}

func (e *Engine) installPackage(ctx context.Context, plan *ResolvedPlan, req InstallRequest, pkg string) PackageResult {
	ctx, span := e.tel.Spans().StartPackageSpan(ctx, pkg, plan.Helper.ID())
	defer span.End()

	installed, err := e.oracle.IsInstalled(ctx, pkg)
	if err != nil {
		return e.fail(ctx, pkg, PhasePending, nil, err)
	}

	if req.State == StatePresent && installed {
		e.transition(ctx, pkg, PhasePending, PhaseSkipped, false)
		return &Skipped{Package: pkg}
	}
	e.transition(ctx, pkg, PhasePending, PhaseAttempting, false)

	var res *ExecutionResult
	if plan.Helper.IsBuildPath() || req.LocalSourceDir != "" {
		res, err = e.pipeline.Run(ctx, BuildInput{
			Package:            pkg,
			Helper:             plan.Helper,
			SkipSignatureCheck: req.SkipSignatureCheck,
			IgnoreArch:         req.IgnoreArch,
			ExtraArgs:          req.ExtraArgs,
			LocalSourceDir:     req.LocalSourceDir,
		})
	} else {
		res, err = e.run(ctx, plan.Argv(pkg))
	}
	if err != nil {
		return e.fail(ctx, pkg, PhaseAttempting, nil, err)
	}
	if res.ExitCode != 0 {
		return e.fail(ctx, pkg, PhaseAttempting, res, nil)
	}

	changed := InstallChanged(res.Stdout)
	e.transition(ctx, pkg, PhaseAttempting, PhaseSucceeded, changed)
	return &Succeeded{
		Package:      pkg,
		Changed:      changed,
		WasInstalled: installed,
		Result:       res,
	}
}

// upgrade runs a single system upgrade command.
func (e *Engine) upgrade(ctx context.Context, req InstallRequest, helper HelperDescriptor) (*Outcome, error) {
	plan, err := NewPlan(helper, req)
	if err != nil {
		return nil, err
	}

	out := newOutcome(helper.ID())
	res, err := e.run(ctx, plan.Argv("-u"))
	if err != nil {
		out.Failed = true
		out.RC = 1
		out.Msg = err.Error()
		return out, err
	}
	if res.ExitCode != 0 {
		out.Failed = true
		out.RC = res.ExitCode
		out.Msg = res.Stderr
		return out, nil
	}

	out.Changed = UpgradeChanged(res.Stdout)
	out.Msg = "upgraded system"
	return out, nil
}

// remove uninstalls packages that are installed, skipping the rest.
func (e *Engine) remove(ctx context.Context, req InstallRequest, helper HelperDescriptor) (*Outcome, error) {
	plan, err := NewPlan(helper, req)
	if err != nil {
		return nil, err
	}

	out := newOutcome(helper.RemoveTool())
	out.Removed = []string{}
	for _, pkg := range req.Packages {
		result := e.removePackage(ctx, plan, pkg)
		out.add(result)

		switch r := result.(type) {
		case *Succeeded:
			out.Removed = append(out.Removed, pkg)
		case *Failed:
			return out, r.Err
		}
	}

	if out.Changed {
		out.Msg = "removed package(s)"
	} else {
		out.Msg = "package(s) already absent"
	}
	return out, nil
}

func (e *Engine) removePackage(ctx context.Context, plan *ResolvedPlan, pkg string) PackageResult {
	ctx, span := e.tel.Spans().StartPackageSpan(ctx, pkg, plan.Helper.RemoveTool())
	defer span.End()

	installed, err := e.oracle.IsInstalled(ctx, pkg)
	if err != nil {
		return e.fail(ctx, pkg, PhasePending, nil, err)
	}
	if !installed {
		e.transition(ctx, pkg, PhasePending, PhaseSkipped, false)
		return &Skipped{Package: pkg}
	}
	e.transition(ctx, pkg, PhasePending, PhaseAttempting, false)

	res, err := e.run(ctx, plan.Argv(pkg))
	if err != nil {
		return e.fail(ctx, pkg, PhaseAttempting, nil, err)
	}
	if res.ExitCode != 0 {
		return e.fail(ctx, pkg, PhaseAttempting, res, nil)
	}

	e.transition(ctx, pkg, PhaseAttempting, PhaseSucceeded, true)
	return &Succeeded{Package: pkg, Changed: true, WasInstalled: true, Result: res}
}

func (e *Engine) fail(ctx context.Context, pkg string, from Phase, res *ExecutionResult, err error) PackageResult {
	e.transition(ctx, pkg, from, PhaseFailed, false)
	var pe *Error
	if errors.As(err, &pe) && pe.Package == "" {
		pe.Package = pkg
	}
	return &Failed{Package: pkg, Result: res, Err: err}
}

func (e *Engine) transition(ctx context.Context, pkg string, from, to Phase, changed bool) {
	e.logger.Debug().
		Str("package", pkg).
		Str("from", string(from)).
		Str("to", string(to)).
		Bool("changed", changed).
		Msg("Package state changed")
	e.tel.PackageTransition(ctx, pkg, string(from), string(to), changed)
}
