package aur

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

// Engine reconciles AUR package state on one host.
// An Engine runs one command at a time and is not safe for concurrent Execute calls.
type Engine struct {
	registry  *Registry
	host      Host
	index     IndexClient
	selector  *Selector
	oracle    Oracle
	pipeline  *BuildPipeline
	sourceFs  afero.Fs
	admission Admission
	recorder  Recorder
	logger    zerolog.Logger
	tel       *telemetry.Telemetry
	newID     func() string
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the default helper registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithOracle replaces the pacman-based installed-state oracle.
func WithOracle(o Oracle) Option {
	return func(e *Engine) {
		e.oracle = o
	}
}

// WithSourceFs sets the filesystem local PKGBUILD directories are read from.
// Defaults to the local OS filesystem.
func WithSourceFs(fs afero.Fs) Option {
	return func(e *Engine) {
		e.sourceFs = fs
	}
}

// WithAdmission sets the admission policy consulted after validation.
func WithAdmission(a Admission) Option {
	return func(e *Engine) {
		e.admission = a
	}
}

// WithRecorder sets where finished invocations are persisted.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.tel = t
	}
}

// NewEngine creates an engine acting on host.
func NewEngine(host Host, index IndexClient, opts ...Option) (*Engine, error) {
	if host.Executor == nil {
		return nil, errors.New("host executor is required")
	}
	if host.Paths == nil {
		return nil, errors.New("host path finder is required")
	}
	if host.Fs == nil {
		return nil, errors.New("host filesystem is required")
	}
	if index == nil {
		return nil, errors.New("index client is required")
	}

	e := &Engine{
		host:   host,
		index:  index,
		logger: zerolog.Nop(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = DefaultRegistry()
	}
	if e.sourceFs == nil {
		e.sourceFs = afero.NewOsFs()
	}
	if e.oracle == nil {
		e.oracle = NewPacmanOracle(host.Executor)
	}

	e.selector = NewSelector(e.registry, host.Paths, e.logger)
	e.pipeline = NewBuildPipeline(host, index, e.sourceFs, e.logger, e.tel)
	e.logger = e.logger.With().Str("component", "engine").Logger()

	return e, nil
}

// Registry returns the helper registry in use.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Helpers looks up every registry helper on the host.
func (e *Engine) Helpers(ctx context.Context) []Discovered {
	return e.selector.Discover(ctx)
}

// Execute validates req and reconciles it, or reports what would change
// when mode.Check is set. An invocation id already carried by ctx is kept,
// otherwise a new one is generated.
//
// Validation and policy errors are returned with a nil outcome before any
// side effect. A command that exits non-zero yields an outcome with
// Failed set and a nil error. Any other failure after work started returns
// both the partial outcome and the error.
func (e *Engine) Execute(ctx context.Context, req InstallRequest, mode Mode) (*Outcome, error) {
	req = req.Normalized()
	id := telemetry.InvocationID(ctx)
	if id == "" {
		id = e.newID()
	}

	ic := e.tel.StartInvocation(ctx, id, req.Operation(), mode.Check)
	ctx = ic.Ctx

	inv := &Invocation{
		ID:        id,
		Request:   req,
		Check:     mode.Check,
		StartedAt: e.now(),
	}

	e.logger.Debug().
		Str("invocation_id", id).
		Str("operation", req.Operation()).
		Strs("packages", req.Packages).
		Bool("check_mode", mode.Check).
		Msg("Executing request")

	outcome, err := e.execute(ctx, req, mode, inv)

	inv.Outcome = outcome
	inv.Err = err
	inv.CompletedAt = e.now()

	changed := outcome != nil && outcome.Changed
	ic.EndInvocation(outcomeStatus(outcome, err), changed, err)
	if err != nil {
		e.tel.ErrorObserved(string(KindOf(err)))
		e.logger.Error().Err(err).Str("invocation_id", id).Msg("Request failed")
	}

	e.record(ctx, inv)
	return outcome, err
}

func (e *Engine) execute(ctx context.Context, req InstallRequest, mode Mode, inv *Invocation) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	helper, err := e.selector.Select(ctx, req)
	if err != nil {
		return nil, err
	}
	inv.Helper = helper.ID()

	if err := e.checkLocalSource(req); err != nil {
		return nil, err
	}

	if err := e.admit(ctx, req, helper); err != nil {
		return nil, err
	}

	if mode.Check {
		return e.report(ctx, req, helper, mode.Diff)
	}

	switch {
	case req.Upgrade:
		return e.upgrade(ctx, req, helper)
	case req.State == StateAbsent:
		return e.remove(ctx, req, helper)
	default:
		return e.install(ctx, req, helper)
	}
}

// checkLocalSource requires an existing directory holding a readable PKGBUILD.
func (e *Engine) checkLocalSource(req InstallRequest) error {
	if req.LocalSourceDir == "" || req.State == StateAbsent {
		return nil
	}

	info, err := e.sourceFs.Stat(req.LocalSourceDir)
	if err != nil || !info.IsDir() {
		return NewValidationError(fmt.Sprintf("directory %s not found", req.LocalSourceDir))
	}

	f, err := e.sourceFs.Open(filepath.Join(req.LocalSourceDir, "PKGBUILD"))
	if err != nil {
		return NewValidationError(fmt.Sprintf("PKGBUILD not found in directory %s", req.LocalSourceDir))
	}
	return f.Close()
}

func (e *Engine) admit(ctx context.Context, req InstallRequest, helper HelperDescriptor) error {
	if e.admission == nil {
		return nil
	}

	err := e.admission.Admit(ctx, req, helper.ID())
	if err == nil {
		return nil
	}

	e.tel.PolicyDenied(ctx, "admission", err.Error())
	if KindOf(err) == "" {
		return &Error{Kind: ErrorKindPolicyDenied, Message: "request denied by policy", Err: err}
	}
	return err
}

func (e *Engine) record(ctx context.Context, inv *Invocation) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordInvocation(context.WithoutCancel(ctx), inv); err != nil {
		e.logger.Warn().Err(err).Str("invocation_id", inv.ID).Msg("Failed to record invocation")
	}
}

// run executes argv with the locale forced to C.
func (e *Engine) run(ctx context.Context, argv []string) (*ExecutionResult, error) {
	e.logger.Info().Strs("argv", argv).Msg("Running command")

	res, err := e.host.Executor.Run(ctx, Command{Argv: argv, Env: localeEnv()})
	if err != nil {
		return nil, NewCommandError(fmt.Sprintf("failed to run %s", argv[0]), err)
	}
	e.tel.CommandExecuted(ctx, argv[0], res.ExitCode, res.Duration)

	if res.ExitCode != 0 {
		e.logger.Warn().
			Strs("argv", argv).
			Int("exit_code", res.ExitCode).
			Str("stderr", res.Stderr).
			Msg("Command failed")
	}
	return res, nil
}

func outcomeStatus(out *Outcome, err error) string {
	switch {
	case err != nil, out == nil, out.Failed:
		return "failed"
	case out.Changed:
		return "changed"
	default:
		return "ok"
	}
}
