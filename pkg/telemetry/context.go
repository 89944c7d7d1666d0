package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry combines logging, tracing, metrics and events.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// invocationIDKey is the context key for the current invocation id.
type invocationIDKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithInvocationID stores the invocation id in the context.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationID returns the invocation id stored in the context, or "".
func InvocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationIDKey{}).(string)
	return id
}

// Spans returns the tracer. The result may be nil, which starts no-op spans.
func (t *Telemetry) Spans() *Tracer {
	if t == nil {
		return nil
	}
	return t.Tracer
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer serves metrics until ctx is cancelled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) <-chan error {
	if t == nil {
		errCh := make(chan error)
		close(errCh)
		return errCh
	}
	return t.Metrics.StartMetricsServer(ctx)
}

// InstrumentedContext is an operation in flight: a span, a logger and a timer.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	tel          *Telemetry
	invocationID string
	operation    string
	mode         string
}

// StartInvocation opens the root span of an engine invocation and publishes
// the started event. The invocation id is stored in the returned context.
func (t *Telemetry) StartInvocation(ctx context.Context, invocationID, operation string, check bool) *InstrumentedContext {
	mode := "apply"
	if check {
		mode = "check"
	}
	ctx = WithInvocationID(ctx, invocationID)

	ic := &InstrumentedContext{
		Timer:        NewTimer(),
		tel:          t,
		invocationID: invocationID,
		operation:    operation,
		mode:         mode,
	}

	if t == nil {
		ic.Ctx, ic.Span = noop.NewTracerProvider().Tracer("").Start(ctx, "aur."+operation)
		ic.Logger = FromContext(ctx)
		return ic
	}

	ic.Ctx, ic.Span = t.Tracer.StartInvocationSpan(ctx, invocationID, operation, check)
	ic.Logger = t.Logger.WithInvocationID(invocationID)
	ic.Ctx = ic.Logger.WithContext(ic.Ctx)
	_ = t.Events.PublishInvocationStarted(invocationID, operation, check)
	return ic
}

// EndInvocation closes an invocation opened by StartInvocation.
// status is one of changed, ok, failed.
func (ic *InstrumentedContext) EndInvocation(status string, changed bool, err error) {
	ic.Span.SetAttributes(AttrChanged.Bool(changed))
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()

	if ic.tel == nil {
		return
	}
	duration := ic.Timer.Duration()
	ic.tel.Metrics.RecordInvocation(ic.operation, ic.mode, status, duration)

	switch {
	case err != nil:
		_ = ic.tel.Events.PublishInvocationFailed(ic.invocationID, err.Error())
	case status == "failed":
		_ = ic.tel.Events.PublishInvocationFailed(ic.invocationID, "command failed")
	default:
		_ = ic.tel.Events.PublishInvocationCompleted(ic.invocationID, changed, duration)
	}
}

// PackageTransition records a package state change.
func (t *Telemetry) PackageTransition(ctx context.Context, pkg, from, to string, changed bool) {
	trace.SpanFromContext(ctx).AddEvent("package.transition", trace.WithAttributes(
		AttrPackage.String(pkg),
		AttrPhase.String(to),
	))
	if t == nil {
		return
	}
	switch to {
	case "skipped", "succeeded", "failed":
		t.Metrics.RecordPackage(to, changed)
	}
	_ = t.Events.PublishPackageTransition(InvocationID(ctx), pkg, from, to)
}

// CommandExecuted records a finished command.
func (t *Telemetry) CommandExecuted(ctx context.Context, tool string, exitCode int, duration time.Duration) {
	trace.SpanFromContext(ctx).AddEvent("command.executed", trace.WithAttributes(
		attribute.String("command.tool", tool),
		AttrExitCode.Int(exitCode),
	))
	if t == nil {
		return
	}
	t.Metrics.RecordCommand(tool, exitCode, duration)
}

// IndexRequest records a remote index call.
func (t *Telemetry) IndexRequest(kind string, err error) {
	if t == nil {
		return
	}
	t.Metrics.RecordIndexRequest(kind, err)
}

// WorkspaceCreated records a new build workspace.
func (t *Telemetry) WorkspaceCreated(ctx context.Context, pkg, path string) {
	if t == nil {
		return
	}
	t.Metrics.RecordWorkspaceCreated()
	_ = t.Events.PublishWorkspaceCreated(InvocationID(ctx), pkg, path)
}

// WorkspaceReleased records a workspace release attempt.
func (t *Telemetry) WorkspaceReleased(ctx context.Context, pkg, path string, err error) {
	if t == nil {
		return
	}
	t.Metrics.RecordWorkspaceReleased(err)
	_ = t.Events.PublishWorkspaceReleased(InvocationID(ctx), pkg, path, err)
}

// PolicyDenied records an admission rejection.
func (t *Telemetry) PolicyDenied(ctx context.Context, policy, reason string) {
	if t == nil {
		return
	}
	t.Metrics.RecordPolicyDenial(policy)
	_ = t.Events.PublishPolicyDenied(InvocationID(ctx), policy, reason)
}

// ErrorObserved counts an error by kind.
func (t *Telemetry) ErrorObserved(kind string) {
	if t == nil {
		return
	}
	t.Metrics.RecordError(kind)
}
