// Package handlers implements command handlers for the aur-runner.
package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/runner/protocol"
	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

// Engine executes install requests. *aur.Engine satisfies it.
type Engine interface {
	Execute(ctx context.Context, req aur.InstallRequest, mode aur.Mode) (*aur.Outcome, error)
}

// EnsureHandler handles aur.ensure and aur.check.
type EnsureHandler struct {
	Engine Engine

	// Events is the publisher the engine reports package transitions on.
	// When it is enabled, transitions are forwarded while the request runs.
	Events *telemetry.EventPublisher
}

// Handle runs the request carried by params. Progress is reported on
// eventCh: one event when the request starts, then one per package
// transition. Without an enabled publisher the per-package events are sent
// once the outcome is known.
func (h *EnsureHandler) Handle(ctx context.Context, cmd *protocol.CommandMessage, params *protocol.EnsureParams, eventCh chan<- *protocol.EventMessage) (*aur.Outcome, error) {
	if h.Engine == nil {
		return nil, fmt.Errorf("no engine configured")
	}

	req := params.InstallRequest.Normalized()
	mode := params.Mode(cmd.Type)

	verb := req.Operation()
	if mode.Check {
		verb = "checking " + verb
	}
	send(ctx, eventCh, &protocol.EventMessage{
		CommandID: cmd.ID,
		Level:     "info",
		Message:   fmt.Sprintf("Starting %s", verb),
		Progress:  &protocol.ProgressInfo{Current: 0, Total: len(req.Packages), Unit: "packages"},
		Metadata:  map[string]string{"helper": req.Use, "state": string(req.State)},
	})

	live := h.Events.Enabled()
	if live {
		id := uuid.NewString()
		ctx = telemetry.WithInvocationID(ctx, id)

		filters := []telemetry.EventFilter{
			telemetry.FilterByInvocationID(id),
			telemetry.FilterByType(telemetry.EventTypePackageTransition),
		}
		if len(req.Packages) > 0 {
			filters = append(filters, telemetry.FilterByPackage(req.Packages...))
		}
		fwd := &forwarder{ctx: ctx, commandID: cmd.ID, total: len(req.Packages), eventCh: eventCh}
		unsubscribe := h.Events.Subscribe(fwd.forward, telemetry.MatchAll(filters...))
		defer unsubscribe()
	}

	outcome, err := h.Engine.Execute(ctx, req, mode)
	if outcome != nil && !live {
		for i, report := range outcome.Packages {
			send(ctx, eventCh, &protocol.EventMessage{
				CommandID: cmd.ID,
				Level:     phaseLevel(string(report.State)),
				Message:   fmt.Sprintf("Package %s", report.State),
				Package:   report.Package,
				Progress:  &protocol.ProgressInfo{Current: i + 1, Total: len(outcome.Packages), Unit: "packages"},
			})
		}
	}
	return outcome, err
}

// forwarder turns package transitions of one invocation into EVENTs.
type forwarder struct {
	ctx       context.Context
	commandID string
	total     int
	eventCh   chan<- *protocol.EventMessage

	mu   sync.Mutex
	done int
}

func (f *forwarder) forward(e telemetry.Event) {
	to, _ := e.Data["to"].(string)
	from, _ := e.Data["from"].(string)

	f.mu.Lock()
	switch aur.Phase(to) {
	case aur.PhaseSkipped, aur.PhaseSucceeded, aur.PhaseFailed:
		f.done++
	}
	current := f.done
	f.mu.Unlock()

	total := f.total
	if current > total {
		total = current
	}
	send(f.ctx, f.eventCh, &protocol.EventMessage{
		CommandID: f.commandID,
		Level:     phaseLevel(to),
		Message:   fmt.Sprintf("Package %s", to),
		Package:   e.Package,
		Progress:  &protocol.ProgressInfo{Current: current, Total: total, Unit: "packages"},
		Metadata:  map[string]string{"from": from, "to": to},
	})
}

func phaseLevel(phase string) string {
	if aur.Phase(phase) == aur.PhaseFailed {
		return "warn"
	}
	return "info"
}

func send(ctx context.Context, eventCh chan<- *protocol.EventMessage, evt *protocol.EventMessage) {
	if eventCh == nil {
		return
	}
	select {
	case eventCh <- evt:
	case <-ctx.Done():
	}
}
