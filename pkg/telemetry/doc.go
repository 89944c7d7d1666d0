// Package telemetry provides observability for froyo-aur.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and a small in-process event bus
// behind one Telemetry value. A nil *Telemetry is valid everywhere and
// records nothing, so library code never has to check for it.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//	cfg.Metrics.ListenAddress = ":9464"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	errCh := tel.StartMetricsServer(ctx)
//
// # Invocations
//
// The engine wraps every request in an invocation:
//
//	ic := tel.StartInvocation(ctx, id, "install", false)
//	// ... per package:
//	tel.PackageTransition(ic.Ctx, "foo", "pending", "attempting", false)
//	tel.CommandExecuted(ic.Ctx, "yay", 0, elapsed)
//	ic.EndInvocation("changed", true, nil)
//
// Each call updates the matching Prometheus series, adds span events and
// publishes an Event to subscribers.
//
// # Metrics
//
// All series live on a private registry under the configured namespace
// (froyo_aur by default):
//
//   - invocations_total{operation,mode,status}
//   - invocation_duration_seconds{operation,mode}
//   - packages_total{state,changed}
//   - commands_total{tool,status}, command_duration_seconds{tool}
//   - index_requests_total{kind,status}
//   - workspaces_active, workspaces_released_total{status}
//   - errors_by_kind_total{kind}, policy_denials_total{policy}
//
// # Events
//
// Subscribers receive invocation, package, workspace and policy events:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Package)
//	}, telemetry.FilterByType(telemetry.EventTypePackageTransition))
//
// Publishing is synchronous by default so events arrive in order.
package telemetry
