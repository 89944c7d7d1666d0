package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

// Example_invocation shows the lifecycle the engine drives for one request.
func Example_invocation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Package, e.Data["to"])
	}, telemetry.FilterByType(telemetry.EventTypePackageTransition))

	ic := tel.StartInvocation(context.Background(), "inv-1", "install", false)
	tel.PackageTransition(ic.Ctx, "foo", "pending", "attempting", false)
	tel.CommandExecuted(ic.Ctx, "yay", 0, 2*time.Second)
	tel.PackageTransition(ic.Ctx, "foo", "attempting", "succeeded", true)
	ic.EndInvocation("changed", true, nil)

	// Output:
	// package.transition foo attempting
	// package.transition foo succeeded
}

// Example_nilTelemetry shows that a nil *Telemetry records nothing and never panics.
func Example_nilTelemetry() {
	var tel *telemetry.Telemetry

	ic := tel.StartInvocation(context.Background(), "inv-2", "upgrade", true)
	tel.CommandExecuted(ic.Ctx, "paru", 1, time.Second)
	ic.EndInvocation("failed", false, nil)

	fmt.Println(telemetry.InvocationID(ic.Ctx))
	// Output: inv-2
}
