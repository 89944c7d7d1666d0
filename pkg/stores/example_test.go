package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/stores"
)

func ExampleOpen() {
	ctx := context.Background()

	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.HealthCheck(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store ready")
	// Output: Store ready
}

func ExampleSQLiteStore_RecordInvocation() {
	ctx := context.Background()

	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	err = store.RecordInvocation(ctx, &aur.Invocation{
		ID:      "example",
		Request: aur.InstallRequest{Packages: []string{"yay"}, State: aur.StatePresent},
		Helper:  "makepkg",
		Outcome: &aur.Outcome{
			Changed:   true,
			Helper:    "makepkg",
			Msg:       "installed package(s) yay",
			Installed: []string{"yay"},
			Packages:  []aur.PackageReport{{Package: "yay", State: aur.PhaseSucceeded, Changed: true}},
		},
		StartedAt:   now,
		CompletedAt: now,
	})
	if err != nil {
		log.Fatal(err)
	}

	state, err := store.GetPackageState(ctx, "yay")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s installed=%v action=%s\n", state.Name, state.Installed, state.LastAction)
	// Output: yay installed=true action=installed
}
