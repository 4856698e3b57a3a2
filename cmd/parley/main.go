package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dfalcao/parley/internal/app"
	"github.com/dfalcao/parley/internal/bus"
	"github.com/dfalcao/parley/internal/cache"
	"github.com/dfalcao/parley/internal/profile"
	"github.com/dfalcao/parley/internal/repo"
	"github.com/dfalcao/parley/internal/search"
	"github.com/dfalcao/parley/internal/tui"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		rec        *cache.Reconciler
		engine     *search.Engine
		repository *repo.Repository
		b          *bus.Bus
	)

	fxApp := fx.New(
		app.Module(app.Params{ProfileName: profileName}),
		fx.NopLogger,
		fx.Populate(&rec, &engine, &repository, &b),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := fxApp.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ui := tui.NewApp(rec, engine, repository, b, profileName)
	runErr := ui.Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	stopErr := fxApp.Stop(stopCtx)
	cancel()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", stopErr)
		os.Exit(1)
	}
}
