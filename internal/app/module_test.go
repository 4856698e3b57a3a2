package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dfalcao/parley/internal/cache"
	"github.com/dfalcao/parley/internal/search"
	"go.uber.org/fx"
)

func TestModuleLifecycle(t *testing.T) {
	// Keep profile state (lock, logs, config lookup) out of the real home.
	t.Setenv("HOME", t.TempDir())

	var (
		rec    *cache.Reconciler
		engine *search.Engine
	)

	fxApp := fx.New(
		Module(Params{
			ProfileName: "test",
			DBPath:      filepath.Join(t.TempDir(), "parley.db"),
		}),
		fx.NopLogger,
		fx.Populate(&rec, &engine),
	)
	if err := fxApp.Err(); err != nil {
		t.Fatalf("dependency graph error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fxApp.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if rec.Loading() {
		t.Error("reconciler still loading after Start")
	}
	// A fresh store is seeded with demo chats.
	chats := rec.Snapshot()
	if len(chats) == 0 {
		t.Error("snapshot is empty, expected seeded chats")
	}

	hits, err := engine.SearchNow("project", "")
	if err != nil {
		t.Fatalf("SearchNow() error = %v", err)
	}
	if len(hits) == 0 {
		t.Error("no hits for seeded message text")
	}

	if err := fxApp.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestModuleSeedsOnlyOnce(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "parley.db")

	for i := 0; i < 2; i++ {
		var rec *cache.Reconciler
		fxApp := fx.New(
			Module(Params{ProfileName: "test", DBPath: dbPath}),
			fx.NopLogger,
			fx.Populate(&rec),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := fxApp.Start(ctx); err != nil {
			cancel()
			t.Fatalf("run %d Start() error = %v", i, err)
		}
		if got := len(rec.Snapshot()); got != 2 {
			t.Errorf("run %d: chats = %d, want 2 (seed must not repeat)", i, got)
		}
		if err := fxApp.Stop(ctx); err != nil {
			t.Fatalf("run %d Stop() error = %v", i, err)
		}
		cancel()
	}
}
