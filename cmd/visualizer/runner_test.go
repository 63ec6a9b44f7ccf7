package main

import (
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"hundred_prisoners/internal/engine"
)

func TestRunnerRestartWaitsForPreviousLoop(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	app := tview.NewApplication().SetScreen(screen).SetRoot(tview.NewBox(), true)
	appDone := make(chan error, 1)
	go func() {
		appDone <- app.Run()
	}()

	e, err := engine.New(10, engine.WithSeed(3))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	r := newRunner(app, e, newBoard(10), 0, 0)

	for i := 0; i < 200; i++ {
		r.start()
		r.stop()
	}
	r.start()
	time.Sleep(20 * time.Millisecond)
	r.stop()

	select {
	case <-r.finished():
	case <-time.After(5 * time.Second):
		t.Fatalf("runner loops did not wind down")
	}

	if state := r.state(); !strings.Contains(state, "stopped") {
		t.Fatalf("expected runner to be stopped, got %q", state)
	}
	app.Stop()
	if err := <-appDone; err != nil {
		t.Fatalf("app run: %v", err)
	}
}
