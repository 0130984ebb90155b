// Command aegrad runs the streaming service with a synthetic demo run and
// prints its frames, exercising whichever backends the environment
// configures.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"

	"github.com/ibbybuilds/aegra-go"
	"github.com/ibbybuilds/aegra-go/events"
	"github.com/ibbybuilds/aegra-go/pkg/slogx"
	"github.com/ibbybuilds/aegra-go/pkg/stdx"
	"github.com/ibbybuilds/aegra-go/pkg/uuidx"
	"github.com/ibbybuilds/aegra-go/stream"
)

var log zerolog.Logger

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := aegra.NewStreaming(ctx, aegra.ConfigFromEnv())
	if err != nil {
		slog.Error("failed to start streaming service", slogx.Error(err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", slogx.Error(err))
		}
	}()

	runID := uuidx.NewString()
	slog.Info("starting demo run", slogx.RunID(runID))

	stdx.Must0(svc.Orchestrator.StartRun(ctx, runID, demoEngine))

	frames := stdx.Must1(svc.Orchestrator.Stream(ctx, stream.Run{ID: runID, Attempt: 1}, ""))
	for f := range frames {
		fmt.Print(f.String())
	}
	slog.Info("demo run finished", slogx.RunID(runID))
}

// demoEngine emits a short scripted run: a few value chunks, a message and
// the terminal event.
func demoEngine(ctx context.Context, emit func(events.Event) error) error {
	for i := 1; i <= 3; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
		if err := emit(events.Values{Chunk: map[string]any{"step": i}}); err != nil {
			return err
		}
	}
	if err := emit(events.Messages{
		Chunk: map[string]any{"role": "assistant", "content": "all steps done"},
		Meta:  map[string]any{"model": "demo"},
	}); err != nil {
		return err
	}
	return emit(events.End{Status: events.StatusSuccess, FinalOutput: map[string]any{"steps": 3}})
}
