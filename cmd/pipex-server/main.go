package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"dqx0.com/go/pipeline/internal/obs"
	"dqx0.com/go/pipeline/pipex"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const service = "pipex-server"

func main() {
	port := flag.Int("port", 9001, "port to listen on")
	verbose := flag.Bool("v", false, "log every read chunk")
	flag.Parse()

	if err := run(*port, *verbose); err != nil {
		log.Fatal(err)
	}
}

func run(port int, verbose bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTelemetry, err := obs.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	minLevel := obs.Info
	if verbose {
		minLevel = obs.Debug
	}
	logger := obs.SlogLogger{L: newLogger(verbose), Min: minLevel}
	meter := obs.NewOtelMeter(otel.Meter(service))

	s := &pipex.Server{
		Addr:   fmt.Sprintf(":%d", port),
		Logger: logger,
		Meter:  meter,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		stop()
	}
	return s.Shutdown(context.Background())
}

// newLogger returns the otelslog bridge logger when an OTLP endpoint is
// configured, a plain text handler on stderr otherwise.
func newLogger(verbose bool) *slog.Logger {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		return otelslog.NewLogger(service)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
