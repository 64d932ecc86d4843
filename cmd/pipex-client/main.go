package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"dqx0.com/go/pipeline/internal/obs"
	"dqx0.com/go/pipeline/pipex"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const service = "pipex-client"

// The default scenario: every request is delayed 100ms on the server
// except #0 (no X-Sleep at all, it only establishes that the server
// pipelines) and #1 (1100ms, which outlasts the default 1s transfer
// timeout). Request #3 gets a 10s timeout so it survives being queued
// behind #1's delayed reply.
const (
	defaultSleeps           = "0:-1,1:1100"
	defaultTimeoutOverrides = "3:10s"
)

func main() {
	host := flag.String("host", "localhost", "server host")
	port := flag.Int("p", 9001, "server port")
	total := flag.Int("n", 10, "total number of requests")
	window := flag.Int("window", 4, "pipeline window length (max requests in flight)")
	timeout := flag.Duration("timeout", time.Second, "per-request timeout")
	timeoutOverrides := flag.String("timeout-override", defaultTimeoutOverrides,
		"per-request timeout overrides, comma-separated id:duration")
	sleepDefault := flag.Int("sleep-default", 100, "X-Sleep milliseconds for requests without an override")
	sleeps := flag.String("sleep", defaultSleeps,
		"per-request X-Sleep overrides, comma-separated id:ms (-1 omits the header)")
	verbose := flag.Bool("v", false, "log completion gaps and engine activity")
	flag.Parse()

	if err := run(*host, *port, *total, *window, *timeout, *timeoutOverrides, *sleepDefault, *sleeps, *verbose); err != nil {
		log.Fatal(err)
	}
}

func run(host string, port, total, window int, timeout time.Duration,
	timeoutOverrides string, sleepDefault int, sleeps string, verbose bool) error {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTelemetry, err := obs.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	sleepMS, err := parseIntAssignments(sleeps)
	if err != nil {
		return fmt.Errorf("bad -sleep: %w", err)
	}
	timeoutOverride, err := parseDurationAssignments(timeoutOverrides)
	if err != nil {
		return fmt.Errorf("bad -timeout-override: %w", err)
	}

	minLevel := obs.Info
	if verbose {
		minLevel = obs.Debug
	}
	runID := uuid.NewString()
	logger := obs.SlogLogger{
		L:     newLogger(verbose),
		Min:   minLevel,
		Attrs: []slog.Attr{slog.String("run_id", runID)},
	}
	meter := obs.NewOtelMeter(otel.Meter(service))

	target := fmt.Sprintf("http://%s:%d/", host, port)
	logger.Logf(obs.Info, "connecting to %s (n=%d window=%d)", target, total, window)

	slots := pipex.BuildSlotTable(pipex.SlotConfig{
		Target:          target,
		Total:           total,
		Timeout:         timeout,
		TimeoutOverride: timeoutOverride,
		SleepDefaultMS:  sleepDefault,
		SleepMS:         sleepMS,
	})

	eng := pipex.NewMultiEngine()
	eng.Logger = logger
	eng.Meter = meter
	defer eng.Close()

	ctrl := pipex.NewController(eng, slots, window)
	ctrl.Logger = logger
	ctrl.Meter = meter

	st, err := ctrl.Run(ctx)
	if err != nil {
		if errors.Is(err, pipex.ErrConnectionRefused) {
			return fmt.Errorf("connection refused, are you sure the server is running? (%w)", err)
		}
		return err
	}
	logger.Logf(obs.Info, "done: added=%d running=%d total=%d", st.Added, st.Running, st.Total)
	return nil
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

// parseIntAssignments parses "id:value,id:value" into a map.
func parseIntAssignments(s string) (map[int]int, error) {
	out := make(map[int]int)
	for _, part := range splitAssignments(s) {
		id, val, err := splitPair(part)
		if err != nil {
			return nil, err
		}
		v, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out[id] = v
	}
	return out, nil
}

// parseDurationAssignments parses "id:duration,id:duration" into a map.
func parseDurationAssignments(s string) (map[int]time.Duration, error) {
	out := make(map[int]time.Duration)
	for _, part := range splitAssignments(s) {
		id, val, err := splitPair(part)
		if err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out[id] = d
	}
	return out, nil
}

func splitAssignments(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func splitPair(part string) (int, string, error) {
	kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
	if len(kv) != 2 {
		return 0, "", fmt.Errorf("%q: want id:value", part)
	}
	id, err := strconv.Atoi(kv[0])
	if err != nil {
		return 0, "", fmt.Errorf("%q: %w", part, err)
	}
	return id, kv[1], nil
}
