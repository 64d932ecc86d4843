package pipex

import (
	"context"
	"fmt"
	"time"

	"dqx0.com/go/pipeline/internal/obs"
)

// maxWaitTimeout caps how long the controller blocks on engine
// readiness regardless of the engine's own hint.
const maxWaitTimeout = time.Second

// WindowState is the controller's window accounting. Added counts
// descriptors handed to the engine, Running is added minus completed,
// Total is the planned number of transfers. Running never exceeds the
// window length, and a run terminates exactly when Running == 0 and
// Added == Total.
type WindowState struct {
	Added   int
	Running int
	Total   int
}

// Controller drives N prepared transfers to completion while keeping at
// most Window of them in flight, refilling from the slot table as
// completions drain.
type Controller struct {
	Engine Engine
	Slots  []*RequestDescriptor
	Window int
	Logger obs.Logger
	Meter  obs.Meter

	st       WindowState
	handles  map[TransferHandle]*RequestDescriptor
	lastDone time.Time
}

// NewController returns a Controller over eng and the prepared slot
// table. A window smaller than 1 is treated as 1.
func NewController(eng Engine, slots []*RequestDescriptor, window int) *Controller {
	if window < 1 {
		window = 1
	}
	return &Controller{Engine: eng, Slots: slots, Window: window}
}

// State returns the current window accounting.
func (c *Controller) State() WindowState { return c.st }

// Run drives every transfer to completion and returns the final window
// state. It fails fast on a refused connection and on a hard wait
// failure; all other per-transfer outcomes are logged and the run
// continues.
func (c *Controller) Run(ctx context.Context) (WindowState, error) {
	c.st = WindowState{Total: len(c.Slots)}
	c.handles = make(map[TransferHandle]*RequestDescriptor, len(c.Slots))
	if c.st.Total == 0 {
		return c.st, nil
	}

	// Warm-up: one transfer, pumped to quiescence, before fanning out.
	// Submitting more before the first response risks the engine (or a
	// cautious peer) opening separate connections instead of pipelining
	// on one.
	if err := c.addNext(); err != nil {
		return c.st, err
	}
	for {
		if active := c.Engine.Perform(); active == 0 {
			break
		}
		if err := c.waitReady(ctx); err != nil {
			return c.st, err
		}
	}
	if err := c.drainCompletions(); err != nil {
		return c.st, err
	}

	for {
		// Top up the window from the slot table.
		for c.st.Running < c.Window && c.st.Added < c.st.Total {
			if err := c.addNext(); err != nil {
				return c.st, err
			}
		}

		active := c.Engine.Perform()
		if err := c.drainCompletions(); err != nil {
			return c.st, err
		}

		if c.st.Running == 0 && c.st.Added == c.st.Total {
			c.logf(obs.Info, "run complete: %d transfers finished", c.st.Total)
			return c.st, nil
		}

		// The pump or the drain may have opened room in the window. If
		// descriptors remain, refill immediately instead of sleeping in
		// the readiness wait.
		if active < c.Window && c.st.Added < c.st.Total {
			continue
		}

		if err := c.waitReady(ctx); err != nil {
			return c.st, err
		}
	}
}

// addNext submits the next prepared descriptor to the engine.
func (c *Controller) addNext() error {
	d := c.Slots[c.st.Added]
	h, err := c.Engine.AddTransfer(d)
	if err != nil {
		return fmt.Errorf("pipex: add transfer %d: %w", d.ID, err)
	}
	c.handles[h] = d
	c.st.Added++
	c.st.Running++
	c.logf(obs.Info, "request #%d    added [now running: %d]", d.ID, c.st.Running)
	return nil
}

// drainCompletions pops every completion notification currently
// available, classifies it and updates the window accounting. A refused
// connection aborts the whole run.
func (c *Controller) drainCompletions() error {
	for {
		msg, ok := c.Engine.InfoRead()
		if !ok {
			return nil
		}
		d, ok := c.handles[msg.Handle]
		if !ok {
			// A notification matching none of our handles is a logic
			// error worth reporting, never silently dropped.
			c.logf(obs.Error, "%v (handle %d)", ErrUnknownTransfer, msg.Handle)
			c.metricCounter("pipex_client_unknown_completions_total", 1)
			continue
		}
		delete(c.handles, msg.Handle)
		d.release()
		c.st.Running--
		c.noteGap()
		c.metricCounter("pipex_client_transfers_total", 1,
			obs.Label{Key: "outcome", Value: msg.Outcome.String()})
		c.metricHistogram("pipex_client_window_running", float64(c.st.Running))

		switch msg.Outcome {
		case OutcomeSuccess:
			c.logf(obs.Info, "request    #%d finished [now running: %d]", d.ID, c.st.Running)
		case OutcomeTimeout:
			c.logf(obs.Warn, "request    #%d TIMED OUT! [now running: %d]", d.ID, c.st.Running)
		case OutcomeRefused:
			c.logf(obs.Error, "request    #%d refused: is the server running?", d.ID)
			if msg.Err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionRefused, msg.Err)
			}
			return ErrConnectionRefused
		default:
			c.logf(obs.Warn, "request    #%d completed with error: %v [now running: %d]", d.ID, msg.Err, c.st.Running)
		}
	}
}

// waitReady blocks on engine readiness, bounded by the engine's own
// hint clamped to one second.
func (c *Controller) waitReady(ctx context.Context) error {
	timeout := maxWaitTimeout
	if hint := c.Engine.Timeout(); hint >= 0 && hint < timeout {
		timeout = hint
	}
	if err := c.Engine.Wait(ctx, timeout); err != nil {
		return fmt.Errorf("%w: %v", ErrWaitFailed, err)
	}
	return nil
}

// noteGap logs a marker when more than 5ms passed between consecutive
// completions, which makes delayed-reply runs readable in the output.
func (c *Controller) noteGap() {
	now := time.Now()
	if !c.lastDone.IsZero() {
		if gap := now.Sub(c.lastDone); gap > 5*time.Millisecond {
			c.logf(obs.Debug, "<... %v between completions ...>", gap)
		}
	}
	c.lastDone = now
}

func (c *Controller) logf(level obs.Level, format string, args ...interface{}) {
	lg := c.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

func (c *Controller) metricCounter(name string, value float64, labels ...obs.Label) {
	m := c.Meter
	if m == nil {
		m = obs.NopMeter{}
	}
	m.Counter(name, value, labels...)
}

func (c *Controller) metricHistogram(name string, value float64, labels ...obs.Label) {
	m := c.Meter
	if m == nil {
		m = obs.NopMeter{}
	}
	m.Histogram(name, value, labels...)
}
