package pipex

import (
	"fmt"
	"strconv"
	"time"
)

// Control header names recognized by the server.
const (
	HeaderSleep   = "X-Sleep"
	HeaderRequest = "X-Request"
)

// RequestDescriptor is one prepared transfer: built once at startup,
// handed to the engine exactly once, and released after its completion
// is observed.
type RequestDescriptor struct {
	ID      int
	URL     string
	Timeout time.Duration
	Header  Header
}

// release frees per-request resources once the completion is drained.
func (d *RequestDescriptor) release() {
	d.Header = nil
}

// SlotConfig describes how to build the slot table for one client run.
// SleepMS assigns the artificial server delay per request id; ids not
// present get SleepDefaultMS. A negative resolved sleep means the
// X-Sleep header is omitted entirely. TimeoutOverride assigns a
// per-request timeout distinct from Timeout.
type SlotConfig struct {
	Target          string // e.g. "http://localhost:9001/"
	Total           int
	Timeout         time.Duration
	TimeoutOverride map[int]time.Duration
	SleepDefaultMS  int
	SleepMS         map[int]int
}

// BuildSlotTable prepares Total request descriptors for Target. Every
// descriptor carries an X-Request header echoing its id; an X-Sleep
// header is attached according to the sleep assignment.
func BuildSlotTable(cfg SlotConfig) []*RequestDescriptor {
	slots := make([]*RequestDescriptor, 0, cfg.Total)
	for i := 0; i < cfg.Total; i++ {
		timeout := cfg.Timeout
		if to, ok := cfg.TimeoutOverride[i]; ok {
			timeout = to
		}
		sleep := cfg.SleepDefaultMS
		if ms, ok := cfg.SleepMS[i]; ok {
			sleep = ms
		}
		h := Header{}
		if sleep >= 0 {
			h.Set(HeaderSleep, strconv.Itoa(sleep))
		}
		h.Set(HeaderRequest, strconv.Itoa(i))
		slots = append(slots, &RequestDescriptor{
			ID:      i,
			URL:     cfg.Target,
			Timeout: timeout,
			Header:  h,
		})
	}
	return slots
}

// Outcome classifies one finished transfer.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeRefused
	OutcomeOther
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeRefused:
		return "refused"
	case OutcomeOther:
		return "other"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// TransferHandle is the engine-assigned identity correlating a
// completion notification back to its originating request.
type TransferHandle uint64

// Completion is one notification popped from the engine: the transfer
// that finished, its classified outcome and, on success, the response
// status code.
type Completion struct {
	Handle     TransferHandle
	RequestID  int
	Outcome    Outcome
	StatusCode int
	Err        error
}
