package pipex

import (
	"io"
	"time"

	"dqx0.com/go/pipeline/internal/obs"
)

// pendingReply is one rendered reply waiting in a connection's queue.
// A gated reply is not eligible to be written until its delay timer
// fires; replies behind it must wait regardless of their own state.
type pendingReply struct {
	seq     int
	payload []byte
	gated   bool
	timer   *time.Timer
}

// replyScheduler owns one connection's FIFO of rendered replies and
// enforces head-of-line ordering: replies are written strictly in
// enqueue order, and a delay-gated head blocks everything behind it.
//
// The scheduler is not safe for concurrent use; the owning connection
// serializes access (its read loop and timer callbacks).
type replyScheduler struct {
	w       io.Writer
	nextSeq int
	queue   []*pendingReply

	// onWake is invoked from the delay timer goroutine when a gate
	// expires. It must route back to the scheduler's owner (by stable
	// id, not by reference) and call wake+flush under the owner's lock.
	onWake func(seq int)

	logger obs.Logger
	meter  obs.Meter
}

func newReplyScheduler(w io.Writer, logger obs.Logger, meter obs.Meter) *replyScheduler {
	if logger == nil {
		logger = obs.NopLogger{}
	}
	if meter == nil {
		meter = obs.NopMeter{}
	}
	return &replyScheduler{w: w, logger: logger, meter: meter}
}

// enqueue assigns the next sequence number, renders the reply through
// render, appends it to the tail and arms its delay timer when delay is
// positive. It returns the assigned sequence number. The caller is
// expected to flush afterwards.
func (s *replyScheduler) enqueue(delay time.Duration, render func(seq int) []byte) int {
	s.nextSeq++
	r := &pendingReply{seq: s.nextSeq, payload: render(s.nextSeq)}
	if delay > 0 {
		r.gated = true
		seq := r.seq
		r.timer = time.AfterFunc(delay, func() {
			if s.onWake != nil {
				s.onWake(seq)
			}
		})
		s.meter.Histogram("pipex_server_reply_delay_ms", float64(delay.Milliseconds()))
	}
	s.queue = append(s.queue, r)
	return r.seq
}

// wake clears the gate of the reply with the given sequence number.
// A sequence that is no longer queued (connection reset) is a no-op.
func (s *replyScheduler) wake(seq int) {
	for _, r := range s.queue {
		if r.seq == seq {
			r.gated = false
			r.timer = nil
			return
		}
	}
}

// flush writes eligible replies from the head of the queue, in order,
// stopping at the first still-gated reply. Writes are fire-and-forget:
// the transport delivers bytes in issue order, so issuing order alone
// guarantees response ordering, and a failed write is only logged.
func (s *replyScheduler) flush() {
	for len(s.queue) > 0 {
		r := s.queue[0]
		if r.gated {
			return
		}
		s.queue = s.queue[1:]
		if _, err := s.w.Write(r.payload); err != nil {
			s.logger.Logf(obs.Warn, "write reply %d failed: %v", r.seq, err)
			continue
		}
		s.meter.Counter("pipex_server_replies_total", 1)
	}
}

// reset cancels all outstanding delay timers and drops every queued
// reply without writing it.
func (s *replyScheduler) reset() {
	for _, r := range s.queue {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	s.queue = nil
}

// pendingCount reports how many replies are still queued.
func (s *replyScheduler) pendingCount() int { return len(s.queue) }
