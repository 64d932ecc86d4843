package pipex

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"dqx0.com/go/pipeline/internal/obs"
	"dqx0.com/go/pipeline/pipex/internal/wire"
)

// conn owns one accepted socket. Its read loop feeds every incoming
// byte to both the end-of-request matcher and the header field parser;
// a terminator match ends one pipelined request and enqueues its reply.
// Parser state is touched only by the read loop. The reply queue and
// the closed flag are shared with delay-timer callbacks and guarded by
// mu.
type conn struct {
	id  int
	srv *Server
	rwc net.Conn

	eom   *wire.TerminatorMatcher
	field *wire.FieldParser

	// recorded by the header parser for the request currently being
	// read, consumed when its terminator arrives.
	sleepMS   uint64
	requestID uint64

	mu     sync.Mutex
	closed bool
	sched  *replyScheduler
}

func newConn(srv *Server, id int, rwc net.Conn) *conn {
	c := &conn{
		id:    id,
		srv:   srv,
		rwc:   rwc,
		eom:   wire.NewTerminatorMatcher(""),
		field: wire.NewFieldParser(),
	}
	c.sched = newReplyScheduler(rwc, srv.logger(), srv.meter())
	c.sched.onWake = func(seq int) { srv.replyReady(id, seq) }
	return c
}

// readLoop runs until the socket fails or is closed. Reading resumes
// unconditionally after each chunk: pipelining requires the socket to
// stay open for more input no matter how many replies are pending.
func (c *conn) readLoop() {
	defer c.srv.connDone()
	buf := make([]byte, c.srv.readBufferSize())
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			c.srv.logger().Logf(obs.Debug, "#%d: read %d bytes", c.id, n)
			c.consume(buf[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			// Closed on our side during shutdown or teardown.
			return
		}
		if errors.Is(err, io.EOF) {
			c.srv.logger().Logf(obs.Info, "#%d: client closed connection", c.id)
		} else {
			c.srv.logger().Logf(obs.Warn, "#%d: read error: %v, closing connection", c.id, err)
		}
		c.teardown()
		return
	}
}

// consume feeds a maximal run of received bytes, in order, to both
// incremental parsers. The two run independently over the same stream.
func (c *conn) consume(p []byte) {
	for _, b := range p {
		matched := c.eom.Feed(b)
		c.field.Feed(b)
		if matched {
			c.eom.Reset()
			c.field.Reset()
			c.endOfRequest()
			continue
		}
		if c.field.Matched() {
			switch c.field.Key() {
			case HeaderSleep:
				c.sleepMS = parseControlValue(c.field.Value())
			case HeaderRequest:
				c.requestID = parseControlValue(c.field.Value())
			}
		}
	}
}

// endOfRequest hands the recorded (delay, request id) pair to the reply
// scheduler and clears the pair for the next pipelined request.
func (c *conn) endOfRequest() {
	sleep := time.Duration(c.sleepMS) * time.Millisecond
	requestID := int(c.requestID)
	c.sleepMS = 0
	c.requestID = 0

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	seq := c.sched.enqueue(sleep, func(seq int) []byte {
		return renderReply(c.id, requestID, seq)
	})
	c.srv.logger().Logf(obs.Info, "#%d: request #%d parsed, reply %d queued (sleep %v)", c.id, requestID, seq, sleep)
	c.sched.flush()
}

// teardown discards the entire pending-reply queue (no partial delivery
// attempt), closes the socket and deregisters the connection. All
// further scheduler activity becomes a no-op.
func (c *conn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if n := c.sched.pendingCount(); n > 0 {
		c.srv.logger().Logf(obs.Info, "#%d: discarding %d pending replies", c.id, n)
	}
	c.sched.reset()
	c.mu.Unlock()

	_ = c.rwc.Close()
	c.srv.removeConn(c.id)
}

// parseControlValue parses an unsigned integer control header value;
// a parse failure is treated as zero.
func parseControlValue(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
