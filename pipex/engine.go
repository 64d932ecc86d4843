package pipex

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"dqx0.com/go/pipeline/internal/obs"
)

// Engine batches non-blocking transfers over pipelined connections.
// The controller drives it with a pump/drain/wait cycle: Perform pushes
// queued work and expires deadlines, InfoRead pops completion
// notifications, Timeout suggests how long the caller may block, and
// Wait blocks until engine activity or the timeout.
type Engine interface {
	AddTransfer(d *RequestDescriptor) (TransferHandle, error)
	Perform() int
	InfoRead() (Completion, bool)
	Timeout() time.Duration
	Wait(ctx context.Context, timeout time.Duration) error
	Close() error
}

// transfer is one registered request while it lives inside the engine.
type transfer struct {
	handle   TransferHandle
	desc     *RequestDescriptor
	key      string // host:port connection key
	wire     []byte // rendered request bytes
	deadline time.Time
	start    time.Time
	// abandoned marks a transfer already completed as timed out. It
	// keeps its slot in the connection's response FIFO so the late
	// response is consumed and discarded without desequencing the
	// transfers behind it.
	abandoned bool
}

// engineConn is one pipelined connection. Requests for the same
// host:port are written back to back on it; responses are matched FIFO
// to the in-flight transfers.
type engineConn struct {
	key      string
	c        net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	inflight []*transfer
	broken   bool
	reading  bool
}

// MultiEngine is the Engine used against real sockets. One connection
// per target is opened lazily and kept for the whole run so the server
// sees a single pipelined stream.
type MultiEngine struct {
	DialTimeout time.Duration
	Logger      obs.Logger
	Meter       obs.Meter

	mu      sync.Mutex
	closed  bool
	nextH   TransferHandle
	pending []*transfer
	done    []Completion
	conns   map[string]*engineConn
	active  int
	wake    chan struct{}
}

// NewMultiEngine returns a MultiEngine with defaults.
func NewMultiEngine() *MultiEngine {
	return &MultiEngine{
		DialTimeout: 5 * time.Second,
		conns:       make(map[string]*engineConn),
		wake:        make(chan struct{}, 1),
	}
}

// AddTransfer registers d. The request bytes are rendered up front so a
// bad descriptor fails here rather than mid-pipeline.
func (e *MultiEngine) AddTransfer(d *RequestDescriptor) (TransferHandle, error) {
	key, wire, err := buildRequest(d)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrEngineClosed
	}
	e.nextH++
	tr := &transfer{handle: e.nextH, desc: d, key: key, wire: wire, start: time.Now()}
	if d.Timeout > 0 {
		tr.deadline = tr.start.Add(d.Timeout)
	}
	e.pending = append(e.pending, tr)
	e.active++
	return tr.handle, nil
}

// Perform is the non-blocking pump: it dials missing connections,
// writes every queued request in submission order, expires transfers
// past their deadline, and returns the number still active.
func (e *MultiEngine) Perform() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0
	}

	queued := e.pending
	e.pending = nil
	for _, tr := range queued {
		ec, err := e.connLocked(tr.key)
		if err != nil {
			e.completeLocked(tr, Completion{
				Handle:    tr.handle,
				RequestID: tr.desc.ID,
				Outcome:   classifyErr(err),
				Err:       err,
			})
			continue
		}
		// Claim the FIFO slot before writing so a write failure fails
		// this transfer along with everything else on the connection.
		ec.inflight = append(ec.inflight, tr)
		_, werr := ec.bw.Write(tr.wire)
		if werr == nil {
			werr = ec.bw.Flush()
		}
		if werr != nil {
			e.failConnLocked(ec, werr)
			continue
		}
		if !ec.reading {
			ec.reading = true
			go e.readLoop(ec)
		}
	}

	e.expireLocked(time.Now())
	return e.active
}

// InfoRead pops one completion notification, if any is available.
func (e *MultiEngine) InfoRead() (Completion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.done) == 0 {
		return Completion{}, false
	}
	msg := e.done[0]
	e.done = e.done[1:]
	return msg, true
}

// Timeout returns how long the caller may block before the engine needs
// another Perform (the nearest transfer deadline), or -1 when the
// engine has no opinion.
func (e *MultiEngine) Timeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	var next time.Time
	consider := func(tr *transfer) {
		if tr.abandoned || tr.deadline.IsZero() {
			return
		}
		if next.IsZero() || tr.deadline.Before(next) {
			next = tr.deadline
		}
	}
	for _, tr := range e.pending {
		consider(tr)
	}
	for _, ec := range e.conns {
		for _, tr := range ec.inflight {
			consider(tr)
		}
	}
	if next.IsZero() {
		return -1
	}
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// Wait blocks until engine activity, the timeout, or ctx cancellation.
// It returns immediately when completions are already queued. A ctx
// error is a hard wait failure.
func (e *MultiEngine) Wait(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	ready := len(e.done) > 0
	e.mu.Unlock()
	if ready {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.wake:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts every connection down. Transfers still in flight are not
// completed; callers close only after their run finished or aborted.
func (e *MultiEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, ec := range e.conns {
		if ec.c != nil {
			_ = ec.c.Close()
		}
	}
	e.conns = nil
	e.pending = nil
	return nil
}

// connLocked returns the live connection for key, dialing when needed.
func (e *MultiEngine) connLocked(key string) (*engineConn, error) {
	if ec, ok := e.conns[key]; ok && !ec.broken {
		return ec, nil
	}
	d := net.Dialer{Timeout: e.DialTimeout}
	c, err := d.Dial("tcp", key)
	if err != nil {
		e.logf(obs.Warn, "dial %s failed: %v", key, err)
		e.metricCounter("pipex_client_conn_dial_errors_total", 1)
		return nil, err
	}
	e.logf(obs.Debug, "dialed %s", key)
	e.metricCounter("pipex_client_conn_dial_total", 1)
	ec := &engineConn{key: key, c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
	e.conns[key] = ec
	return ec, nil
}

// expireLocked completes transfers whose deadline passed. The transfer
// keeps its FIFO slot as abandoned so the eventual response is skipped.
func (e *MultiEngine) expireLocked(now time.Time) {
	for _, ec := range e.conns {
		for _, tr := range ec.inflight {
			if tr.abandoned || tr.deadline.IsZero() || tr.deadline.After(now) {
				continue
			}
			tr.abandoned = true
			e.completeLocked(tr, Completion{
				Handle:    tr.handle,
				RequestID: tr.desc.ID,
				Outcome:   OutcomeTimeout,
			})
		}
	}
}

func (e *MultiEngine) completeLocked(tr *transfer, msg Completion) {
	e.done = append(e.done, msg)
	e.active--
	e.metricHistogram("pipex_client_transfer_duration_ms",
		float64(time.Since(tr.start).Milliseconds()),
		obs.Label{Key: "outcome", Value: msg.Outcome.String()})
	e.signalWake()
}

// failConnLocked fails every transfer still awaiting a response on ec
// and drops the connection; a later Perform dials a fresh one.
func (e *MultiEngine) failConnLocked(ec *engineConn, err error) {
	if ec.broken {
		return
	}
	ec.broken = true
	e.logf(obs.Warn, "connection %s failed: %v", ec.key, err)
	for _, tr := range ec.inflight {
		if tr.abandoned {
			continue
		}
		e.completeLocked(tr, Completion{
			Handle:    tr.handle,
			RequestID: tr.desc.ID,
			Outcome:   classifyErr(err),
			Err:       err,
		})
	}
	ec.inflight = nil
	_ = ec.c.Close()
	delete(e.conns, ec.key)
}

// readLoop reads responses off one connection and matches them FIFO to
// its in-flight transfers.
func (e *MultiEngine) readLoop(ec *engineConn) {
	for {
		status, err := readResponse(ec.br)
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		if err != nil {
			e.failConnLocked(ec, err)
			e.mu.Unlock()
			return
		}
		if len(ec.inflight) == 0 {
			e.failConnLocked(ec, fmt.Errorf("%w: response with no request in flight", ErrProtocolViolation))
			e.mu.Unlock()
			return
		}
		tr := ec.inflight[0]
		ec.inflight = ec.inflight[1:]
		if tr.abandoned {
			// Late response for a timed-out transfer: consumed to keep
			// the stream in sequence, reported to no one.
			e.logf(obs.Debug, "discarded late response for request #%d", tr.desc.ID)
			e.mu.Unlock()
			continue
		}
		e.completeLocked(tr, Completion{
			Handle:     tr.handle,
			RequestID:  tr.desc.ID,
			Outcome:    OutcomeSuccess,
			StatusCode: status,
		})
		e.mu.Unlock()
	}
}

func (e *MultiEngine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *MultiEngine) logf(level obs.Level, format string, args ...interface{}) {
	lg := e.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

func (e *MultiEngine) metricCounter(name string, value float64, labels ...obs.Label) {
	m := e.Meter
	if m == nil {
		m = obs.NopMeter{}
	}
	m.Counter(name, value, labels...)
}

func (e *MultiEngine) metricHistogram(name string, value float64, labels ...obs.Label) {
	m := e.Meter
	if m == nil {
		m = obs.NopMeter{}
	}
	m.Histogram(name, value, labels...)
}

// classifyErr maps a wire error onto the transfer outcome taxonomy.
func classifyErr(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return OutcomeRefused
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeOther
}

// buildRequest renders d as HTTP/1.1 request bytes and returns the
// connection key it must be written on. Header keys are written in
// sorted order so the wire bytes are deterministic.
func buildRequest(d *RequestDescriptor) (key string, wire []byte, err error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", nil, err
	}
	if u.Scheme != "" && u.Scheme != "http" {
		return "", nil, fmt.Errorf("pipex: unsupported scheme %q", u.Scheme)
	}
	host := u.Host
	if host == "" {
		return "", nil, fmt.Errorf("pipex: request %d has no host", d.ID)
	}
	key = host
	if !strings.Contains(key, ":") {
		key += ":80"
	}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Connection: keep-alive\r\n")
	keys := make([]string, 0, len(d.Header))
	for k := range d.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range d.Header[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	return key, b.Bytes(), nil
}

// readResponse consumes one response off the stream and returns its
// status code. Replies are Content-Length framed; anything else is a
// protocol violation for this tool.
func readResponse(br *bufio.Reader) (int, error) {
	line, err := readLine(br, 8<<10)
	if err != nil {
		return 0, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/1.") {
		return 0, fmt.Errorf("%w: bad status line %q", ErrProtocolViolation, line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: bad status code in %q", ErrProtocolViolation, line)
	}
	hdr, err := readHeaders(br)
	if err != nil {
		return 0, err
	}
	v := Header(hdr).Get("Content-Length")
	if v == "" {
		return 0, fmt.Errorf("%w: response without Content-Length", ErrProtocolViolation)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad Content-Length %q", ErrProtocolViolation, v)
	}
	if _, err := io.CopyN(io.Discard, br, n); err != nil {
		return 0, err
	}
	return status, nil
}

func readHeaders(br *bufio.Reader) (map[string][]string, error) {
	h := make(map[string][]string)
	for {
		line, err := readLine(br, 8<<10)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: bad header line %q", ErrProtocolViolation, line)
		}
		Header(h).Add(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
	}
	return h, nil
}

func readLine(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", fmt.Errorf("%w: header line too long", ErrProtocolViolation)
		}
	}
	return sb.String(), nil
}
