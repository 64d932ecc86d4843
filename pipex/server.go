package pipex

import (
	"context"
	"net"
	"sync"

	"dqx0.com/go/pipeline/internal/obs"
)

const defaultReadBufferSize = 8 << 10

// Server accepts any number of connections and keeps each alive,
// answering one fixed reply per received "\r\n\r\n" terminator so
// HTTP/1.1 pipelining can be exercised. Replies are delivered strictly
// in request order per connection, delayed when the request carried an
// X-Sleep header.
//
// Connections are tracked in a table keyed by instance id; outstanding
// delay timers carry the id rather than a reference, so a timer firing
// after its connection closed is a no-op.
type Server struct {
	Addr           string
	Logger         obs.Logger
	Meter          obs.Meter
	ReadBufferSize int

	mu         sync.Mutex
	ln         net.Listener
	conns      map[int]*conn
	nextID     int
	inShutdown bool
	wg         sync.WaitGroup
}

func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":9001"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.ln = l
	if s.conns == nil {
		s.conns = make(map[int]*conn)
	}
	s.mu.Unlock()
	s.logger().Logf(obs.Info, "listening on %s", l.Addr())

	for {
		rwc, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return nil
			}
			return err
		}
		c := s.registerConn(rwc)
		if c == nil {
			_ = rwc.Close()
			return nil
		}
		s.logger().Logf(obs.Info, "#%d: accepted a new client (%s)", c.id, rwc.RemoteAddr())
		s.meter().Counter("pipex_server_connections_total", 1)
		s.wg.Add(1)
		go c.readLoop()
	}
}

// Shutdown closes the listener and every live connection, dropping any
// queued replies, then waits for the connection read loops to exit or
// ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.inShutdown = true
	ln := s.ln
	live := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		live = append(live, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range live {
		c.teardown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// replyReady is the delay-timer path: look the connection up by id and
// resume its queue from the woken reply forward. A connection that is
// gone or closed makes this a no-op.
func (s *Server) replyReady(connID, seq int) {
	s.mu.Lock()
	c := s.conns[connID]
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.sched.wake(seq)
	c.sched.flush()
}

func (s *Server) registerConn(rwc net.Conn) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inShutdown {
		return nil
	}
	s.nextID++
	c := newConn(s, s.nextID, rwc)
	s.conns[c.id] = c
	return c
}

func (s *Server) removeConn(id int) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) connDone() { s.wg.Done() }

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inShutdown
}

func (s *Server) readBufferSize() int {
	if s.ReadBufferSize > 0 {
		return s.ReadBufferSize
	}
	return defaultReadBufferSize
}

func (s *Server) logger() obs.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return obs.NopLogger{}
}

func (s *Server) meter() obs.Meter {
	if s.Meter != nil {
		return s.Meter
	}
	return obs.NopMeter{}
}
