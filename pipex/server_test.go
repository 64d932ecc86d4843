package pipex

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

// startTestServer serves on a loopback listener and shuts down with the
// test.
func startTestServer(t *testing.T) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{}
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return ln.Addr().String()
}

func TestServerPipeliningOverTCP(t *testing.T) {
	addr := startTestServer(t)
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	br := bufio.NewReader(c)

	if _, err := c.Write([]byte(request(1, 0) + request(2, 0) + request(3, 0))); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 1; i <= 3; i++ {
		xreq, xreply := readOneReply(t, br)
		if xreq != strconv.Itoa(i) || xreply != strconv.Itoa(i) {
			t.Fatalf("reply %d: X-Request=%s X-Reply=%s", i, xreq, xreply)
		}
	}
}

func TestServerDelayedReplyOrderingOverTCP(t *testing.T) {
	addr := startTestServer(t)
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	br := bufio.NewReader(c)

	start := time.Now()
	if _, err := c.Write([]byte(request(1, 200) + request(2, 0))); err != nil {
		t.Fatalf("write: %v", err)
	}
	xreq, _ := readOneReply(t, br)
	if xreq != "1" {
		t.Fatalf("first reply answers request %s, want 1", xreq)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("delayed head released after %v", elapsed)
	}
	if xreq, _ := readOneReply(t, br); xreq != "2" {
		t.Fatalf("second reply answers request %s, want 2", xreq)
	}
}

func TestServerConnectionsAreIndependent(t *testing.T) {
	addr := startTestServer(t)

	c1, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c1.Close()
	c2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c2.Close()

	// A delayed reply on one connection must not gate the other.
	if _, err := c1.Write([]byte(request(1, 500))); err != nil {
		t.Fatalf("write: %v", err)
	}
	start := time.Now()
	if _, err := c2.Write([]byte(request(9, 0))); err != nil {
		t.Fatalf("write: %v", err)
	}
	xreq, xreply := readOneReply(t, bufio.NewReader(c2))
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("independent connection gated for %v", elapsed)
	}
	if xreq != "9" || xreply != "1" {
		t.Fatalf("X-Request=%s X-Reply=%s", xreq, xreply)
	}
}

func TestServerShutdownDropsPendingReplies(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{}
	go func() { _ = s.Serve(ln) }()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte(request(1, 5000))); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Let the request reach the reply queue before shutting down.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
