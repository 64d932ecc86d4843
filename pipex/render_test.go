package pipex

import (
	"strconv"
	"strings"
	"testing"
)

func TestRenderReply_ExactBytes(t *testing.T) {
	got := string(renderReply(2, 5, 3))
	want := "HTTP/1.1 200 OK\r\n" +
		"Keep-Alive: timeout=10 max=400\r\n" +
		"Content-Length: 65\r\n" +
		"Content-Type: text/html\r\n" +
		"X-Connection: 2\r\n" +
		"X-Request: 5\r\n" +
		"X-Reply: 3\r\n" +
		"\r\n" +
		"<html><body>Reply 3 on connection 2 for request #5</body></html>\n"
	if got != want {
		t.Fatalf("rendered reply mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestRenderReply_ContentLengthMatchesBody(t *testing.T) {
	raw := string(renderReply(11, 222, 3333))
	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	if !ok {
		t.Fatal("no header/body separator")
	}
	var cl int
	for _, line := range strings.Split(head, "\r\n") {
		if v, found := strings.CutPrefix(line, "Content-Length: "); found {
			n, err := strconv.Atoi(v)
			if err != nil {
				t.Fatalf("bad Content-Length %q", v)
			}
			cl = n
		}
	}
	if cl != len(body) {
		t.Fatalf("Content-Length=%d, body=%d bytes", cl, len(body))
	}
}
