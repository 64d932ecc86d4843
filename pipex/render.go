package pipex

import (
	"bytes"
	"fmt"
)

// renderReply builds the fixed reply for one parsed request. The byte
// layout is the tool's wire contract: clients key on the X-Connection,
// X-Request and X-Reply headers to verify ordering, and Content-Length
// is the length of the rendered html body, trailing newline included.
func renderReply(connID, requestID, seq int) []byte {
	body := fmt.Sprintf("Reply %d on connection %d for request #%d", seq, connID, requestID)
	html := "<html><body>" + body + "</body></html>\n"

	var b bytes.Buffer
	b.Grow(len(html) + 160)
	b.WriteString("HTTP/1.1 200 OK\r\n")
	b.WriteString("Keep-Alive: timeout=10 max=400\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(html))
	b.WriteString("Content-Type: text/html\r\n")
	fmt.Fprintf(&b, "X-Connection: %d\r\n", connID)
	fmt.Fprintf(&b, "X-Request: %d\r\n", requestID)
	fmt.Fprintf(&b, "X-Reply: %d\r\n", seq)
	b.WriteString("\r\n")
	b.WriteString(html)
	return b.Bytes()
}
