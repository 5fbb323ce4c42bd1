package http1

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/joprice/piaf/internal/model"
)

// writeRequest serializes the request line, the fields in their given order
// (host identification first, the dispatcher guarantees that), an inferred
// Content-Length when a body is present, and the body.
func writeRequest(bw *bufio.Writer, req *model.Request) error {
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", req.Method, req.Target); err != nil {
		return err
	}
	hasCL := false
	for _, f := range req.Fields {
		if strings.EqualFold(f.Name, "Content-Length") {
			hasCL = true
		}
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, sanitizeFieldValue(f.Value)); err != nil {
			return err
		}
	}
	if req.Body != nil && !hasCL {
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", len(req.Body)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return err
	}
	if len(req.Body) > 0 {
		if _, err := bw.Write(req.Body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func sanitizeFieldValue(v string) string {
	if v == "" {
		return v
	}
	// Remove CR/LF and other control chars except HTAB
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f {
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
