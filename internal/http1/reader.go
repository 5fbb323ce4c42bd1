package http1

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/joprice/piaf/internal/model"
)

// readResponse parses a response off br. Body framing follows, in order:
// statuses that carry no body, Transfer-Encoding: chunked, Content-Length,
// and finally close-delimited (read to EOF).
func readResponse(br *bufio.Reader, method string) (*model.Response, error) {
	proto, code, reason, err := readStatusLine(br)
	if err != nil {
		return nil, err
	}
	hdr, err := readHeaders(br)
	if err != nil {
		return nil, err
	}

	var body io.ReadCloser
	var cl int64 = -1
	switch {
	case noResponseBody(code, method):
		body = io.NopCloser(strings.NewReader(""))
		cl = 0
	case hasChunkedTE(hdr):
		body = newChunkedBody(br, maxHeaderLine)
	default:
		if v := getHeader(hdr, "Content-Length"); v != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidBodyLength, v)
			}
			cl = n
			if cl == 0 {
				body = io.NopCloser(strings.NewReader(""))
			} else {
				body = &limitedBody{lr: &io.LimitedReader{R: br, N: cl}, want: cl}
			}
		} else {
			// Close-delimited: the peer signals the end by closing.
			body = io.NopCloser(br)
		}
	}

	return &model.Response{
		StatusCode:    code,
		Status:        fmt.Sprintf("%d %s", code, reason),
		Proto:         proto,
		Header:        hdr,
		ContentLength: cl,
		Body:          body,
	}, nil
}

func readStatusLine(br *bufio.Reader) (proto string, code int, reason string, err error) {
	line, err := readLine(br, maxHeaderLine)
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("%w: status line %q", ErrMalformedResponse, line)
	}
	proto = parts[0]
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return "", 0, "", fmt.Errorf("%w: protocol %q", ErrMalformedResponse, proto)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 599 {
		return "", 0, "", fmt.Errorf("%w: status %q", ErrMalformedResponse, parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return proto, code, reason, nil
}

func readHeaders(br *bufio.Reader) (map[string][]string, error) {
	h := make(map[string][]string)
	for {
		line, err := readLine(br, maxHeaderLine)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if line == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: header %q", ErrMalformedResponse, line)
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		addHeader(h, k, v)
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
			return "", ErrHeaderTooLarge
		}
	}
	return sb.String(), nil
}

// noResponseBody reports whether the exchange cannot carry a body.
func noResponseBody(status int, method string) bool {
	if method == "HEAD" {
		return true
	}
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}

// limitedBody enforces an exact Content-Length.
type limitedBody struct {
	lr   *io.LimitedReader
	want int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.lr.Read(p)
	if err == io.EOF && b.lr.N > 0 {
		// Peer closed before delivering the advertised length.
		return n, fmt.Errorf("%w: %d bytes short", ErrInvalidBodyLength, b.lr.N)
	}
	return n, err
}

func (b *limitedBody) Close() error { return nil }

func addHeader(h map[string][]string, k, v string) {
	hk := canonicalHeaderKey(k)
	h[hk] = append(h[hk], v)
}

func getHeader(h map[string][]string, k string) string {
	hk := canonicalHeaderKey(k)
	if vv, ok := h[hk]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

func hasChunkedTE(h map[string][]string) bool {
	hk := canonicalHeaderKey("Transfer-Encoding")
	if vv, ok := h[hk]; ok {
		for _, v := range vv {
			if strings.Contains(strings.ToLower(v), "chunked") {
				return true
			}
		}
	}
	return false
}

// Very small canonicalizer to avoid importing textproto here.
func canonicalHeaderKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = byte(c - 'a' + 'A')
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}
