// Package http1 is the HTTP/1.1 protocol engine: it writes one request over
// an established transport and parses the response off the same connection.
// Connections are never reused; closing the response body closes the
// transport.
package http1

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/joprice/piaf/internal/model"
)

var (
	ErrMalformedResponse = errors.New("http1: malformed response")
	ErrInvalidBodyLength = errors.New("http1: invalid response body length")
	ErrHeaderTooLarge    = errors.New("http1: header too large")
)

// maxHeaderLine bounds a single status or header line.
const maxHeaderLine = 8 << 10

type Conn struct {
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

// NewConn wraps an established transport connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

// Send writes req and reads its response. Exactly one exchange happens per
// connection. On error the connection is closed; on success ownership of the
// connection moves to the response body.
func (cn *Conn) Send(req *model.Request) (*model.Response, error) {
	if err := writeRequest(cn.bw, req); err != nil {
		_ = cn.c.Close()
		return nil, err
	}
	res, err := readResponse(cn.br, req.Method)
	if err != nil {
		_ = cn.c.Close()
		return nil, err
	}
	res.Body = &connBody{rc: res.Body, c: cn.c}
	return res, nil
}

// connBody ties the body's lifetime to the connection's.
type connBody struct {
	rc     io.ReadCloser
	c      net.Conn
	closed bool
}

func (b *connBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, io.EOF
	}
	return b.rc.Read(p)
}

func (b *connBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	_ = b.rc.Close()
	return b.c.Close()
}
