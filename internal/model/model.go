// Package model holds the wire-level request/response types shared by the
// protocol engines. The public piaf package aliases what it exposes.
package model

import (
	"io"
	"strconv"
)

// Field is one request header field. Order is significant: the host
// identification field (Host or :authority) always comes first, so the
// engines receive fields as a slice rather than a map.
type Field struct {
	Name  string
	Value string
}

// Request is a prepared wire request. Fields already include the
// protocol-appropriate host identification where the engine expects it
// in-band (HTTP/1.1); for HTTP/2 the engine derives :authority from
// Authority and ignores any Host field.
type Request struct {
	Method    string
	Scheme    string // "http" or "https", for the :scheme pseudo-header
	Authority string // host[:port] as it appeared in the URI
	Target    string // path plus query, never empty
	Fields    []Field
	Body      []byte
}

// Response is what an engine hands back. Header keys are canonicalized by
// the engine. Body is a live handle backed by the transport; closing it
// closes the transport, since connections are never reused.
type Response struct {
	StatusCode    int
	Status        string // "200 OK"
	Proto         string // "HTTP/1.1" or "HTTP/2.0"
	Header        map[string][]string
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// ProtocolError is a failure reported by the peer's protocol engine with a
// code attached (HTTP/2 RST_STREAM or GOAWAY). It survives translation so
// callers can branch on the code.
type ProtocolError struct {
	Code   uint32
	Reason string
}

func (e *ProtocolError) Error() string {
	return "piaf: protocol error " + strconv.FormatUint(uint64(e.Code), 10) + ": " + e.Reason
}
