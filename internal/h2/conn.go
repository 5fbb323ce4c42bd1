// Package h2 is the HTTP/2 protocol engine. It drives golang.org/x/net/http2
// framing over an established transport: one connection, one stream, one
// exchange. The response body is pull-based: each Read services frames off
// the wire until a DATA fragment or end-of-stream arrives.
package h2

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/joprice/piaf/internal/model"
)

var ErrMalformedResponse = errors.New("h2: malformed response")

const (
	initialWindowSize = 65535
	maxFrameSize      = 16384
	headerTableSize   = 4096

	// The connection carries exactly one exchange, so the first
	// client-initiated stream ID is the only one ever used.
	streamID = 1
)

type Conn struct {
	c    net.Conn
	fr   *http2.Framer
	henc *hpack.Encoder
	hbuf bytes.Buffer

	// Send-direction flow control, updated by server SETTINGS and
	// WINDOW_UPDATE frames. initialWindow is the peer's last-announced
	// SETTINGS_INITIAL_WINDOW_SIZE; window adjustments are deltas against it.
	maxFrame      uint32
	connWindow    int64
	streamWindow  int64
	initialWindow uint32

	closed bool
}

// stream accumulates the response as frames arrive.
type stream struct {
	status     int
	header     map[string][]string
	headerDone bool
	pending    []byte // received DATA not yet consumed by the body reader
	ended      bool
}

// NewConn performs the client half of connection setup: preface and a
// SETTINGS frame with server push disabled. The server's SETTINGS are
// applied as they arrive during the exchange.
func NewConn(c net.Conn) (*Conn, error) {
	cn := &Conn{
		c:             c,
		maxFrame:      maxFrameSize,
		connWindow:    initialWindowSize,
		streamWindow:  initialWindowSize,
		initialWindow: initialWindowSize,
	}
	cn.henc = hpack.NewEncoder(&cn.hbuf)
	if _, err := io.WriteString(c, http2.ClientPreface); err != nil {
		_ = c.Close()
		return nil, err
	}
	fr := http2.NewFramer(c, c)
	fr.ReadMetaHeaders = hpack.NewDecoder(headerTableSize, nil)
	cn.fr = fr
	if err := fr.WriteSettings(http2.Setting{ID: http2.SettingEnablePush, Val: 0}); err != nil {
		_ = c.Close()
		return nil, err
	}
	return cn, nil
}

// Send writes the request as HEADERS (+DATA) on stream 1 and services frames
// until the response headers are complete. Ownership of the connection moves
// to the response body.
func (cn *Conn) Send(req *model.Request) (*model.Response, error) {
	block, err := cn.encodeHeaders(req)
	if err != nil {
		cn.close()
		return nil, err
	}
	endStream := len(req.Body) == 0
	if err := cn.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndStream:     endStream,
		EndHeaders:    true,
	}); err != nil {
		cn.close()
		return nil, err
	}

	st := &stream{}
	if !endStream {
		if err := cn.sendData(st, req.Body); err != nil {
			cn.close()
			return nil, err
		}
	}
	for !st.headerDone {
		if err := cn.readFrame(st); err != nil {
			cn.close()
			return nil, err
		}
	}

	cl := int64(-1)
	if v := headerValue(st.header, "Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cl = n
		}
	}
	return &model.Response{
		StatusCode:    st.status,
		Status:        fmt.Sprintf("%d %s", st.status, http.StatusText(st.status)),
		Proto:         "HTTP/2.0",
		Header:        st.header,
		ContentLength: cl,
		Body:          &streamBody{cn: cn, st: st},
	}, nil
}

// encodeHeaders serializes the pseudo-headers followed by the caller fields.
// :authority replaces any Host field; connection-specific fields are
// stripped per RFC 9113 §8.2.2.
func (cn *Conn) encodeHeaders(req *model.Request) ([]byte, error) {
	cn.hbuf.Reset()
	pseudo := []hpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":scheme", Value: req.Scheme},
		{Name: ":authority", Value: req.Authority},
		{Name: ":path", Value: req.Target},
	}
	for _, hf := range pseudo {
		if err := cn.henc.WriteField(hf); err != nil {
			return nil, err
		}
	}
	hasCL := false
	for _, f := range req.Fields {
		name := strings.ToLower(f.Name)
		switch name {
		case "host", "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade":
			continue
		}
		if name == "content-length" {
			hasCL = true
		}
		if err := cn.henc.WriteField(hpack.HeaderField{Name: name, Value: f.Value}); err != nil {
			return nil, err
		}
	}
	if len(req.Body) > 0 && !hasCL {
		if err := cn.henc.WriteField(hpack.HeaderField{Name: "content-length", Value: strconv.Itoa(len(req.Body))}); err != nil {
			return nil, err
		}
	}
	out := make([]byte, cn.hbuf.Len())
	copy(out, cn.hbuf.Bytes())
	return out, nil
}

// sendData writes DATA frames for the request body, blocking on the
// connection and stream send windows. Window credit arrives via frames, so
// exhaustion is serviced by reading.
func (cn *Conn) sendData(st *stream, data []byte) error {
	for len(data) > 0 {
		for cn.connWindow <= 0 || cn.streamWindow <= 0 {
			if err := cn.readFrame(st); err != nil {
				return err
			}
		}
		chunk := int64(len(data))
		if chunk > int64(cn.maxFrame) {
			chunk = int64(cn.maxFrame)
		}
		if chunk > cn.connWindow {
			chunk = cn.connWindow
		}
		if chunk > cn.streamWindow {
			chunk = cn.streamWindow
		}
		last := chunk == int64(len(data))
		if err := cn.fr.WriteData(streamID, last, data[:chunk]); err != nil {
			return err
		}
		cn.connWindow -= chunk
		cn.streamWindow -= chunk
		data = data[chunk:]
	}
	return nil
}

// readFrame services exactly one frame, updating st and the send windows.
func (cn *Conn) readFrame(st *stream) error {
	frame, err := cn.fr.ReadFrame()
	if err != nil {
		var se http2.StreamError
		if errors.As(err, &se) {
			return &model.ProtocolError{Code: uint32(se.Code), Reason: "stream error from peer"}
		}
		var ce http2.ConnectionError
		if errors.As(err, &ce) {
			return &model.ProtocolError{Code: uint32(ce), Reason: "connection error from peer"}
		}
		return err
	}

	switch f := frame.(type) {
	case *http2.SettingsFrame:
		if f.IsAck() {
			return nil
		}
		if err := f.ForeachSetting(func(s http2.Setting) error {
			switch s.ID {
			case http2.SettingInitialWindowSize:
				// RFC 9113 §6.9.2: adjust by the difference from the
				// previous announcement, not from the protocol default.
				delta := int64(s.Val) - int64(cn.initialWindow)
				cn.initialWindow = s.Val
				cn.streamWindow += delta
			case http2.SettingMaxFrameSize:
				cn.maxFrame = s.Val
			case http2.SettingHeaderTableSize:
				cn.henc.SetMaxDynamicTableSize(s.Val)
			}
			return nil
		}); err != nil {
			return err
		}
		return cn.fr.WriteSettingsAck()

	case *http2.PingFrame:
		if !f.IsAck() {
			return cn.fr.WritePing(true, f.Data)
		}

	case *http2.WindowUpdateFrame:
		if f.Header().StreamID == 0 {
			cn.connWindow += int64(f.Increment)
		} else if f.Header().StreamID == streamID {
			cn.streamWindow += int64(f.Increment)
		}

	case *http2.GoAwayFrame:
		return &model.ProtocolError{Code: uint32(f.ErrCode), Reason: "peer sent GOAWAY (" + f.ErrCode.String() + ")"}

	case *http2.RSTStreamFrame:
		if f.Header().StreamID == streamID {
			return &model.ProtocolError{Code: uint32(f.ErrCode), Reason: "peer reset stream (" + f.ErrCode.String() + ")"}
		}

	case *http2.MetaHeadersFrame:
		if f.Header().StreamID != streamID {
			return nil
		}
		return cn.applyHeaders(st, f)

	case *http2.DataFrame:
		if f.Header().StreamID != streamID {
			return nil
		}
		if !st.headerDone {
			return fmt.Errorf("%w: DATA before response headers", ErrMalformedResponse)
		}
		if data := f.Data(); len(data) > 0 {
			st.pending = append(st.pending, data...)
			// Replenish receive credit immediately; the accumulated
			// buffer is the backpressure-free sink the reader drains.
			if err := cn.fr.WriteWindowUpdate(0, uint32(len(data))); err != nil {
				return err
			}
			if !f.StreamEnded() {
				if err := cn.fr.WriteWindowUpdate(streamID, uint32(len(data))); err != nil {
					return err
				}
			}
		}
		if f.StreamEnded() {
			st.ended = true
		}
	}
	return nil
}

func (cn *Conn) applyHeaders(st *stream, f *http2.MetaHeadersFrame) error {
	if st.headerDone {
		// Trailers: field values are ignored, end-of-stream is not.
		if f.StreamEnded() {
			st.ended = true
		}
		return nil
	}
	status := 0
	hdr := make(map[string][]string)
	for _, hf := range f.Fields {
		if hf.Name == ":status" {
			n, err := strconv.Atoi(hf.Value)
			if err != nil {
				return fmt.Errorf("%w: :status %q", ErrMalformedResponse, hf.Value)
			}
			status = n
			continue
		}
		if !strings.HasPrefix(hf.Name, ":") {
			key := http.CanonicalHeaderKey(hf.Name)
			hdr[key] = append(hdr[key], hf.Value)
		}
	}
	if status == 0 {
		return fmt.Errorf("%w: missing :status", ErrMalformedResponse)
	}
	if status >= 100 && status < 200 {
		// Informational response; its fields are discarded and the final
		// headers are still to come.
		return nil
	}
	st.status = status
	st.header = hdr
	st.headerDone = true
	if f.StreamEnded() {
		st.ended = true
	}
	return nil
}

func (cn *Conn) close() {
	if cn.closed {
		return
	}
	cn.closed = true
	// Best effort goodbye before tearing the transport down. A client's
	// last-stream-ID counts server-initiated streams, of which there are none.
	_ = cn.fr.WriteGoAway(0, http2.ErrCodeNo, nil)
	_ = cn.c.Close()
}

// streamBody is the pull-based response body: each Read drains buffered
// DATA, servicing frames off the wire while none is available.
type streamBody struct {
	cn     *Conn
	st     *stream
	closed bool
}

func (b *streamBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, io.EOF
	}
	for len(b.st.pending) == 0 {
		if b.st.ended {
			return 0, io.EOF
		}
		if err := b.cn.readFrame(b.st); err != nil {
			return 0, err
		}
	}
	n := copy(p, b.st.pending)
	b.st.pending = b.st.pending[n:]
	return n, nil
}

func (b *streamBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.cn.close()
	return nil
}

func headerValue(h map[string][]string, key string) string {
	if vv, ok := h[http.CanonicalHeaderKey(key)]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}
