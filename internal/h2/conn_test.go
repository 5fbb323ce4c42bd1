package h2

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/joprice/piaf/internal/model"
)

// rawPeer is the server half of a pipe driven frame by frame from the test.
type rawPeer struct {
	conn net.Conn
	fr   *http2.Framer
	henc *hpack.Encoder
	hbuf bytes.Buffer
}

func newRawPeer(t *testing.T) (net.Conn, *rawPeer) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	p := &rawPeer{conn: server, fr: http2.NewFramer(server, server)}
	p.henc = hpack.NewEncoder(&p.hbuf)
	return client, p
}

func (p *rawPeer) readPreface() error {
	buf := make([]byte, len(http2.ClientPreface))
	_, err := io.ReadFull(p.conn, buf)
	return err
}

func (p *rawPeer) headerBlock(fields ...hpack.HeaderField) []byte {
	p.hbuf.Reset()
	for _, f := range fields {
		_ = p.henc.WriteField(f)
	}
	out := make([]byte, p.hbuf.Len())
	copy(out, p.hbuf.Bytes())
	return out
}

// serveH2 runs a real HTTP/2 server on the far end of a pipe. The server's
// frame reader runs on its own goroutine, so the synchronous client side
// never deadlocks against it.
func serveH2(t *testing.T, handler http.Handler) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	go func() {
		srv := &http2.Server{}
		srv.ServeConn(server, &http2.ServeConnOpts{Handler: handler})
	}()
	return client
}

func TestConnSend_Get(t *testing.T) {
	var gotHost, gotPath string
	conn := serveH2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotPath = r.URL.RequestURI()
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		_, _ = io.WriteString(w, "hello h2")
	}))

	cn, err := NewConn(conn)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	res, err := cn.Send(&model.Request{
		Method:    "GET",
		Scheme:    "https",
		Authority: "example.com",
		Target:    "/greeting?x=1",
		Fields: []model.Field{
			{Name: "Host", Value: "dropped.example"},
			{Name: "Accept", Value: "text/plain"},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("StatusCode = %d", res.StatusCode)
	}
	if res.Proto != "HTTP/2.0" {
		t.Fatalf("Proto = %q", res.Proto)
	}
	if got := res.Header["Content-Type"]; len(got) != 1 || got[0] != "text/plain" {
		t.Fatalf("Content-Type = %v", got)
	}
	if got := res.Header["Set-Cookie"]; len(got) != 2 {
		t.Fatalf("Set-Cookie = %v", got)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello h2" {
		t.Fatalf("body = %q", body)
	}
	_ = res.Body.Close()

	if gotHost != "example.com" {
		t.Fatalf("server saw host %q, want authority", gotHost)
	}
	if gotPath != "/greeting?x=1" {
		t.Fatalf("server saw path %q", gotPath)
	}
}

func TestConnSend_PostBody(t *testing.T) {
	var gotCL string
	conn := serveH2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCL = r.Header.Get("Content-Length")
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(b)
	}))

	cn, err := NewConn(conn)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	res, err := cn.Send(&model.Request{
		Method:    "POST",
		Scheme:    "https",
		Authority: "example.com",
		Target:    "/echo",
		Body:      []byte("round and round"),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != 201 {
		t.Fatalf("StatusCode = %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "round and round" {
		t.Fatalf("body = %q", body)
	}
	_ = res.Body.Close()

	if gotCL != "15" {
		t.Fatalf("server saw Content-Length %q, want 15", gotCL)
	}
}

func TestConnSend_GoAway(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	go func() {
		// A minimal peer: swallow the preface, SETTINGS and HEADERS, then
		// refuse the connection.
		preface := make([]byte, len(http2.ClientPreface))
		if _, err := io.ReadFull(server, preface); err != nil {
			return
		}
		fr := http2.NewFramer(server, server)
		for i := 0; i < 2; i++ {
			if _, err := fr.ReadFrame(); err != nil {
				return
			}
		}
		_ = fr.WriteGoAway(0, http2.ErrCodeProtocol, nil)
	}()

	cn, err := NewConn(client)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	_, err = cn.Send(&model.Request{
		Method:    "GET",
		Scheme:    "https",
		Authority: "example.com",
		Target:    "/",
	})
	var pe *model.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if pe.Code != uint32(http2.ErrCodeProtocol) {
		t.Fatalf("Code = %d, want %d", pe.Code, http2.ErrCodeProtocol)
	}
}

func TestConnSend_RSTStream(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	go func() {
		preface := make([]byte, len(http2.ClientPreface))
		if _, err := io.ReadFull(server, preface); err != nil {
			return
		}
		fr := http2.NewFramer(server, server)
		for i := 0; i < 2; i++ {
			if _, err := fr.ReadFrame(); err != nil {
				return
			}
		}
		_ = fr.WriteRSTStream(1, http2.ErrCodeRefusedStream)
	}()

	cn, err := NewConn(client)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	_, err = cn.Send(&model.Request{
		Method:    "GET",
		Scheme:    "https",
		Authority: "example.com",
		Target:    "/",
	})
	var pe *model.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if pe.Code != uint32(http2.ErrCodeRefusedStream) {
		t.Fatalf("Code = %d, want %d", pe.Code, http2.ErrCodeRefusedStream)
	}
}

func TestConnSend_BodyCloseReleasesConn(t *testing.T) {
	done := make(chan struct{})
	conn := serveH2(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "partial payload the caller never drains")
	}))

	cn, err := NewConn(conn)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	res, err := cn.Send(&model.Request{
		Method:    "GET",
		Scheme:    "https",
		Authority: "example.com",
		Target:    "/",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	go func() {
		_ = res.Body.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	if _, err := res.Body.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read after close = %v, want EOF", err)
	}
}

func TestReadFrame_ReannouncedInitialWindow(t *testing.T) {
	client, peer := newRawPeer(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := peer.readPreface(); err != nil {
			return
		}
		if _, err := peer.fr.ReadFrame(); err != nil {
			return
		}
		// Re-announcing the same value is legal and must leave the window
		// at that value, not shrink it.
		for i := 0; i < 2; i++ {
			if err := peer.fr.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: 100}); err != nil {
				return
			}
			if _, err := peer.fr.ReadFrame(); err != nil {
				return
			}
		}
	}()

	cn, err := NewConn(client)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	st := &stream{}
	for i := 0; i < 2; i++ {
		if err := cn.readFrame(st); err != nil {
			t.Fatalf("readFrame: %v", err)
		}
	}
	<-done
	if cn.streamWindow != 100 {
		t.Fatalf("streamWindow = %d after two SETTINGS(InitialWindowSize=100), want 100", cn.streamWindow)
	}
	if cn.connWindow != initialWindowSize {
		t.Fatalf("connWindow = %d, want untouched %d", cn.connWindow, initialWindowSize)
	}
}

func TestConnSend_InterimHeadersDiscarded(t *testing.T) {
	client, peer := newRawPeer(t)
	go func() {
		if err := peer.readPreface(); err != nil {
			return
		}
		for i := 0; i < 2; i++ {
			if _, err := peer.fr.ReadFrame(); err != nil {
				return
			}
		}
		_ = peer.fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID: 1,
			BlockFragment: peer.headerBlock(
				hpack.HeaderField{Name: ":status", Value: "103"},
				hpack.HeaderField{Name: "link", Value: "</style.css>; rel=preload"},
			),
			EndHeaders: true,
		})
		_ = peer.fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID: 1,
			BlockFragment: peer.headerBlock(
				hpack.HeaderField{Name: ":status", Value: "200"},
				hpack.HeaderField{Name: "content-type", Value: "text/plain"},
			),
			EndStream:  true,
			EndHeaders: true,
		})
	}()

	cn, err := NewConn(client)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	res, err := cn.Send(&model.Request{
		Method:    "GET",
		Scheme:    "https",
		Authority: "example.com",
		Target:    "/",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("StatusCode = %d", res.StatusCode)
	}
	if _, ok := res.Header["Link"]; ok {
		t.Fatalf("interim response fields leaked into final headers: %v", res.Header)
	}
	if got := res.Header["Content-Type"]; len(got) != 1 || got[0] != "text/plain" {
		t.Fatalf("Content-Type = %v", got)
	}
}

func TestConnClose_GoAwayLastStreamZero(t *testing.T) {
	client, peer := newRawPeer(t)
	lastCh := make(chan uint32, 1)
	go func() {
		if err := peer.readPreface(); err != nil {
			return
		}
		for i := 0; i < 2; i++ {
			if _, err := peer.fr.ReadFrame(); err != nil {
				return
			}
		}
		_ = peer.fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      1,
			BlockFragment: peer.headerBlock(hpack.HeaderField{Name: ":status", Value: "200"}),
			EndStream:     true,
			EndHeaders:    true,
		})
		for {
			f, err := peer.fr.ReadFrame()
			if err != nil {
				return
			}
			if ga, ok := f.(*http2.GoAwayFrame); ok {
				lastCh <- ga.LastStreamID
				return
			}
		}
	}()

	cn, err := NewConn(client)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	res, err := cn.Send(&model.Request{
		Method:    "GET",
		Scheme:    "https",
		Authority: "example.com",
		Target:    "/",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = res.Body.Close()

	select {
	case last := <-lastCh:
		if last != 0 {
			t.Fatalf("GOAWAY last-stream-id = %d, want 0 (no server-initiated streams)", last)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never saw GOAWAY")
	}
}
