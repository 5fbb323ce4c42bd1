package piaf

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joprice/piaf/internal/h2"
	"github.com/joprice/piaf/internal/http1"
	"github.com/joprice/piaf/internal/model"
	"github.com/joprice/piaf/internal/obs"
)

// protocol is the capability set both engines satisfy: wrap an established
// transport in a connection and send one request over it.
type protocol interface {
	send(t *Transport, req *model.Request) (*model.Response, error)
}

type http1Protocol struct{}

func (http1Protocol) send(t *Transport, req *model.Request) (*model.Response, error) {
	return http1.NewConn(t.conn).Send(req)
}

type http2Protocol struct{}

func (http2Protocol) send(t *Transport, req *model.Request) (*model.Response, error) {
	cn, err := h2.NewConn(t.conn)
	if err != nil {
		return nil, err
	}
	return cn.Send(req)
}

// Client issues HTTP requests. The zero value is usable; every call dials
// its own transport: there is no pooling and no reuse, two calls to the
// same host open two connections.
type Client struct {
	// TLSConfig overrides the default built by NewTLSConfig. It is shared
	// read-only by every call.
	TLSConfig *tls.Config
	// LocalAddr optionally binds the source address of every transport.
	LocalAddr *net.TCPAddr
	// Resolver defaults to net.DefaultResolver.
	Resolver IPResolver
	// UserAgent is sent when the caller supplies no User-Agent field.
	UserAgent string

	Logger obs.Logger
	Meter  obs.Meter

	tlsOnce sync.Once
	tlsCfg  *tls.Config
}

// Get issues a GET request. See Call.
func (c *Client) Get(ctx context.Context, fields []Field, rawurl string) (*Response, error) {
	return c.Call(ctx, "GET", fields, nil, rawurl)
}

// Call resolves rawurl's scheme, port and address, establishes a transport
// (with a TLS handshake for https), selects a protocol engine from the ALPN
// outcome and sends exactly one request. Stages run strictly in that order
// and the first failure short-circuits. The response body is left for the
// caller to drain.
//
// ctx covers resolution, connect and handshake. No deadlines are imposed by
// the client itself; a silent peer stalls the call unless ctx says
// otherwise.
func (c *Client) Call(ctx context.Context, method string, fields []Field, body []byte, rawurl string) (*Response, error) {
	start := time.Now()
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("piaf: invalid uri: %w", err)
	}

	scheme, err := SchemeOf(u)
	if err != nil {
		c.countError("scheme")
		return nil, err
	}
	port := PortOf(scheme, u)
	host := u.Hostname()
	if host == "" {
		c.countError("resolve")
		return nil, fmt.Errorf("%w: empty host in %q", ErrUnresolvedHost, rawurl)
	}

	addr, err := resolveAddress(ctx, c.resolver(), host, port)
	if err != nil {
		c.countError("resolve")
		return nil, err
	}

	serverName := ""
	if scheme == SchemeHTTPS {
		serverName = host
	}
	t, err := establish(ctx, addr, c.LocalAddr, serverName, c.tlsConfig())
	if err != nil {
		c.countError("connect")
		return nil, err
	}

	negotiated, err := negotiateProtocol(t)
	if err != nil {
		_ = t.Close()
		c.countError("negotiate")
		return nil, err
	}
	c.logf(obs.Debug, "%s %s via %s (addr=%s alpn=%q)", method, rawurl, negotiated, addr, t.alpn)

	var eng protocol
	switch negotiated {
	case ProtoHTTP2:
		eng = http2Protocol{}
	default:
		eng = http1Protocol{}
	}

	req := c.buildRequest(method, fields, body, scheme, u, negotiated)
	mres, err := eng.send(t, req)
	if err != nil {
		c.countError("send")
		return nil, translateEngineError(err)
	}

	c.meter().Counter("piaf_client_requests_total", 1, obs.Label{Key: "method", Value: method})
	c.meter().Histogram("piaf_client_call_duration_ms", float64(time.Since(start).Milliseconds()),
		obs.Label{Key: "method", Value: method},
		obs.Label{Key: "status", Value: fmt.Sprintf("%d", mres.StatusCode)})

	return &Response{
		Status:        mres.Status,
		StatusCode:    mres.StatusCode,
		Proto:         mres.Proto,
		Header:        Header(mres.Header),
		ContentLength: mres.ContentLength,
		Body:          newBody(mres.Body),
	}, nil
}

// buildRequest assembles the wire request. Host identification comes first:
// a Host field for HTTP/1.1, the :authority pseudo-header (written by the
// engine) for HTTP/2, never both, since the h2 engine drops Host fields.
// Caller fields keep their order; identity fields are appended only when
// absent.
func (c *Client) buildRequest(method string, fields []Field, body []byte, scheme Scheme, u *url.URL, negotiated NegotiatedProtocol) *model.Request {
	target := u.RequestURI()
	if target == "" {
		target = "/"
	}
	authority := u.Host

	out := make([]Field, 0, len(fields)+4)
	if negotiated == ProtoHTTP11 {
		out = append(out, Field{Name: "Host", Value: authority})
	}
	var hasUA, hasID, hasTP bool
	for _, f := range fields {
		switch strings.ToLower(f.Name) {
		case "user-agent":
			hasUA = true
		case "x-request-id":
			hasID = true
		case "traceparent":
			hasTP = true
		}
	}
	out = append(out, fields...)
	if !hasUA && c.UserAgent != "" {
		out = append(out, Field{Name: "User-Agent", Value: c.UserAgent})
	}
	if !hasID {
		out = append(out, Field{Name: "X-Request-ID", Value: uuid.NewString()})
	}
	if !hasTP {
		out = append(out, Field{Name: "Traceparent", Value: formatTraceparent(genTraceID(), genSpanID(), "01")})
	}

	return &model.Request{
		Method:    method,
		Scheme:    scheme.String(),
		Authority: authority,
		Target:    target,
		Fields:    out,
		Body:      body,
	}
}

func (c *Client) tlsConfig() *tls.Config {
	c.tlsOnce.Do(func() {
		if c.TLSConfig != nil {
			c.tlsCfg = c.TLSConfig
		} else {
			c.tlsCfg = NewTLSConfig()
		}
	})
	return c.tlsCfg
}

func (c *Client) resolver() IPResolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return net.DefaultResolver
}

func (c *Client) logf(level obs.Level, format string, args ...interface{}) {
	lg := c.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

func (c *Client) meter() obs.Meter {
	if c.Meter != nil {
		return c.Meter
	}
	return obs.NopMeter{}
}

func (c *Client) countError(stage string) {
	c.meter().Counter("piaf_client_requests_error", 1, obs.Label{Key: "stage", Value: stage})
}
