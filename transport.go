package piaf

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// NewTLSConfig returns the client TLS configuration shared by every
// transport: legacy SSL/TLS versions excluded and the fixed ALPN preference
// list proposed on every handshake. It is built once per Client and treated
// as read-only afterwards.
func NewTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{alpnHTTP2, alpnHTTP11},
	}
}

// Transport is one established connection, exclusively owned by the call
// that dialed it. Its lifetime ends when the protocol engine (via the
// response body) closes it or the call fails.
type Transport struct {
	conn net.Conn
	tls  bool
	alpn string
}

// ALPN returns the protocol negotiated during the TLS handshake, or "" for
// plaintext transports and handshakes where the server picked nothing.
func (t *Transport) ALPN() string { return t.alpn }

func (t *Transport) Close() error { return t.conn.Close() }

// establish opens a TCP connection to addr, optionally bound to local, and
// when serverName is non-empty performs a TLS client handshake with SNI set
// to serverName and cfg's ALPN list proposed. A handshake failure is fatal
// to the call, never retried.
func establish(ctx context.Context, addr *net.TCPAddr, local *net.TCPAddr, serverName string, cfg *tls.Config) (*Transport, error) {
	d := net.Dialer{}
	if local != nil {
		d.LocalAddr = local
	}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, addr, err)
	}
	if serverName == "" {
		return &Transport{conn: conn}, nil
	}
	tcfg := cfg.Clone()
	tcfg.ServerName = serverName
	if len(tcfg.NextProtos) == 0 {
		tcfg.NextProtos = []string{alpnHTTP2, alpnHTTP11}
	}
	tc := tls.Client(conn, tcfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrTLSHandshake, serverName, err)
	}
	return &Transport{conn: tc, tls: true, alpn: tc.ConnectionState().NegotiatedProtocol}, nil
}
