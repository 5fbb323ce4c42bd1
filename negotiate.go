package piaf

import "fmt"

// NegotiatedProtocol identifies which protocol engine serves an exchange.
type NegotiatedProtocol int

const (
	ProtoHTTP11 NegotiatedProtocol = iota
	ProtoHTTP2
)

const (
	alpnHTTP2  = "h2"
	alpnHTTP11 = "http/1.1"
)

func (p NegotiatedProtocol) String() string {
	if p == ProtoHTTP2 {
		return "HTTP/2"
	}
	return "HTTP/1.1"
}

// negotiateProtocol applies the ALPN decision table. Plaintext transports
// are HTTP/1.1 unconditionally; an empty ALPN result falls back to HTTP/1.1;
// a value outside the offered list means the TLS stack broke its contract
// and is reported as ErrProtocolNegotiation rather than guessed around.
func negotiateProtocol(t *Transport) (NegotiatedProtocol, error) {
	if !t.tls {
		return ProtoHTTP11, nil
	}
	switch t.alpn {
	case "", alpnHTTP11:
		return ProtoHTTP11, nil
	case alpnHTTP2:
		return ProtoHTTP2, nil
	}
	return 0, fmt.Errorf("%w: alpn %q", ErrProtocolNegotiation, t.alpn)
}
