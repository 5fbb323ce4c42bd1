// Package piaf is a small HTTP client core: it turns a URI and request
// parameters into one network round-trip, negotiating between HTTP/1.1 and
// HTTP/2 via TLS ALPN.
//
// Pipeline per call: scheme classification and port inference, IPv4 address
// resolution (first candidate only), TCP connect with optional source-address
// bind, optional TLS handshake with SNI and the ALPN list ["h2","http/1.1"],
// protocol selection from the negotiated value, then a single request over
// the chosen engine. Each stage may fail; failures short-circuit and are
// returned as values from the taxonomy in errors.go.
//
// Every call owns its transport: no pooling, no reuse, no redirects, no
// pipelining and no h2c. The client imposes no deadlines of its own; pass a
// context with one to bound slow peers. Response bodies are drained whole
// into memory with no size cap.
//
// Quick start:
//
//	c := &piaf.Client{}
//	res, err := c.Get(context.Background(), nil, "https://example.org/")
//	if err != nil { log.Fatal(err) }
//	b, err := res.Body.Drain()
//	if err != nil { log.Fatal(err) }
//	fmt.Println(res.StatusCode, len(b))
package piaf
