package piaf

import (
	"fmt"
	"net/url"
	"strconv"
)

// Scheme classifies a URI into the two transports this client speaks.
type Scheme int

const (
	SchemeHTTP Scheme = iota
	SchemeHTTPS
)

func (s Scheme) String() string {
	if s == SchemeHTTPS {
		return "https"
	}
	return "http"
}

// SchemeOf classifies u. An absent scheme defaults to http; anything other
// than http/https is an error naming the scheme, never a silent fallback.
func SchemeOf(u *url.URL) (Scheme, error) {
	switch u.Scheme {
	case "", "http":
		return SchemeHTTP, nil
	case "https":
		return SchemeHTTPS, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// PortOf infers the target port. An explicit port in the URI wins verbatim,
// even when it conflicts with the scheme default.
func PortOf(s Scheme, u *url.URL) int {
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if s == SchemeHTTPS {
		return 443
	}
	return 80
}
