package piaf

import (
	"errors"
	"fmt"

	"github.com/joprice/piaf/internal/h2"
	"github.com/joprice/piaf/internal/http1"
	"github.com/joprice/piaf/internal/model"
)

// Every failure a call can produce maps onto one of these values (or onto
// *ProtocolError), so callers can branch with errors.Is / errors.As instead
// of string matching.
var (
	ErrUnsupportedScheme   = errors.New("piaf: unsupported scheme")
	ErrUnresolvedHost      = errors.New("piaf: cannot resolve hostname")
	ErrConnect             = errors.New("piaf: connect failed")
	ErrTLSHandshake        = errors.New("piaf: tls handshake failed")
	ErrProtocolNegotiation = errors.New("piaf: impossible negotiated protocol")
	ErrMalformedResponse   = errors.New("piaf: malformed response")
	ErrInvalidBodyLength   = errors.New("piaf: invalid response body length")
	ErrBodyConsumed        = errors.New("piaf: response body already drained")
)

// ProtocolError is a peer-reported protocol failure carrying its code
// (HTTP/2 RST_STREAM or GOAWAY).
type ProtocolError = model.ProtocolError

// translateEngineError maps protocol-engine failures onto the public
// taxonomy. ProtocolError passes through untouched so the code stays
// inspectable; anything unrecognized becomes a wrapped generic failure.
func translateEngineError(err error) error {
	if err == nil {
		return nil
	}
	var pe *model.ProtocolError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, http1.ErrInvalidBodyLength):
		return fmt.Errorf("%w: %v", ErrInvalidBodyLength, err)
	case errors.Is(err, http1.ErrMalformedResponse),
		errors.Is(err, http1.ErrHeaderTooLarge),
		errors.Is(err, h2.ErrMalformedResponse):
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fmt.Errorf("piaf: request failed: %w", err)
}
