package piaf

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Outbound requests carry a W3C traceparent when the caller supplies none.
// Only generation lives here; this client never parses inbound trace
// context.

func genTraceID() string {
	var b [16]byte
	for {
		if _, err := rand.Read(b[:]); err == nil {
			// Must not be all zeros
			zero := true
			for _, v := range b {
				if v != 0 {
					zero = false
					break
				}
			}
			if !zero {
				return strings.ToLower(hex.EncodeToString(b[:]))
			}
		}
		// retry on error or all-zero
	}
}

func genSpanID() string {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err == nil {
			zero := true
			for _, v := range b {
				if v != 0 {
					zero = false
					break
				}
			}
			if !zero {
				return strings.ToLower(hex.EncodeToString(b[:]))
			}
		}
	}
}

func formatTraceparent(traceID, spanID, flags string) string {
	if flags == "" {
		flags = "01"
	}
	return "00-" + strings.ToLower(traceID) + "-" + strings.ToLower(spanID) + "-" + strings.ToLower(flags)
}
