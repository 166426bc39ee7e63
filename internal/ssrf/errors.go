// Package ssrf guards outbound URLs reached by nexus_* skills against
// server-side request forgery: cloud metadata endpoints are always
// blocked, private and loopback ranges are blocked unless explicitly
// allowed, and DNS resolution is re-checked address-by-address to defeat
// rebinding (spec §4.14).
package ssrf

// BlockedError is returned when a hostname, IP, or URL fails SSRF
// validation.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return "ssrf: blocked: " + e.Reason }

func newBlocked(reason string) *BlockedError { return &BlockedError{Reason: reason} }
