package ssrf

import (
	"fmt"
	"net"
	"net/url"
)

// Options controls which address categories ValidateOutboundURL permits.
// Cloud metadata and multicast addresses are always blocked regardless of
// these flags (spec §4.14).
type Options struct {
	AllowPrivate   bool
	AllowLocalhost bool
}

// ValidateOutboundURL checks rawURL against the SSRF deny-list before a
// nexus_* skill is allowed to dial it. It validates the hostname itself,
// then resolves it and re-checks every returned address, so a DNS answer
// that rebinds to an internal address after the initial check is still
// caught (spec §4.14).
func ValidateOutboundURL(rawURL string, opts Options) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return newBlocked(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return newBlocked(fmt.Sprintf("unsupported scheme: %s", parsed.Scheme))
	}

	hostname := normalizeHostname(parsed.Hostname())
	if hostname == "" {
		return newBlocked("invalid URL: empty hostname")
	}

	if isBlockedHostname(hostname) {
		return newBlocked(fmt.Sprintf("blocked hostname: %s", hostname))
	}
	if isLoopbackHostname(hostname) && !opts.AllowLocalhost {
		return newBlocked(fmt.Sprintf("blocked localhost hostname: %s", hostname))
	}

	if err := checkAddress(hostname, opts); err != nil {
		return err
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("ssrf: unable to resolve hostname %s: %w", hostname, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("ssrf: unable to resolve hostname %s: no addresses returned", hostname)
	}
	for _, ip := range ips {
		if err := checkAddress(ip.String(), opts); err != nil {
			return err
		}
	}

	return nil
}

// checkAddress applies the category rules to a single literal address:
// metadata and multicast are always blocked, loopback and private are
// gated by opts.
func checkAddress(address string, opts Options) error {
	class := classifyIPAddress(address)

	if class.metadata {
		return newBlocked(fmt.Sprintf("blocked: cloud metadata address %s", address))
	}
	if class.multicast {
		return newBlocked(fmt.Sprintf("blocked: multicast address %s", address))
	}
	if class.loopback && !opts.AllowLocalhost {
		return newBlocked(fmt.Sprintf("blocked: loopback address %s", address))
	}
	if class.private && !opts.AllowPrivate {
		return newBlocked(fmt.Sprintf("blocked: private/internal address %s", address))
	}
	return nil
}
