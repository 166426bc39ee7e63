package ssrf

import "strings"

// blockedHostnames are always blocked regardless of caller opt-ins, since
// they name the local machine or a cloud metadata service rather than an
// address range a caller could reasonably want to allow.
var blockedHostnames = map[string]bool{
	"metadata.google.internal": true,
}

// loopbackHostnames name the local machine. They're blocked unless the
// caller sets Options.AllowLocalhost, distinct from the always-blocked set.
var loopbackHostnames = map[string]bool{
	"localhost": true,
}

// dangerousSuffixes are hostname suffixes that indicate internal/local
// resources and are treated the same as the literal loopback hostnames.
var dangerousSuffixes = []string{
	".localhost",
	".local",
	".internal",
}

// isBlockedHostname reports whether hostname is always blocked, independent
// of any Options.
func isBlockedHostname(hostname string) bool {
	return blockedHostnames[hostname]
}

// isLoopbackHostname reports whether hostname names the local machine.
func isLoopbackHostname(hostname string) bool {
	if loopbackHostnames[hostname] {
		return true
	}
	for _, suffix := range dangerousSuffixes {
		if strings.HasSuffix(hostname, suffix) {
			return true
		}
	}
	return false
}
