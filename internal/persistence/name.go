// Package persistence implements NEXUS3's Session Persistence (C11):
// atomic, symlink-refusing serialization of an agent's runtime state to
// {home}/.nexus3/sessions/{name}.json, plus the "last session" pointer.
package persistence

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidName is returned when a session name fails validation: it must
// validate the same way an agent id does, and path components (separators,
// ".", "..") are rejected outright so a name can never escape the sessions
// directory.
var ErrInvalidName = errors.New("persistence: invalid session name")

const maxNameLength = 128

// ValidateName checks name against the session/agent-id grammar: 1-128
// characters, [A-Za-z0-9_-] only, optionally prefixed with a single leading
// "." marking an ephemeral temp agent (spec §4.12: ids like ".1"); bare "."
// or ".." is always rejected as a path component.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: %q: must be 1-%d characters", ErrInvalidName, name, maxNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q: path components are rejected", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q: must not contain path separators", ErrInvalidName, name)
	}

	body := name
	if strings.HasPrefix(body, ".") {
		body = body[1:]
	}
	if body == "" {
		return fmt.Errorf("%w: %q: must have at least one character after a leading \".\"", ErrInvalidName, name)
	}
	for _, r := range body {
		if !validNameRune(r) {
			return fmt.Errorf("%w: %q: invalid character %q", ErrInvalidName, name, r)
		}
	}
	return nil
}

// IsTemp reports whether name is an ephemeral temp-agent id (spec §4.12:
// ids beginning with "." such as ".1", ".2").
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".")
}

func validNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	default:
		return false
	}
}
