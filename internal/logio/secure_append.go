// Package logio implements NEXUS3's Markdown/Raw Writers (C8): the two
// human-readable and machine-readable per-session log sinks, both opened
// with symlink-refusing append semantics.
package logio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SymlinkError reports that a log path (or one of its parent directories)
// is a symlink, so the secure-append open refused it. An attacker who can
// plant a symlink at a predictable log path could otherwise redirect
// writes to an arbitrary file; refusing outright closes that off (Fix 2.2).
type SymlinkError struct {
	Path string
}

func (e *SymlinkError) Error() string {
	return fmt.Sprintf("logio: refusing to follow symlink at %q", e.Path)
}

// ErrMissingParentDir is returned when a log file's parent directory does
// not exist; secure append never creates missing parents.
var ErrMissingParentDir = errors.New("logio: parent directory does not exist")

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// secureAppend opens path for appending after verifying that neither the
// path itself nor its parent directory is a symlink. The file is created
// with owner-only permissions if it does not already exist.
func secureAppend(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	dirInfo, err := os.Lstat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingParentDir, dir)
		}
		return nil, fmt.Errorf("logio: stat parent dir %s: %w", dir, err)
	}
	if dirInfo.Mode()&os.ModeSymlink != 0 {
		return nil, &SymlinkError{Path: dir}
	}

	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, &SymlinkError{Path: path}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("logio: stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("logio: open %s: %w", path, err)
	}
	return f, nil
}

// EnsureSessionDir creates a session's log directory with owner-only
// permissions if it doesn't already exist, refusing a symlinked target.
func EnsureSessionDir(dir string) error {
	if info, err := os.Lstat(dir); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return &SymlinkError{Path: dir}
		}
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("logio: stat %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("logio: mkdir %s: %w", dir, err)
	}
	return nil
}
