package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrCreateToken returns the bearer token the server should require.
// If path already holds one, it's reused (lets a restarted server keep
// talking to existing --connect clients); otherwise a fresh 32-byte token
// is generated but NOT written to disk yet — spec §4.14 requires the
// token file to appear only after a successful bind, so a second server
// racing for the same port can't clobber a live one's token. Exported so a
// caller that needs the token before Serve binds (e.g. to hand it to
// agent-side nexus_* skills) can derive the same value Serve will use.
func LoadOrCreateToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("server: read token file: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("server: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// persistToken writes token to path with 0o600 permissions, creating the
// parent directory if needed. Called only after a successful bind.
func persistToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("server: create token dir: %w", err)
	}
	return os.WriteFile(path, []byte(token), 0o600)
}

// deleteToken removes the token file on graceful shutdown. Missing is not
// an error.
func deleteToken(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: delete token file: %w", err)
	}
	return nil
}
