package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nexus3/nexus3/pkg/models"
)

// SessionNotFoundError is returned when a named session has no saved file.
type SessionNotFoundError struct {
	Name string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("persistence: session %q not found", e.Name)
}

// ErrDestinationExists is returned by Clone/Rename when the destination
// session name already has a saved file.
var ErrDestinationExists = errors.New("persistence: destination session already exists")

// Store persists SavedSessions under a home directory's sessions/
// subdirectory, plus the "last session" pointer pair.
type Store struct {
	home string
}

// New returns a Store rooted at home (typically {home}/.nexus3, i.e.
// NEXUS_HOME). home must already exist or be creatable by the caller; Store
// creates its own subdirectories lazily on first write.
func New(home string) *Store {
	return &Store{home: home}
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.home, "sessions")
}

func (s *Store) sessionPath(name string) string {
	return filepath.Join(s.sessionsDir(), name+".json")
}

func (s *Store) lastSessionPath() string {
	return filepath.Join(s.home, "last-session.json")
}

func (s *Store) lastSessionNamePath() string {
	return filepath.Join(s.home, "last-session-name")
}

// Save writes saved to {home}/sessions/{name}.json and updates the "last
// session" pointer, both atomically (spec §4.11).
func (s *Store) Save(name string, saved models.SavedSession) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	saved.SchemaVersion = models.CurrentSchemaVersion

	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal session %q: %w", name, err)
	}

	if err := atomicWriteFile(s.sessionPath(name), data); err != nil {
		return err
	}
	if err := atomicWriteFile(s.lastSessionPath(), data); err != nil {
		return err
	}
	return atomicWriteFile(s.lastSessionNamePath(), []byte(name))
}

// Load reads and deserializes the named session, filtering out any empty
// assistant messages found in the stored history (forward-compat with the
// Context Manager's empty-assistant guard, spec §4.4/§4.11).
func (s *Store) Load(name string) (models.SavedSession, error) {
	if err := ValidateName(name); err != nil {
		return models.SavedSession{}, err
	}

	data, err := readFileNoSymlink(s.sessionPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return models.SavedSession{}, &SessionNotFoundError{Name: name}
		}
		return models.SavedSession{}, err
	}

	var saved models.SavedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		return models.SavedSession{}, fmt.Errorf("persistence: decode session %q: %w", name, err)
	}

	saved.Messages = filterEmptyAssistant(saved.Messages)
	return saved, nil
}

func filterEmptyAssistant(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.IsEmptyAssistant() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Exists reports whether name has a saved session file.
func (s *Store) Exists(name string) bool {
	if err := ValidateName(name); err != nil {
		return false
	}
	info, err := os.Lstat(s.sessionPath(name))
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the named session's file. Deleting a session that does not
// exist is not an error.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.sessionPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: delete session %q: %w", name, err)
	}
	return nil
}

// Clone copies src's saved session to dst, rejecting if dst already exists.
// The clone's ModifiedAt is stamped with now.
func (s *Store) Clone(src, dst string, now time.Time) error {
	if err := ValidateName(dst); err != nil {
		return err
	}
	if s.Exists(dst) {
		return fmt.Errorf("%w: %q", ErrDestinationExists, dst)
	}
	saved, err := s.Load(src)
	if err != nil {
		return err
	}
	saved.AgentID = dst
	saved.ModifiedAt = now
	return s.Save(dst, saved)
}

// Rename moves src's saved session to dst, rejecting if dst already exists,
// and removes the src file once the copy is committed.
func (s *Store) Rename(src, dst string, now time.Time) error {
	if err := s.Clone(src, dst, now); err != nil {
		return err
	}
	return s.Delete(src)
}

// LastSessionName returns the name recorded by the most recent Save, or ""
// if none has been saved yet.
func (s *Store) LastSessionName() (string, error) {
	data, err := readFileNoSymlink(s.lastSessionNamePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
