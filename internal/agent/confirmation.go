package agent

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/pkg/models"
)

// confirmationCache remembers widened-scope answers from on_confirm so a
// Session doesn't re-prompt for every subsequent call the user already
// widened the scope for (spec §4.10 step 7c: AllowFile/AllowDirectory/
// AllowExecCwd/AllowExecGlobal all persist beyond the single call that
// earned them; AllowOnce does not).
type confirmationCache struct {
	mu         sync.Mutex
	files      map[string]bool
	dirs       []string
	execCwd    bool
	execGlobal bool
}

func newConfirmationCache() *confirmationCache {
	return &confirmationCache{files: make(map[string]bool)}
}

// preAllowed reports whether a previously widened scope already covers this
// call, letting the Session skip invoking on_confirm again.
func (c *confirmationCache) preAllowed(action permission.Action, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path != "" {
		if c.files[path] {
			return true
		}
		for _, dir := range c.dirs {
			if underDir(path, dir) {
				return true
			}
		}
	}
	if action == permission.ActionExecute && (c.execCwd || c.execGlobal) {
		return true
	}
	return false
}

// record absorbs a non-terminal ConfirmationResult into the cache's
// widened scope. AllowOnce and Deny are not recorded: AllowOnce is
// single-use by definition, and Deny carries nothing forward.
func (c *confirmationCache) record(result models.ConfirmationResult, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch result {
	case models.ConfirmAllowFile:
		if path != "" {
			c.files[path] = true
		}
	case models.ConfirmAllowDirectory:
		if path != "" {
			c.dirs = append(c.dirs, filepath.Dir(path))
		}
	case models.ConfirmAllowExecCwd:
		c.execCwd = true
	case models.ConfirmAllowExecGlobal:
		c.execGlobal = true
	}
}

func underDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
