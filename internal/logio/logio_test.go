package logio

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nexus3/nexus3/pkg/models"
)

func TestMarkdownWriterWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context.md")
	w := NewMarkdownWriter(path)

	if err := w.WriteUser("hi", time.Now()); err != nil {
		t.Fatalf("WriteUser error: %v", err)
	}
	if err := w.WriteUser("again", time.Now()); err != nil {
		t.Fatalf("WriteUser error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if strings.Count(string(data), "# Session Log") != 1 {
		t.Fatalf("expected header exactly once, got:\n%s", data)
	}
}

func TestMarkdownWriterTruncatesLongToolOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context.md")
	w := NewMarkdownWriter(path)

	long := strings.Repeat("x", 5000)
	if err := w.WriteToolResult("read_file", models.ToolResult{Output: long}); err != nil {
		t.Fatalf("WriteToolResult error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "(truncated)") {
		t.Fatal("expected truncation marker in output")
	}
	if strings.Count(string(data), "x") > maxToolOutputChars+100 {
		t.Fatal("expected output to actually be truncated")
	}
}

func TestMarkdownWriterFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context.md")
	w := NewMarkdownWriter(path)
	if err := w.WriteSystem("be helpful"); err != nil {
		t.Fatalf("WriteSystem error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if info.Mode().Perm() != filePerm {
		t.Fatalf("got perm %v, want %v", info.Mode().Perm(), os.FileMode(filePerm))
	}
}

func TestSecureAppendRefusesSymlinkedFile(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.md")
	if err := os.WriteFile(real, []byte("data"), filePerm); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	link := filepath.Join(dir, "link.md")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlink not supported in this environment: %v", err)
	}

	w := NewMarkdownWriter(link)
	err := w.WriteUser("hi", time.Now())
	var symErr *SymlinkError
	if !errors.As(err, &symErr) {
		t.Fatalf("expected SymlinkError, got %v", err)
	}
}

func TestSecureAppendRefusesSymlinkedParentDir(t *testing.T) {
	dir := t.TempDir()
	realDir := filepath.Join(dir, "realdir")
	if err := os.Mkdir(realDir, dirPerm); err != nil {
		t.Fatalf("Mkdir error: %v", err)
	}
	linkDir := filepath.Join(dir, "linkdir")
	if err := os.Symlink(realDir, linkDir); err != nil {
		t.Skipf("symlink not supported in this environment: %v", err)
	}

	w := NewMarkdownWriter(filepath.Join(linkDir, "context.md"))
	err := w.WriteUser("hi", time.Now())
	var symErr *SymlinkError
	if !errors.As(err, &symErr) {
		t.Fatalf("expected SymlinkError, got %v", err)
	}
}

func TestSecureAppendMissingParentIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent", "context.md")
	w := NewMarkdownWriter(path)

	err := w.WriteUser("hi", time.Now())
	if !errors.Is(err, ErrMissingParentDir) {
		t.Fatalf("expected ErrMissingParentDir, got %v", err)
	}
}

func TestRawWriterWritesValidJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.jsonl")
	w := NewRawWriter(path)

	now := time.Now()
	if err := w.WriteRequest(map[string]any{"model": "x"}, now); err != nil {
		t.Fatalf("WriteRequest error: %v", err)
	}
	if err := w.WriteStreamComplete(StreamCompleteSummary{EventCount: 3, ReceivedDone: true}, now); err != nil {
		t.Fatalf("WriteStreamComplete error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	for _, line := range lines {
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			t.Fatalf("line not valid JSON: %v: %s", err, line)
		}
	}
}

func TestEnsureSessionDirCreatesOwnerOnly(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "session-123")

	if err := EnsureSessionDir(target); err != nil {
		t.Fatalf("EnsureSessionDir error: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if info.Mode().Perm() != dirPerm {
		t.Fatalf("got perm %v, want %v", info.Mode().Perm(), os.FileMode(dirPerm))
	}
}
