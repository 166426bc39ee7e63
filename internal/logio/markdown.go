package logio

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nexus3/nexus3/pkg/models"
)

const maxToolOutputChars = 2000

// MarkdownWriter appends human-readable session sections to context.md or
// verbose.md (spec §4.8).
type MarkdownWriter struct {
	path        string
	wroteHeader bool
}

// NewMarkdownWriter builds a writer for path, writing the initial header on
// the first append if the file does not already exist.
func NewMarkdownWriter(path string) *MarkdownWriter {
	_, err := os.Stat(path)
	return &MarkdownWriter{path: path, wroteHeader: err == nil}
}

func (w *MarkdownWriter) append(section string) error {
	f, err := secureAppend(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if !w.wroteHeader {
		if _, err := f.WriteString("# Session Log\n\n"); err != nil {
			return fmt.Errorf("logio: write header: %w", err)
		}
		w.wroteHeader = true
	}

	_, err = f.WriteString(section)
	return err
}

// WriteSystem appends the "## System" section.
func (w *MarkdownWriter) WriteSystem(content string) error {
	return w.append(fmt.Sprintf("## System\n\n%s\n\n", content))
}

// WriteUser appends the "## User [HH:MM:SS]" section.
func (w *MarkdownWriter) WriteUser(content string, ts time.Time) error {
	return w.append(fmt.Sprintf("## User [%s]\n\n%s\n\n", ts.Format("15:04:05"), content))
}

// WriteAssistant appends the "## Assistant [HH:MM:SS]" section, including a
// "### Tool Calls" subsection when toolCalls is non-empty.
func (w *MarkdownWriter) WriteAssistant(content string, toolCalls []models.ToolCall, ts time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "## Assistant [%s]\n\n", ts.Format("15:04:05"))
	if content != "" {
		fmt.Fprintf(&b, "%s\n\n", content)
	}
	if len(toolCalls) > 0 {
		b.WriteString("### Tool Calls\n\n")
		for _, tc := range toolCalls {
			fmt.Fprintf(&b, "- `%s(%s)`\n", tc.Name, string(tc.RawArguments()))
		}
		b.WriteString("\n")
	}
	return w.append(b.String())
}

// WriteToolResult appends a "### Tool Result: name (success|error)" section,
// truncating output at maxToolOutputChars with a "(truncated)" suffix.
func (w *MarkdownWriter) WriteToolResult(name string, result models.ToolResult) error {
	status := "success"
	body := result.Output
	if !result.Success() {
		status = "error"
		body = result.Error
	}
	if len(body) > maxToolOutputChars {
		body = body[:maxToolOutputChars] + "\n(truncated)"
	}
	return w.append(fmt.Sprintf("### Tool Result: %s (%s)\n\n```\n%s\n```\n\n", name, status, body))
}
