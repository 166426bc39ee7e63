package compaction

import "regexp"

// redactor is one ordered regex-based secret scrubber. Replacement is
// applied with ReplaceAllString, so capture groups referenced in With (e.g.
// "$1[REDACTED]") can preserve a non-secret prefix like a key name.
type redactor struct {
	pattern *regexp.Regexp
	with    string
}

// redactors is the ordered list applied to any text before it leaves the
// process toward a summarizer (spec §4.5.1). Order matters only in that
// more specific patterns (AWS key id) run before looser ones (generic
// api_key= assignment) that could otherwise partially match the same text.
var redactors = []redactor{
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{30,}`), "[REDACTED]"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(aws_secret_access_key\s*[:=]\s*)["']?[A-Za-z0-9/+=]{30,}["']?`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9._-]{10,}`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)["']?[A-Za-z0-9._-]{8,}["']?`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(password\s*[:=]\s*)["']?\S+["']?`), "${1}[REDACTED]"},
	{regexp.MustCompile(`([A-Za-z0-9._-]+):([^@\s/]+)@`), "${1}:[REDACTED]@"},
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb(?:\+srv)?)://[^\s"']+`), "${1}://[REDACTED]"},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[REDACTED]"},
}

// extraPatterns holds process-specific token patterns registered at
// runtime (spec §4.5.1's "any configured process-specific token pattern"),
// applied after the built-in list.
var extraPatterns []redactor

// RegisterPattern adds a process-specific redaction pattern applied after
// the built-ins. Intended for startup-time configuration, not per-call use.
func RegisterPattern(pattern *regexp.Regexp, with string) {
	extraPatterns = append(extraPatterns, redactor{pattern: pattern, with: with})
}

// RedactText applies every registered redactor to text in order.
// Idempotent (R2): running it again on already-redacted text is a no-op,
// since "[REDACTED]" never matches any pattern above.
func RedactText(text string) string {
	for _, r := range redactors {
		text = r.pattern.ReplaceAllString(text, r.with)
	}
	for _, r := range extraPatterns {
		text = r.pattern.ReplaceAllString(text, r.with)
	}
	return text
}

// RedactValue recursively redacts strings found anywhere inside nested
// maps, slices, and scalar values — the shape a decoded JSON tool argument
// or result commonly takes.
func RedactValue(v any) any {
	switch t := v.(type) {
	case string:
		return RedactText(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = RedactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RedactValue(val)
		}
		return out
	default:
		return v
	}
}
