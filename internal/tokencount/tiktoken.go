package tokencount

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nexus3/nexus3/pkg/models"
)

// modelEncodings maps known model name prefixes to a tiktoken encoding,
// for providers tiktoken-go's own EncodingForModel doesn't recognize
// (Anthropic and Gemini models are approximated with cl100k_base, same as
// OpenAI's older chat models).
var modelEncodings = map[string]string{
	"gpt-4o":     "o200k_base",
	"gpt-4":      "cl100k_base",
	"gpt-3.5":    "cl100k_base",
	"claude":     "cl100k_base",
	"gemini":     "cl100k_base",
}

func encodingNameForModel(model string) string {
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) {
			return enc
		}
	}
	return "cl100k_base"
}

var (
	encodingCacheMu sync.RWMutex
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
)

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	name := encodingNameForModel(model)

	encodingCacheMu.RLock()
	if enc, ok := encodingCache[name]; ok {
		encodingCacheMu.RUnlock()
		return enc, nil
	}
	encodingCacheMu.RUnlock()

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("tokencount: load encoding %q: %w", name, err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[name] = enc
	encodingCacheMu.Unlock()
	return enc, nil
}

// Tiktoken is the optional accurate Counter implementation, backed by
// OpenAI's BPE tokenizer library. It is a drop-in substitute for Heuristic
// wherever a more precise budget estimate is worth the extra dependency
// (spec §4.3: "an optional accurate implementation may be substituted").
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTiktoken builds a Tiktoken counter for model, falling back to the
// cl100k_base encoding when the model isn't directly recognized.
func NewTiktoken(model string) (*Tiktoken, error) {
	enc, err := loadEncoding(model)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{encoding: enc, model: model}, nil
}

// Count returns the exact BPE token count for text under this counter's
// encoding.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// perMessageOverhead mirrors OpenAI's documented chat-format framing cost:
// each message costs a fixed number of tokens for its role/start/end
// markers beyond its literal content.
const (
	perMessageOverhead = 3
	replyPrimingTokens = 3
)

// CountMessages counts tokens across messages using the chat-format
// accounting tiktoken-go's own reference implementation documents: a fixed
// per-message overhead plus role and content tokens, plus a constant for
// reply priming.
func (t *Tiktoken) CountMessages(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += t.Count(string(m.Role))
		total += t.Count(m.Content)
		total += t.Count(m.ToolCallID)
		for _, tc := range m.ToolCalls {
			total += t.Count(tc.Name)
			total += t.Count(string(tc.RawArguments()))
		}
	}
	total += replyPrimingTokens
	return total
}

// Model returns the model name this counter was configured for.
func (t *Tiktoken) Model() string {
	return t.model
}
