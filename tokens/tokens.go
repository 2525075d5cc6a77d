// Package tokens estimates prompt sizes and trims message windows to a
// token budget.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hupe1980/agentrun/core"
)

// Counter counts the tokens of a text.
type Counter interface {
	Count(text string) int
}

// Per-message framing overhead (<|start|>role|message<|end|>) and reply priming.
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// Heuristic estimates roughly four characters per token.
type Heuristic struct{}

// Count implements Counter.
func (Heuristic) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Tiktoken counts with the BPE encoding of a model. The encoding is loaded on
// first use; when it cannot be loaded the counter falls back to Heuristic.
type Tiktoken struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktoken creates a counter for the model (unknown models use cl100k_base).
func NewTiktoken(model string) *Tiktoken {
	return &Tiktoken{model: model}
}

func (t *Tiktoken) load() {
	t.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(t.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		t.enc, t.err = enc, err
	})
}

// Err returns the encoding load error, if any.
func (t *Tiktoken) Err() error {
	t.load()
	return t.err
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	t.load()
	if t.enc == nil {
		return Heuristic{}.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages counts a message list including role framing.
func CountMessages(c Counter, msgs []core.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := replyPriming
	for _, m := range msgs {
		total += countMessage(c, m)
	}
	return total
}

func countMessage(c Counter, m core.Message) int {
	n := tokensPerMessage + c.Count(m.Role) + c.Count(m.Content)
	for _, call := range m.ToolCalls {
		n += c.Count(call.Name) + c.Count(call.Arguments)
	}
	return n
}

// FitWithinLimit keeps the most recent messages whose total fits maxTokens.
// maxTokens <= 0 disables trimming.
func FitWithinLimit(c Counter, msgs []core.Message, maxTokens int) []core.Message {
	if maxTokens <= 0 || len(msgs) == 0 {
		return msgs
	}

	used := replyPriming
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		n := countMessage(c, msgs[i])
		if used+n > maxTokens {
			break
		}
		used += n
		start = i
	}
	return msgs[start:]
}

var (
	_ Counter = Heuristic{}
	_ Counter = (*Tiktoken)(nil)
)
