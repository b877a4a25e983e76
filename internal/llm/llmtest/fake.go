// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jonathan/research-orchestrator/internal/llm"
)

// Responder produces a reply for a prompt
type Responder func(prompt string) (string, error)

// Rule routes prompts containing Match to Reply
type Rule struct {
	Match string
	Reply Responder
}

// Fake is a concurrency-safe llm.Client driven by rules. The first rule
// whose Match occurs in the prompt answers it.
type Fake struct {
	mu    sync.Mutex
	rules []Rule
	calls []string
}

var _ llm.Client = (*Fake)(nil)

// New returns a Fake with the given rules
func New(rules ...Rule) *Fake {
	return &Fake{rules: rules}
}

// On appends a rule answering with a fixed string
func (f *Fake) On(match, reply string) *Fake {
	return f.OnFunc(match, func(string) (string, error) { return reply, nil })
}

// OnFunc appends a rule answered by fn
func (f *Fake) OnFunc(match string, fn Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, Rule{Match: match, Reply: fn})
	return f
}

// Sequence returns a Responder that replays replies in order and then
// repeats the last one.
func Sequence(replies ...string) Responder {
	var mu sync.Mutex
	i := 0
	return func(string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := replies[i]
		if i < len(replies)-1 {
			i++
		}
		return r, nil
	}
}

// Fail returns a Responder that always errors
func Fail(err error) Responder {
	return func(string) (string, error) { return "", err }
}

func (f *Fake) answer(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	rules := f.rules
	f.mu.Unlock()

	for _, r := range rules {
		if strings.Contains(prompt, r.Match) {
			return r.Reply(prompt)
		}
	}
	return "", fmt.Errorf("llmtest: no rule matches prompt %.80q", prompt)
}

// GenerateContent implements llm.Client
func (f *Fake) GenerateContent(ctx context.Context, prompt string, _ llm.ModelTier) (string, error) {
	return f.answer(ctx, prompt)
}

// GenerateJSON implements llm.Client
func (f *Fake) GenerateJSON(ctx context.Context, prompt string, _ llm.ModelTier) (string, error) {
	out, err := f.answer(ctx, prompt)
	if err != nil {
		return "", err
	}
	return llm.CleanJSONBlock(out), nil
}

// GetModel implements llm.Client
func (f *Fake) GetModel(llm.ModelTier) string { return "fake" }

// Close implements llm.Client
func (f *Fake) Close() error { return nil }

// Calls returns the prompts seen so far
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsMatching counts prompts containing substr
func (f *Fake) CallsMatching(substr string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// Embedder returns deterministic vectors derived from text bytes
type Embedder struct {
	Dim int
	Err error
}

// Embed implements llm.Embedder
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.Dim)
		for j := 0; j < len(t); j++ {
			v[j%e.Dim] += float32(t[j]) / 255
		}
		out[i] = v
	}
	return out, nil
}

// Dimension implements llm.Embedder
func (e *Embedder) Dimension() int { return e.Dim }
