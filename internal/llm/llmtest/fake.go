// Package llmtest provides a scripted Reasoner for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// Handler answers one call. Returning an error fails the call.
type Handler func(ctx context.Context, call Call) (string, error)

// Call is a recorded invocation.
type Call struct {
	Role     llm.Role
	Messages []llm.Message
	Options  llm.Options
	Stream   bool
}

// Prompt returns the last user message of the call.
func (c Call) Prompt() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i].Content
		}
	}
	return ""
}

// System returns the system message of the call, if any.
func (c Call) System() string {
	for _, m := range c.Messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

// Fake is a Reasoner whose replies are scripted per role. Queued replies are
// consumed first, then the role's handler, then Default.
type Fake struct {
	mu       sync.Mutex
	queues   map[llm.Role][]Handler
	handlers map[llm.Role]Handler
	calls    []Call

	// Default answers calls with no scripted reply. Nil means fail.
	Default Handler
	// ChunkSize splits streamed replies. Zero streams word by word.
	ChunkSize int
	// Usage reports a fixed usage per call. Zero lets streams estimate.
	Usage models.TokenUsage
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		queues:   make(map[llm.Role][]Handler),
		handlers: make(map[llm.Role]Handler),
	}
}

// Reply queues a single text reply for role.
func (f *Fake) Reply(role llm.Role, text string) *Fake {
	return f.Then(role, func(context.Context, Call) (string, error) { return text, nil })
}

// Fail queues a single failure for role.
func (f *Fake) Fail(role llm.Role, err error) *Fake {
	return f.Then(role, func(context.Context, Call) (string, error) { return "", err })
}

// Then queues a one-shot handler for role.
func (f *Fake) Then(role llm.Role, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[role] = append(f.queues[role], h)
	return f
}

// On installs a standing handler for role.
func (f *Fake) On(role llm.Role, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[role] = h
	return f
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns recorded calls for role.
func (f *Fake) CallsFor(role llm.Role) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) next(call Call) Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if q := f.queues[call.Role]; len(q) > 0 {
		f.queues[call.Role] = q[1:]
		return q[0]
	}
	if h, ok := f.handlers[call.Role]; ok {
		return h
	}
	if f.Default != nil {
		return f.Default
	}
	return func(context.Context, Call) (string, error) {
		return "", fmt.Errorf("llmtest: no reply scripted for %s", call.Role)
	}
}

// Complete implements llm.Reasoner.
func (f *Fake) Complete(ctx context.Context, role llm.Role, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
	call := Call{Role: role, Messages: messages, Options: opts}
	h := f.next(call)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := h(ctx, call)
	if err != nil {
		return nil, err
	}
	return &llm.Completion{Text: text, Model: "fake/" + string(role), Usage: f.Usage}, nil
}

// Stream implements llm.Reasoner.
func (f *Fake) Stream(ctx context.Context, role llm.Role, messages []llm.Message, opts llm.Options) (*llm.Stream, error) {
	call := Call{Role: role, Messages: messages, Options: opts, Stream: true}
	h := f.next(call)
	return llm.NewStream(ctx, func(ctx context.Context, emit func(string) error) (models.TokenUsage, error) {
		text, err := h(ctx, call)
		if err != nil {
			return models.TokenUsage{}, err
		}
		for _, chunk := range f.split(text) {
			if err := emit(chunk); err != nil {
				return models.TokenUsage{}, err
			}
		}
		return f.Usage, nil
	}), nil
}

func (f *Fake) split(text string) []string {
	if f.ChunkSize > 0 {
		var out []string
		for len(text) > f.ChunkSize {
			out = append(out, text[:f.ChunkSize])
			text = text[f.ChunkSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}
	var out []string
	for text != "" {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}

// Backend is a scripted llm.Backend for exercising llm.Client.
type Backend struct {
	mu       sync.Mutex
	Requests []llm.Request
	Reply    func(req llm.Request) (string, error)
	Usage    models.TokenUsage
}

func (b *Backend) record(req llm.Request) (string, error) {
	b.mu.Lock()
	b.Requests = append(b.Requests, req)
	reply := b.Reply
	b.mu.Unlock()
	if reply == nil {
		return "ok", nil
	}
	return reply(req)
}

// Generate implements llm.Backend.
func (b *Backend) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := b.record(req)
	if err != nil {
		return nil, err
	}
	return &llm.Completion{Text: text, Usage: b.Usage}, nil
}

// GenerateStream implements llm.Backend by emitting one chunk per word.
func (b *Backend) GenerateStream(ctx context.Context, req llm.Request, emit func(string) error) (models.TokenUsage, error) {
	text, err := b.record(req)
	if err != nil {
		return models.TokenUsage{}, err
	}
	for _, w := range strings.SplitAfter(text, " ") {
		if w == "" {
			continue
		}
		if err := emit(w); err != nil {
			return models.TokenUsage{}, err
		}
	}
	return b.Usage, nil
}

// Snapshot returns the recorded requests.
func (b *Backend) Snapshot() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.Requests...)
}
