package engine

import (
	"context"
	"strings"
	"sync"
)

// StubModelClient returns canned answers (for development/testing). With no
// Reply set it answers "yes" when the prompt carries real posts and "no"
// otherwise, which keeps performer and validator in agreement.
type StubModelClient struct {
	// Reply, when set, computes the raw reply from the prompt.
	Reply func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (m *StubModelClient) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.Reply != nil {
		return m.Reply(prompt)
	}
	if strings.Contains(prompt, "\nX post: ") {
		return "yes", nil
	}
	return "no", nil
}

// Prompts returns every prompt received so far.
func (m *StubModelClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
