package evidence

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yangwenmai/oracle-avs/internal/model"
)

// Source fetches recent items posted by one account.
type Source interface {
	FetchLatest(ctx context.Context, account string, count int) ([]model.EvidenceItem, error)
}

// Verify at compile time that all sources implement Source.
var (
	_ Source = (*StubSource)(nil)
	_ Source = (*NitterSource)(nil)
	_ Source = (*PageSource)(nil)
)

// MaxFetchCount caps items requested per account.
const MaxFetchCount = 20

// normalizeAccount strips a leading @ from a handle.
func normalizeAccount(account string) string {
	return strings.TrimPrefix(strings.TrimSpace(account), "@")
}

// StubSource serves canned items per account for development and tests.
// Accounts listed in Failing return an error.
type StubSource struct {
	mu      sync.Mutex
	Items   map[string][]model.EvidenceItem
	Failing map[string]error
	calls   []string
}

func (s *StubSource) FetchLatest(ctx context.Context, account string, count int) ([]model.EvidenceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account = normalizeAccount(account)

	s.mu.Lock()
	s.calls = append(s.calls, account)
	s.mu.Unlock()

	if err, ok := s.Failing[account]; ok {
		return nil, fmt.Errorf("%w: @%s: %v", model.ErrEvidenceFetch, account, err)
	}
	items := s.Items[account]
	if count > 0 && len(items) > count {
		items = items[:count]
	}
	return append([]model.EvidenceItem(nil), items...), nil
}

// Calls returns the accounts fetched so far, in order.
func (s *StubSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
