// Package evidence gathers recent social posts relevant to a prediction
// condition.
//
// Gather never fails: an empty result becomes a placeholder item and a
// systemic failure becomes an error item, so callers always have something
// to hand to the oracle.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/yangwenmai/oracle-avs/internal/metrics"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

// Gatherer limits.
const (
	DefaultFetchCount = 10
	MaxItems          = 5
)

// Gatherer is the EvidenceGatherer.
type Gatherer struct {
	selector   Selector
	source     Source
	fetchCount int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Gatherer.
type Option func(*Gatherer)

// WithFetchCount sets the items requested per account.
func WithFetchCount(n int) Option {
	return func(g *Gatherer) {
		if n > 0 {
			g.fetchCount = min(n, MaxFetchCount)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gatherer) { g.logger = l }
}

// WithClock overrides the time source for synthetic items.
func WithClock(now func() time.Time) Option {
	return func(g *Gatherer) { g.now = now }
}

// NewGatherer creates a Gatherer. A nil source or selector makes every
// Gather return the error item.
func NewGatherer(selector Selector, source Source, opts ...Option) *Gatherer {
	g := &Gatherer{
		selector:   selector,
		source:     source,
		fetchCount: DefaultFetchCount,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Gather returns up to MaxItems items mentioning the condition's keywords,
// newest first. Accounts are fetched sequentially.
func (g *Gatherer) Gather(ctx context.Context, condition string) []model.EvidenceItem {
	items, err := g.collect(ctx, condition)
	if err != nil {
		g.logger.Error("evidence source unavailable", "error", err)
		metrics.EvidenceResults.WithLabelValues("error").Inc()
		return []model.EvidenceItem{g.errorItem(err)}
	}
	if len(items) == 0 {
		g.logger.Warn("no relevant evidence found", "condition", condition)
		metrics.EvidenceResults.WithLabelValues("placeholder").Inc()
		return []model.EvidenceItem{g.placeholder(condition)}
	}
	metrics.EvidenceResults.WithLabelValues("items").Inc()
	return items
}

func (g *Gatherer) collect(ctx context.Context, condition string) ([]model.EvidenceItem, error) {
	if g.source == nil || g.selector == nil {
		return nil, fmt.Errorf("%w: no evidence source configured", model.ErrEvidenceSourceUnavailable)
	}

	keywords := ExtractKeywords(condition)
	accounts := g.selector.Select(condition, keywords)
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts selected", model.ErrEvidenceSourceUnavailable)
	}
	g.logger.Debug("gathering evidence", "accounts", accounts, "keywords", keywords)

	var (
		all       []model.EvidenceItem
		succeeded int
		lastErr   error
	)
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		fetched, err := g.source.FetchLatest(ctx, account, g.fetchCount)
		if err != nil {
			lastErr = err
			metrics.EvidenceFetches.WithLabelValues("error").Inc()
			g.logger.Warn("evidence fetch failed", "account", account, "error", err)
			continue
		}
		metrics.EvidenceFetches.WithLabelValues("ok").Inc()
		succeeded++
		all = append(all, fetched...)
	}

	if succeeded == 0 {
		cause := lastErr
		if err := ctx.Err(); err != nil {
			cause = err
		}
		if cause == nil {
			cause = errors.New("no account fetched")
		}
		return nil, fmt.Errorf("%w: every account failed: %v", model.ErrEvidenceSourceUnavailable, cause)
	}

	relevant := filterByKeywords(all, keywords)
	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].CreatedAt.After(relevant[j].CreatedAt)
	})
	if len(relevant) > MaxItems {
		relevant = relevant[:MaxItems]
	}
	g.logger.Info("evidence gathered", "fetched", len(all), "relevant", len(relevant))
	return relevant, nil
}

// filterByKeywords keeps items whose text contains any keyword,
// case-insensitively.
func filterByKeywords(items []model.EvidenceItem, keywords []string) []model.EvidenceItem {
	var out []model.EvidenceItem
	for _, it := range items {
		text := strings.ToLower(it.Text)
		for _, kw := range keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

func (g *Gatherer) placeholder(condition string) model.EvidenceItem {
	return model.EvidenceItem{
		ID:        model.EvidencePlaceholderID,
		Text:      fmt.Sprintf("No relevant tweets found for this condition: \"%s\". Please check again later for updates or modify the condition.", condition),
		Author:    "placeholder_user",
		CreatedAt: g.now().UTC(),
		Synthetic: true,
	}
}

func (g *Gatherer) errorItem(err error) model.EvidenceItem {
	return model.EvidenceItem{
		ID:        model.EvidenceErrorID,
		Text:      fmt.Sprintf("Error fetching tweets: %s. Using original condition for validation.", err.Error()),
		Author:    "system",
		CreatedAt: g.now().UTC(),
		Synthetic: true,
	}
}
