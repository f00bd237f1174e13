package evidence

import (
	"context"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// maxPageText bounds the text kept from one article.
const maxPageText = 4000

// PageSource reads one article page per account from an allow-list and
// turns its readable text into a single evidence item.
type PageSource struct {
	pages      map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewPageSource creates a source over account -> page URL.
func NewPageSource(pages map[string]string, limiter *rate.Limiter) *PageSource {
	if limiter == nil {
		limiter = NewLimiter(DefaultRateDelay)
	}
	normalized := make(map[string]string, len(pages))
	for account, u := range pages {
		normalized[normalizeAccount(account)] = u
	}
	return &PageSource{
		pages:      normalized,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		now:        time.Now,
	}
}

// LoadPages reads a YAML "pages:" mapping of account to URL.
func LoadPages(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pages: %w", err)
	}
	var doc struct {
		Pages map[string]string `yaml:"pages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pages %s: %w", path, err)
	}
	return doc.Pages, nil
}

// Accounts returns the allow-listed accounts in sorted order.
func (s *PageSource) Accounts() AllowList {
	out := make(AllowList, 0, len(s.pages))
	for a := range s.pages {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s *PageSource) FetchLatest(ctx context.Context, account string, _ int) ([]model.EvidenceItem, error) {
	account = normalizeAccount(account)
	pageURL, ok := s.pages[account]
	if !ok {
		return nil, fmt.Errorf("%w: @%s: no page configured", model.ErrEvidenceFetch, account)
	}

	body, err := fetchHTML(ctx, s.httpClient, s.limiter, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: @%s: %v", model.ErrEvidenceFetch, account, err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: @%s: read body: %v", model.ErrEvidenceFetch, account, err)
	}

	parsedURL, _ := nurl.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(raw)), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: @%s: readability: %v", model.ErrEvidenceFetch, account, err)
	}

	text := normalizeText(article.TextContent)
	if text == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(text) > maxPageText {
		text = string([]rune(text)[:maxPageText])
	}

	created := s.now().UTC()
	if article.PublishedTime != nil && !article.PublishedTime.IsZero() {
		created = article.PublishedTime.UTC()
	}
	author := account
	if article.Byline != "" {
		author = article.Byline
	}
	return []model.EvidenceItem{{
		ID:        pageURL,
		Text:      text,
		Author:    author,
		CreatedAt: created,
	}}, nil
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}
