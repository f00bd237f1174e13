package evidence

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// DefaultRateDelay is the minimum gap between requests to one source.
const DefaultRateDelay = 2 * time.Second

const (
	userAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodySize = 5 * 1024 * 1024
)

var (
	selTimelineItem = cascadia.MustCompile(".timeline-item")
	selTweetLink    = cascadia.MustCompile(".tweet-link")
	selTweetContent = cascadia.MustCompile(".tweet-content")
	selUsername     = cascadia.MustCompile(".username")
	selTweetDate    = cascadia.MustCompile(".tweet-date a")
)

// nitterDateLayouts are the title formats seen on .tweet-date links.
var nitterDateLayouts = []string{
	"Jan 2, 2006 · 3:04 PM MST",
	"Jan 2, 2006 · 15:04 MST",
	time.RFC3339,
}

// NitterSource scrapes account timelines from a Nitter instance.
type NitterSource struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NitterOption configures a NitterSource.
type NitterOption func(*NitterSource)

// WithNitterHTTPClient sets a custom HTTP client.
func WithNitterHTTPClient(c *http.Client) NitterOption {
	return func(s *NitterSource) { s.httpClient = c }
}

// WithLimiter shares a request gate with other sources.
func WithLimiter(l *rate.Limiter) NitterOption {
	return func(s *NitterSource) { s.limiter = l }
}

// NewLimiter returns a gate allowing one request per delay.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// NewNitterSource creates a scraper for the instance at baseURL.
func NewNitterSource(baseURL string, opts ...NitterOption) *NitterSource {
	s := &NitterSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    NewLimiter(DefaultRateDelay),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *NitterSource) FetchLatest(ctx context.Context, account string, count int) ([]model.EvidenceItem, error) {
	account = normalizeAccount(account)
	if count <= 0 || count > MaxFetchCount {
		count = MaxFetchCount
	}

	body, err := fetchHTML(ctx, s.httpClient, s.limiter, s.baseURL+"/"+account)
	if err != nil {
		return nil, fmt.Errorf("%w: @%s: %v", model.ErrEvidenceFetch, account, err)
	}
	defer body.Close()

	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: @%s: parse: %v", model.ErrEvidenceFetch, account, err)
	}
	items := s.parseTimeline(doc, account)
	if len(items) > count {
		items = items[:count]
	}
	return items, nil
}

// parseTimeline extracts tweets from a timeline page. Entries without a
// permalink or content are skipped.
func (s *NitterSource) parseTimeline(doc *html.Node, account string) []model.EvidenceItem {
	var items []model.EvidenceItem
	for _, node := range cascadia.QueryAll(doc, selTimelineItem) {
		link := cascadia.Query(node, selTweetLink)
		if link == nil {
			continue
		}
		href := strings.TrimSuffix(attr(link, "href"), "#m")
		id := href[strings.LastIndex(href, "/")+1:]
		if id == "" {
			continue
		}
		content := cascadia.Query(node, selTweetContent)
		if content == nil {
			continue
		}

		author := account
		if u := cascadia.Query(node, selUsername); u != nil {
			author = strings.TrimPrefix(strings.TrimSpace(textOf(u)), "@")
		}
		created := s.now().UTC()
		if d := cascadia.Query(node, selTweetDate); d != nil {
			if t, ok := parseNitterDate(attr(d, "title")); ok {
				created = t
			}
		}

		items = append(items, model.EvidenceItem{
			ID:        id,
			Text:      strings.TrimSpace(textOf(content)),
			Author:    author,
			CreatedAt: created,
		})
	}
	return items
}

func parseNitterDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range nitterDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// fetchHTML waits on the limiter and GETs url. The caller closes the body.
func fetchHTML(ctx context.Context, c *http.Client, limiter *rate.Limiter, url string) (io.ReadCloser, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxBodySize), resp.Body}, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
