package evidence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

const timelineHTML = `<!DOCTYPE html>
<html><body><div class="timeline">
  <div class="timeline-item">
    <a class="tweet-link" href="/Tesla/status/111#m"></a>
    <div class="tweet-body">
      <a class="fullname" href="/Tesla">Tesla</a>
      <a class="username" href="/Tesla">@Tesla</a>
      <span class="tweet-date"><a href="/Tesla/status/111#m" title="Mar 5, 2026 · 4:20 PM UTC">2h</a></span>
      <div class="tweet-content media-body">Tesla ships the <b>new</b> Model Y</div>
    </div>
  </div>
  <div class="timeline-item">
    <div class="tweet-content">no permalink, skipped</div>
  </div>
  <div class="timeline-item">
    <a class="tweet-link" href="/Tesla/status/222#m"></a>
    <a class="username">@Tesla</a>
    <span class="tweet-date"><a title="Mar 4, 2026 · 9:00 AM UTC">1d</a></span>
    <div class="tweet-content">Older update</div>
  </div>
</div></body></html>`

func TestNitterSource_FetchLatest(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(timelineHTML))
	}))
	defer srv.Close()

	s := NewNitterSource(srv.URL, WithLimiter(NewLimiter(0)))
	items, err := s.FetchLatest(context.Background(), "@Tesla", 10)
	require.NoError(t, err)

	assert.Equal(t, "/Tesla", gotPath, "leading @ is stripped")
	require.Len(t, items, 2)
	assert.Equal(t, "111", items[0].ID)
	assert.Equal(t, "Tesla ships the new Model Y", items[0].Text)
	assert.Equal(t, "Tesla", items[0].Author)
	assert.Equal(t, time.Date(2026, 3, 5, 16, 20, 0, 0, time.UTC), items[0].CreatedAt)
	assert.False(t, items[0].Synthetic)
	assert.Equal(t, "222", items[1].ID)
}

func TestNitterSource_CountCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(timelineHTML))
	}))
	defer srv.Close()

	s := NewNitterSource(srv.URL, WithLimiter(NewLimiter(0)))
	items, err := s.FetchLatest(context.Background(), "Tesla", 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNitterSource_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewNitterSource(srv.URL, WithLimiter(NewLimiter(0)))
	_, err := s.FetchLatest(context.Background(), "Tesla", 10)
	assert.True(t, errors.Is(err, model.ErrEvidenceFetch), "err = %v", err)
}

func TestNitterSource_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	delay := 60 * time.Millisecond
	s := NewNitterSource(srv.URL, WithLimiter(NewLimiter(delay)))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := s.FetchLatest(ctx, "a", 10)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*delay-10*time.Millisecond)
}

func TestNitterSource_CancelledWhileWaiting(t *testing.T) {
	s := NewNitterSource("http://127.0.0.1:1", WithLimiter(NewLimiter(time.Hour)))
	ctx, cancel := context.WithCancel(context.Background())
	// Use up the burst token.
	s.limiter.Allow()
	cancel()

	_, err := s.FetchLatest(ctx, "a", 10)
	assert.Error(t, err)
}

func TestParseNitterDate(t *testing.T) {
	got, ok := parseNitterDate("Dec 31, 2025 · 11:59 PM UTC")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC), got)

	_, ok = parseNitterDate("yesterday")
	assert.False(t, ok)
}
