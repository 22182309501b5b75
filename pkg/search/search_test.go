package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/llm-web-search/models"
)

const braveWebBody = `{
  "web": {"results": [
    {"title": "Best Boots", "url": "https://example.com/boots", "description": "The <strong>best</strong> boots", "age": "2 days ago",
     "meta_url": {"favicon": "https://imgs.search.brave.com/fav.png"}},
    {"title": "No URL", "url": ""},
    {"title": "Trail Guide", "url": "https://trail.example.org/guide", "description": "A guide", "profile": {"img": "https://p.example/img.png"}}
  ]}
}`

const braveImageBody = `{
  "results": [
    {"title": "Boot photo", "url": "https://shop.example/boot", "source": "shop.example",
     "properties": {"url": "https://cdn.example/boot.jpg"}, "thumbnail": {"src": "https://imgs.search.brave.com/t.jpg"}},
    {"title": "Broken", "url": "https://x.example", "properties": {"url": ""}}
  ]
}`

func newBraveServer(t *testing.T, seen *http.Request) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/web", func(w http.ResponseWriter, r *http.Request) {
		*seen = *r
		fmt.Fprint(w, braveWebBody)
	})
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		*seen = *r
		fmt.Fprint(w, braveImageBody)
	})
	mux.HandleFunc("/limited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBraveWeb(t *testing.T) {
	var seen http.Request
	srv := newBraveServer(t, &seen)
	b := NewBrave(models.BraveConfig{
		APIKey:         "token",
		WebURL:         srv.URL + "/web",
		SafeSearch:     "strict",
		UseQueryLocale: true,
		Timeout:        5 * time.Second,
	})

	results, err := b.Search(context.Background(), Request{Query: "hiking boots", Kind: models.KindWeb, Count: 3, SearchLang: "de"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "token", seen.Header.Get("X-Subscription-Token"))
	assert.Equal(t, "hiking boots", seen.URL.Query().Get("q"))
	assert.Equal(t, "3", seen.URL.Query().Get("count"))
	assert.Equal(t, "de", seen.URL.Query().Get("search_lang"))
	assert.Equal(t, "strict", seen.URL.Query().Get("safesearch"))

	assert.Equal(t, "The best boots", results[0].Description)
	assert.Equal(t, "https://imgs.search.brave.com/fav.png", results[0].Favicon)
	assert.Equal(t, "2 days ago", results[0].Metadata["age"])
	assert.Equal(t, "https://p.example/img.png", results[1].Favicon)
	assert.Equal(t, ProviderBrave, results[1].Provider)
}

func TestBraveSearchLangUsesBraveCodes(t *testing.T) {
	var seen http.Request
	srv := newBraveServer(t, &seen)
	b := NewBrave(models.BraveConfig{APIKey: "token", WebURL: srv.URL + "/web", UseQueryLocale: true})

	tests := []struct{ code, want string }{
		{"ja", "jp"},
		{"zh", "zh-hans"},
		{"pt", "pt-br"},
		{"uk", "uk"},
		{"FR", "fr"},
	}
	for _, tt := range tests {
		_, err := b.Search(context.Background(), Request{Query: "boots", Kind: models.KindWeb, SearchLang: tt.code})
		require.NoError(t, err)
		assert.Equal(t, tt.want, seen.URL.Query().Get("search_lang"), tt.code)
	}
}

func TestBraveImages(t *testing.T) {
	var seen http.Request
	srv := newBraveServer(t, &seen)
	b := NewBrave(models.BraveConfig{APIKey: "token", ImageURL: srv.URL + "/images"})

	results, err := b.Search(context.Background(), Request{Query: "boot", Kind: models.KindImage})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.KindImage, results[0].Kind)
	assert.Equal(t, "https://cdn.example/boot.jpg", results[0].ImageURL)
	assert.Equal(t, "https://imgs.search.brave.com/t.jpg", results[0].ThumbnailURL)
	assert.Equal(t, "5", seen.URL.Query().Get("count"))
}

func TestBraveErrors(t *testing.T) {
	var seen http.Request
	srv := newBraveServer(t, &seen)

	_, err := NewBrave(models.BraveConfig{WebURL: srv.URL + "/web"}).Search(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewBrave(models.BraveConfig{APIKey: "k", WebURL: srv.URL + "/limited"}).Search(context.Background(), Request{Query: "q"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)

	_, err = NewBrave(models.BraveConfig{APIKey: "k", WebURL: srv.URL + "/garbage"}).Search(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestBraveRateLimitHonoursCancellation(t *testing.T) {
	var seen http.Request
	srv := newBraveServer(t, &seen)
	b := NewBrave(models.BraveConfig{APIKey: "k", WebURL: srv.URL + "/web", RatePerSecond: 0.01})

	_, err := b.Search(context.Background(), Request{Query: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Search(ctx, Request{Query: "second"})
	assert.Error(t, err)
}

const ddgLiteBody = `<html><body><table>
<tr><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fboots&rut=abc" class='result-link'>Best   Boots</a></td></tr>
<tr><td class='result-snippet'>Waterproof <b>boots</b> reviewed</td></tr>
<tr><td><a rel="nofollow" href="https://direct.example.org/page" class='result-link'>Direct page</a></td></tr>
<tr><td class='result-snippet'>Second snippet</td></tr>
<tr><td><a rel="nofollow" href="//duckduckgo.com/y.js?ad_provider=x" class='result-link'>Sponsored</a></td></tr>
<tr><td class='result-snippet'>Ad</td></tr>
</table></body></html>`

func TestDuckDuckGo(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("q")
		gotAgent = r.UserAgent()
		fmt.Fprint(w, ddgLiteBody)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(models.DuckDuckGoConfig{URL: srv.URL, Timeout: 5 * time.Second}, "test-agent")
	results, err := d.Search(context.Background(), Request{Query: "hiking boots", Kind: models.KindWeb})
	require.NoError(t, err)

	assert.Equal(t, "hiking boots", gotQuery)
	assert.Equal(t, "test-agent", gotAgent)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/boots", results[0].URL)
	assert.Equal(t, "Best Boots", results[0].Title)
	assert.Equal(t, "Waterproof boots reviewed", results[0].Description)
	assert.Equal(t, "https://direct.example.org/page", results[1].URL)
	assert.Equal(t, "Second snippet", results[1].Description)
}

func TestDuckDuckGoRejectsImages(t *testing.T) {
	d := NewDuckDuckGo(models.DuckDuckGoConfig{URL: "http://127.0.0.1:1"}, "")
	_, err := d.Search(context.Background(), Request{Query: "q", Kind: models.KindImage})
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example%2Fx", "https://a.example/x"},
		{"https://b.example/y", "https://b.example/y"},
		{"/relative", ""},
		{"javascript:void(0)", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveRedirect(tt.href), tt.href)
	}
}

func TestRegistryFromConfig(t *testing.T) {
	r := NewRegistryFromConfig(models.DefaultConfig().Search, "ua")
	assert.Equal(t, []string{ProviderBrave, ProviderDuckDuckGo}, r.Names())
	assert.Nil(t, r.Get("bing"))
}

func TestNormalizeCount(t *testing.T) {
	assert.Equal(t, DefaultCount, normalizeCount(0))
	assert.Equal(t, 7, normalizeCount(7))
	assert.Equal(t, MaxCount, normalizeCount(100))
}
