package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/dtnitsch/llm-web-search/models"
)

// DuckDuckGo scrapes the lite HTML interface. It only serves web searches.
type DuckDuckGo struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

func NewDuckDuckGo(cfg models.DuckDuckGoConfig, userAgent string) *DuckDuckGo {
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = "https://lite.duckduckgo.com/lite/"
	}
	return &DuckDuckGo{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   newLimiter(cfg.RatePerSecond),
	}
}

func (d *DuckDuckGo) Name() string { return ProviderDuckDuckGo }

func (d *DuckDuckGo) Search(ctx context.Context, req Request) ([]models.SearchResult, error) {
	if req.Kind == models.KindImage {
		return nil, ErrUnsupportedKind
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", req.Query)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if d.userAgent != "" {
		httpReq.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: ProviderDuckDuckGo, StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return parseLiteResults(doc, normalizeCount(req.Count)), nil
}

// parseLiteResults pairs each result link with the snippet row that follows it.
func parseLiteResults(doc *goquery.Document, limit int) []models.SearchResult {
	snippets := doc.Find("td.result-snippet").Map(func(_ int, s *goquery.Selection) string {
		return strings.Join(strings.Fields(s.Text()), " ")
	})

	var results []models.SearchResult
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		target := resolveRedirect(href)
		title := strings.Join(strings.Fields(s.Text()), " ")
		if target == "" || title == "" {
			return true
		}
		r := models.SearchResult{
			Kind:     models.KindWeb,
			Title:    title,
			URL:      target,
			Provider: ProviderDuckDuckGo,
		}
		if i < len(snippets) {
			r.Description = snippets[i]
		}
		results = append(results, r)
		return len(results) < limit
	})
	return results
}

// resolveRedirect unwraps //duckduckgo.com/l/?uddg=<target> links and drops ad redirects.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		target := u.Query().Get("uddg")
		if target == "" {
			return ""
		}
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}
