package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/dtnitsch/llm-web-search/internal/common"
	"github.com/dtnitsch/llm-web-search/models"
)

// ErrNoAPIKey is returned when Brave is used without a subscription token.
var ErrNoAPIKey = errors.New("brave api key is empty")

// Brave queries the Brave Search web and image endpoints.
type Brave struct {
	cfg     models.BraveConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewBrave(cfg models.BraveConfig) *Brave {
	return &Brave{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.RatePerSecond),
	}
}

func (b *Brave) Name() string { return ProviderBrave }

// braveLanguages maps ISO 639-1 codes onto the search_lang values Brave uses
// where the two differ.
var braveLanguages = map[string]string{
	"ja": "jp",
	"zh": "zh-hans",
	"pt": "pt-br",
}

func braveSearchLang(code string) string {
	code = strings.ToLower(code)
	if mapped, ok := braveLanguages[code]; ok {
		return mapped
	}
	return code
}

func (b *Brave) Search(ctx context.Context, req Request) ([]models.SearchResult, error) {
	if b.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	endpoint := b.cfg.WebURL
	if req.Kind == models.KindImage {
		endpoint = b.cfg.ImageURL
	}
	searchURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid brave endpoint: %w", err)
	}

	q := searchURL.Query()
	q.Set("q", req.Query)
	q.Set("count", strconv.Itoa(normalizeCount(req.Count)))
	if b.cfg.SafeSearch != "" {
		q.Set("safesearch", b.cfg.SafeSearch)
	}
	country := b.cfg.Country
	if req.Country != "" && b.cfg.UseQueryLocale {
		country = req.Country
	}
	if country != "" {
		q.Set("country", country)
	}
	if req.SearchLang != "" && b.cfg.UseQueryLocale {
		q.Set("search_lang", braveSearchLang(req.SearchLang))
	}
	searchURL.RawQuery = q.Encode()

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", b.cfg.APIKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Provider: ProviderBrave, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	if req.Kind == models.KindImage {
		return parseBraveImages(body)
	}
	return parseBraveWeb(body)
}

type braveWebResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
			Profile     struct {
				Img string `json:"img"`
			} `json:"profile"`
			MetaURL struct {
				Favicon string `json:"favicon"`
			} `json:"meta_url"`
		} `json:"results"`
	} `json:"web"`
}

func parseBraveWeb(body []byte) ([]models.SearchResult, error) {
	var resp braveWebResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	results := make([]models.SearchResult, 0, len(resp.Web.Results))
	for _, entry := range resp.Web.Results {
		link := common.SanitizeURL(entry.URL)
		if !common.IsFetchableURL(link) {
			continue
		}
		favicon := entry.MetaURL.Favicon
		if favicon == "" {
			favicon = entry.Profile.Img
		}
		r := models.SearchResult{
			Kind:        models.KindWeb,
			Title:       strings.TrimSpace(entry.Title),
			URL:         link,
			Description: stripTags(entry.Description),
			Favicon:     favicon,
			Provider:    ProviderBrave,
		}
		if entry.Age != "" {
			r.Metadata = map[string]string{"age": entry.Age}
		}
		results = append(results, r)
	}
	return results, nil
}

type braveImageResponse struct {
	Results []struct {
		Title      string `json:"title"`
		URL        string `json:"url"`
		Source     string `json:"source"`
		Properties struct {
			URL string `json:"url"`
		} `json:"properties"`
		Thumbnail struct {
			Src string `json:"src"`
		} `json:"thumbnail"`
	} `json:"results"`
}

func parseBraveImages(body []byte) ([]models.SearchResult, error) {
	var resp braveImageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	results := make([]models.SearchResult, 0, len(resp.Results))
	for _, entry := range resp.Results {
		imageURL := common.SanitizeURL(entry.Properties.URL)
		if !common.IsFetchableURL(imageURL) {
			continue
		}
		r := models.SearchResult{
			Kind:         models.KindImage,
			Title:        strings.TrimSpace(entry.Title),
			URL:          entry.URL,
			ImageURL:     imageURL,
			ThumbnailURL: entry.Thumbnail.Src,
			Provider:     ProviderBrave,
		}
		if entry.Source != "" {
			r.Metadata = map[string]string{"source": entry.Source}
		}
		results = append(results, r)
	}
	return results, nil
}

// stripTags removes the <strong> highlighting Brave puts into descriptions.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
