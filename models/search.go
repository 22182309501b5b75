package models

import (
	"net/url"
	"sort"
	"strings"
)

// SearchKind is the modality of a search: web pages or images.
type SearchKind string

const (
	KindWeb   SearchKind = "web"
	KindImage SearchKind = "image"
)

// QueryOptimization is the ordered list of refined search strings for one raw query.
type QueryOptimization struct {
	Queries []string `json:"queries" yaml:"queries"`
}

// SearchResult is one item returned by a search provider.
type SearchResult struct {
	Kind         SearchKind        `json:"kind" yaml:"kind"`
	Title        string            `json:"title" yaml:"title"`
	URL          string            `json:"url" yaml:"url"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	ImageURL     string            `json:"imageUrl,omitempty" yaml:"image_url,omitempty"`
	ThumbnailURL string            `json:"thumbnailUrl,omitempty" yaml:"thumbnail_url,omitempty"`
	Favicon      string            `json:"favicon,omitempty" yaml:"favicon,omitempty"`
	Provider     string            `json:"provider,omitempty" yaml:"provider,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// MediaURL is the address fetched when processing the item.
func (r SearchResult) MediaURL() string {
	if r.Kind == KindImage && r.ImageURL != "" {
		return r.ImageURL
	}
	return r.URL
}

// IdentityKey returns the deduplication key. With exact set the raw URL string is used.
func (r SearchResult) IdentityKey(exact bool) string {
	raw := r.MediaURL()
	if exact {
		return raw
	}
	return NormalizeURL(raw)
}

// trackingParams are dropped from URLs before comparison.
var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"msclkid": true,
	"ref":     true,
	"ref_src": true,
	"mc_cid":  true,
	"mc_eid":  true,
}

// NormalizeURL canonicalizes a URL for identity comparison: lower-case scheme
// and host, no fragment, no tracking parameters, sorted query, no trailing slash.
// Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(key)
		}
	}
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		vals := q[key]
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.RawPath = ""
	out := u.String()
	return strings.TrimSuffix(out, "/")
}
