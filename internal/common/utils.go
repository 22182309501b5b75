package common

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength bounds the raw user question accepted by any surface.
const MaxQueryLength = 2000

var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeQuery trims a user question and collapses internal whitespace.
func SanitizeQuery(raw string) (string, error) {
	cleaned := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
	if cleaned == "" {
		return "", errors.New("query is empty")
	}
	if utf8.RuneCountInString(cleaned) > MaxQueryLength {
		return "", fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	}
	return cleaned, nil
}

var markdownLinkPattern = regexp.MustCompile(`^\[.*?\]\((https?://[^\)]+)\)$`)

// SanitizeURL performs basic cleanup on URLs returned by providers.
// Removes whitespace, trailing punctuation and markdown artifacts.
func SanitizeURL(rawURL string) string {
	cleaned := strings.TrimSpace(rawURL)

	// [text](url) -> url
	if matches := markdownLinkPattern.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = matches[1]
	}

	for _, char := range []string{",", ")", "}", "]", "\"", "'", ">", ";"} {
		cleaned = strings.TrimSuffix(cleaned, char)
	}
	for _, char := range []string{"(", "[", "<", "\"", "'"} {
		cleaned = strings.TrimPrefix(cleaned, char)
	}

	return strings.TrimSpace(cleaned)
}

// IsFetchableURL reports whether rawURL is an absolute http(s) URL with a sane host.
func IsFetchableURL(rawURL string) bool {
	if rawURL == "" || strings.Contains(rawURL, " ") {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	// Example: "https://example.com{}" should fail
	return !strings.ContainsAny(parsed.Host, "{}[]<>\"'")
}
