package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeQuery(t *testing.T) {
	got, err := SanitizeQuery("  best \n hiking\tboots ")
	require.NoError(t, err)
	assert.Equal(t, "best hiking boots", got)

	_, err = SanitizeQuery(" \t\n ")
	assert.ErrorContains(t, err, "empty")

	_, err = SanitizeQuery(strings.Repeat("é", MaxQueryLength+1))
	assert.ErrorContains(t, err, "exceeds")

	_, err = SanitizeQuery(strings.Repeat("é", MaxQueryLength))
	assert.NoError(t, err)
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  https://example.com/a  ", "https://example.com/a"},
		{"[Boots](https://example.com/boots)", "https://example.com/boots"},
		{"<https://example.com/a>", "https://example.com/a"},
		{`"https://example.com/a",`, "https://example.com/a"},
		{"(https://example.com/a)", "https://example.com/a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeURL(tt.in), tt.in)
	}
}

func TestIsFetchableURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/boots", true},
		{"http://example.com", true},
		{"", false},
		{"ftp://example.com/file", false},
		{"/relative/path", false},
		{"https://example.com/a b", false},
		{"https://example.com{}", false},
		{"javascript:alert(1)", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsFetchableURL(tt.in), tt.in)
	}
}
