package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
)

// Synthesizer streams the cited answer for a turn.
type Synthesizer struct {
	caps   Capabilities
	logger *slog.Logger
}

func NewSynthesizer(caps Capabilities, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{caps: caps, logger: logger}
}

// Synthesize consumes the answer stream, handing every fragment to onDelta as it
// arrives, and returns the full text. On cancellation the partial text is
// returned with gateway.ErrCancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, req gateway.AnswerRequest, onDelta func(string)) (string, error) {
	if err := checkpoint(ctx); err != nil {
		return "", err
	}
	stream, err := s.caps.StreamAnswer(ctx, req)
	if err != nil {
		if isCancelled(ctx, err) {
			return "", gateway.ErrCancelled
		}
		return "", err
	}

	var b strings.Builder
	for fragment := range stream.Fragments() {
		if checkpoint(ctx) != nil {
			break
		}
		b.WriteString(fragment)
		if onDelta != nil {
			onDelta(fragment)
		}
	}
	err = stream.Err()
	if isCancelled(ctx, err) {
		return b.String(), gateway.ErrCancelled
	}
	if err != nil {
		return b.String(), err
	}
	s.logger.Debug("answer streamed", "chars", b.Len(), "sources", len(req.Sources), "image_sources", len(req.ImageSources))
	return b.String(), nil
}

// citationPattern matches markdown links of the form [n](url).
var citationPattern = regexp.MustCompile(`\[(\d+)\]\(([^)\s]+)\)`)

// ValidateCitations returns the source numbers cited in text that do not match a
// provided source, either because the number is unknown or because the linked
// url differs from that source's url. Image embeds are ignored.
func ValidateCitations(text string, sources []models.Source) []int {
	byNumber := make(map[int]string, len(sources))
	for _, src := range sources {
		byNumber[src.SourceNumber] = models.NormalizeURL(src.URL)
	}

	var invalid []int
	for _, m := range citationPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > 0 && text[m[0]-1] == '!' {
			continue
		}
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		want, ok := byNumber[n]
		if !ok || want != models.NormalizeURL(text[m[4]:m[5]]) {
			invalid = append(invalid, n)
		}
	}
	slices.Sort(invalid)
	return slices.Compact(invalid)
}
