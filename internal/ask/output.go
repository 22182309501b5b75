package ask

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-web-search/models"
)

const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

func ValidFormat(format string) bool {
	switch format {
	case FormatMarkdown, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Progress prints each stage of a turn once, as snapshots arrive.
type Progress struct {
	w       io.Writer
	answer  io.Writer
	written int

	queries, imageQueries bool
	searched, imaged      bool
	processed, described  bool
	reported              map[string]bool
}

func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w, reported: make(map[string]bool)}
}

// StreamAnswer writes the answer to w as it grows.
func (p *Progress) StreamAnswer(w io.Writer) {
	p.answer = w
}

// Streamed reports whether any answer text was written by StreamAnswer.
func (p *Progress) Streamed() bool {
	return p.written > 0
}

// Update reports what changed since the previous snapshot.
func (p *Progress) Update(t models.AssistantTurn) {
	if t.IsDoneGeneratingSearchQueries && !p.queries {
		p.queries = true
		if len(t.SearchQueries) > 0 {
			fmt.Fprintf(p.w, "Searching: %s\n", strings.Join(t.SearchQueries, " | "))
		}
	}
	if len(t.ImageSearchQueries) > 0 && !p.imageQueries {
		p.imageQueries = true
		fmt.Fprintf(p.w, "Image search: %s\n", strings.Join(t.ImageSearchQueries, " | "))
	}
	if t.IsDonePerformingSearch && !p.searched {
		p.searched = true
		fmt.Fprintf(p.w, "Found %d web results\n", len(t.SearchResults))
	}
	if t.IsDonePerformingImageSearch && !p.imaged && len(t.ImageSearchQueries) > 0 {
		p.imaged = true
		fmt.Fprintf(p.w, "Found %d images\n", len(t.ImageSearchResults))
	}

	for _, s := range t.ProcessedSearchResults {
		p.reportSource(s)
	}
	if t.IsDoneProcessingSearchResults && !p.processed {
		p.processed = true
		if n := len(t.ProcessedSearchResults); n > 0 {
			fmt.Fprintf(p.w, "Read %d of %d pages\n", len(models.Successful(t.ProcessedSearchResults)), n)
		}
	}
	if t.IsDoneProcessingImageSearchResults && !p.described {
		p.described = true
		if n := len(t.ProcessedImageSearchResults); n > 0 {
			fmt.Fprintf(p.w, "Described %d of %d images\n", len(models.Successful(t.ProcessedImageSearchResults)), n)
		}
	}

	if p.answer != nil && len(t.FinalAnswer) > p.written {
		n, _ := io.WriteString(p.answer, t.FinalAnswer[p.written:])
		p.written += n
	}
}

func (p *Progress) reportSource(s models.SourceStatus) {
	if !s.Status.IsTerminal() {
		return
	}
	key := fmt.Sprintf("%s-%d", s.Source.Kind, s.Source.SourceNumber)
	if p.reported[key] {
		return
	}
	p.reported[key] = true
	if s.Status == models.StatusError {
		fmt.Fprintf(p.w, "  [%d] failed %s: %s\n", s.Source.SourceNumber, s.Source.URL, s.Error)
		return
	}
	fmt.Fprintf(p.w, "  [%d] read %s\n", s.Source.SourceNumber, s.Source.URL)
}

// Render writes the settled turn in format. For markdown, streamed says the
// answer text was already written and only the trailer is added.
func Render(w io.Writer, format string, t models.AssistantTurn, streamed bool) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return err
		}
		return enc.Close()
	default:
		return renderMarkdown(w, t, streamed)
	}
}

func renderMarkdown(w io.Writer, t models.AssistantTurn, streamed bool) error {
	var b strings.Builder
	if !streamed {
		b.WriteString(t.FinalAnswer)
	}
	if t.FinalAnswer != "" {
		b.WriteString("\n")
	}

	if sources := models.Successful(t.ProcessedSearchResults); len(sources) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, s := range sources {
			title := s.Title
			if title == "" {
				title = s.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s)\n", s.SourceNumber, title, s.URL)
		}
	}

	if images := models.Successful(t.ProcessedImageSearchResults); len(images) > 0 {
		b.WriteString("\n## Images\n\n")
		for _, s := range images {
			fmt.Fprintf(&b, "- [%s](%s): %s\n", s.Title, s.ImageURL, s.Summary)
		}
	}

	if len(t.FollowUpSearchQueries) > 0 {
		b.WriteString("\n## Related searches\n\n")
		for _, q := range t.FollowUpSearchQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}

	if len(t.InvalidCitations) > 0 {
		fmt.Fprintf(&b, "\n> Unverified citations: %v\n", t.InvalidCitations)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
