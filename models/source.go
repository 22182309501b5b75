package models

// ProcessingStatus is the lifecycle state of one accepted search result.
type ProcessingStatus string

const (
	StatusNotStarted ProcessingStatus = "not-started"
	StatusInProgress ProcessingStatus = "in-progress"
	StatusSuccess    ProcessingStatus = "success"
	StatusError      ProcessingStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

func (s ProcessingStatus) rank() int {
	switch s {
	case StatusInProgress:
		return 1
	case StatusSuccess, StatusError:
		return 2
	default:
		return 0
	}
}

// CanTransition reports whether moving from s to next is a forward step.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Source is a search result enriched with its citation number and, on success, a summary.
type Source struct {
	SourceNumber int        `json:"sourceNumber" yaml:"source_number"`
	Kind         SearchKind `json:"kind" yaml:"kind"`
	Title        string     `json:"title" yaml:"title"`
	URL          string     `json:"url" yaml:"url"`
	ImageURL     string     `json:"imgUrl,omitempty" yaml:"image_url,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty" yaml:"thumbnail_url,omitempty"`
	Favicon      string     `json:"favicon,omitempty" yaml:"favicon,omitempty"`
	Summary      string     `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// SourceStatus tracks processing of one source.
type SourceStatus struct {
	Status ProcessingStatus `json:"scrapeStatus" yaml:"status"`
	Source Source           `json:"source" yaml:"source"`
	Error  string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewSourceStatus creates the not-started entry for an accepted result.
func NewSourceStatus(r SearchResult, number int) SourceStatus {
	return SourceStatus{
		Status: StatusNotStarted,
		Source: Source{
			SourceNumber: number,
			Kind:         r.Kind,
			Title:        r.Title,
			URL:          r.URL,
			ImageURL:     r.ImageURL,
			ThumbnailURL: r.ThumbnailURL,
			Favicon:      r.Favicon,
		},
	}
}

// Successful returns the sources whose processing succeeded, in source-number order.
func Successful(statuses []SourceStatus) []Source {
	out := make([]Source, 0, len(statuses))
	for _, s := range statuses {
		if s.Status == StatusSuccess {
			out = append(out, s.Source)
		}
	}
	return out
}
