package models

import (
	"slices"
	"time"
)

// TurnStatus is the overall outcome of a turn.
type TurnStatus string

const (
	TurnRunning   TurnStatus = "running"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)

// IsFinal reports whether the turn has stopped.
func (s TurnStatus) IsFinal() bool {
	return s == TurnCompleted || s == TurnFailed || s == TurnCancelled
}

// NoInformationAnswer is the fixed answer when no text source could be processed.
const NoInformationAnswer = "I was unable to find any relevant information."

// AssistantTurn accumulates everything produced for one user query.
type AssistantTurn struct {
	ID        string `json:"id" yaml:"id"`
	SessionID string `json:"sessionId" yaml:"session_id"`
	Query     string `json:"query" yaml:"query"`
	Language  string `json:"language,omitempty" yaml:"language,omitempty"`

	SearchQueries                 []string       `json:"searchQueries,omitempty" yaml:"search_queries,omitempty"`
	IsDoneGeneratingSearchQueries bool           `json:"isDoneGeneratingSearchQueries" yaml:"done_generating_search_queries"`
	SearchResults                 []SearchResult `json:"searchResults,omitempty" yaml:"search_results,omitempty"`
	IsDonePerformingSearch        bool           `json:"isDonePerformingSearch" yaml:"done_performing_search"`
	ProcessedSearchResults        []SourceStatus `json:"processedSearchResults,omitempty" yaml:"processed_search_results,omitempty"`
	IsDoneProcessingSearchResults bool           `json:"isDoneProcessingSearchResults" yaml:"done_processing_search_results"`

	ImageSearchQueries                 []string       `json:"imageSearchQueries,omitempty" yaml:"image_search_queries,omitempty"`
	ImageSearchResults                 []SearchResult `json:"imageSearchResults,omitempty" yaml:"image_search_results,omitempty"`
	IsDonePerformingImageSearch        bool           `json:"isDonePerformingImageSearch" yaml:"done_performing_image_search"`
	ProcessedImageSearchResults        []SourceStatus `json:"processedImageSearchResults,omitempty" yaml:"processed_image_search_results,omitempty"`
	IsDoneProcessingImageSearchResults bool           `json:"isDoneProcessingImageSearchResults" yaml:"done_processing_image_search_results"`

	FinalAnswer                 string   `json:"finalAnswer" yaml:"final_answer"`
	IsDoneGeneratingFinalAnswer bool     `json:"isDoneGeneratingFinalAnswer" yaml:"done_generating_final_answer"`
	FollowUpSearchQueries       []string `json:"followUpSearchQueries,omitempty" yaml:"follow_up_search_queries,omitempty"`
	InvalidCitations            []int    `json:"invalidCitations,omitempty" yaml:"invalid_citations,omitempty"`

	Status      TurnStatus `json:"status" yaml:"status"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt" yaml:"started_at"`
	CompletedAt time.Time  `json:"completedAt,omitempty" yaml:"completed_at,omitempty"`
}

// NewTurn returns a running turn for query.
func NewTurn(id, sessionID, query string) *AssistantTurn {
	return &AssistantTurn{
		ID:        id,
		SessionID: sessionID,
		Query:     query,
		Status:    TurnRunning,
		StartedAt: time.Now(),
	}
}

// TurnPatch is a partial update. Zero values mean "no change". Milestone flags
// only ever move from false to true.
type TurnPatch struct {
	Language string

	SearchQueries          []string
	DoneSearchQueries      bool
	SearchResults          []SearchResult
	DoneSearch             bool
	ProcessedSearchResults []SourceStatus
	WebSource              *SourceStatus
	DoneProcessingSearch   bool

	ImageSearchQueries          []string
	ImageSearchResults          []SearchResult
	DoneImageSearch             bool
	ProcessedImageSearchResults []SourceStatus
	ImageSource                 *SourceStatus
	DoneProcessingImages        bool

	AnswerDelta           string
	FinalAnswer           string
	DoneAnswer            bool
	FollowUpSearchQueries []string
	InvalidCitations      []int

	Status TurnStatus
	Error  string
}

// Merge applies p to t. It never removes earlier data: source statuses only
// move forward, the answer only grows unless explicitly replaced, and a
// finished turn keeps its outcome.
func (t *AssistantTurn) Merge(p TurnPatch) {
	if p.Language != "" {
		t.Language = p.Language
	}

	if p.SearchQueries != nil {
		t.SearchQueries = slices.Clone(p.SearchQueries)
	}
	t.IsDoneGeneratingSearchQueries = t.IsDoneGeneratingSearchQueries || p.DoneSearchQueries
	if p.SearchResults != nil {
		t.SearchResults = slices.Clone(p.SearchResults)
	}
	t.IsDonePerformingSearch = t.IsDonePerformingSearch || p.DoneSearch
	if p.ProcessedSearchResults != nil {
		t.ProcessedSearchResults = mergeStatuses(t.ProcessedSearchResults, p.ProcessedSearchResults)
	}
	if p.WebSource != nil {
		t.ProcessedSearchResults = mergeStatuses(t.ProcessedSearchResults, []SourceStatus{*p.WebSource})
	}
	t.IsDoneProcessingSearchResults = t.IsDoneProcessingSearchResults || p.DoneProcessingSearch

	if p.ImageSearchQueries != nil {
		t.ImageSearchQueries = slices.Clone(p.ImageSearchQueries)
	}
	if p.ImageSearchResults != nil {
		t.ImageSearchResults = slices.Clone(p.ImageSearchResults)
	}
	t.IsDonePerformingImageSearch = t.IsDonePerformingImageSearch || p.DoneImageSearch
	if p.ProcessedImageSearchResults != nil {
		t.ProcessedImageSearchResults = mergeStatuses(t.ProcessedImageSearchResults, p.ProcessedImageSearchResults)
	}
	if p.ImageSource != nil {
		t.ProcessedImageSearchResults = mergeStatuses(t.ProcessedImageSearchResults, []SourceStatus{*p.ImageSource})
	}
	t.IsDoneProcessingImageSearchResults = t.IsDoneProcessingImageSearchResults || p.DoneProcessingImages

	if p.FinalAnswer != "" {
		t.FinalAnswer = p.FinalAnswer
	}
	t.FinalAnswer += p.AnswerDelta
	t.IsDoneGeneratingFinalAnswer = t.IsDoneGeneratingFinalAnswer || p.DoneAnswer
	if p.FollowUpSearchQueries != nil {
		t.FollowUpSearchQueries = slices.Clone(p.FollowUpSearchQueries)
	}
	if p.InvalidCitations != nil {
		t.InvalidCitations = slices.Clone(p.InvalidCitations)
	}

	if p.Error != "" && t.Error == "" {
		t.Error = p.Error
	}
	if p.Status != "" && !t.Status.IsFinal() {
		t.Status = p.Status
		if p.Status.IsFinal() {
			t.CompletedAt = time.Now()
		}
	}
}

// mergeStatuses folds updates into current keyed by source number. Entries
// never move backwards and numbers already present are never reassigned.
func mergeStatuses(current, updates []SourceStatus) []SourceStatus {
	out := slices.Clone(current)
	for _, u := range updates {
		idx := slices.IndexFunc(out, func(s SourceStatus) bool {
			return s.Source.SourceNumber == u.Source.SourceNumber
		})
		if idx < 0 {
			out = append(out, u)
			continue
		}
		if out[idx].Status.CanTransition(u.Status) {
			out[idx] = u
		}
	}
	slices.SortStableFunc(out, func(a, b SourceStatus) int {
		return a.Source.SourceNumber - b.Source.SourceNumber
	})
	return out
}

// Clone returns a deep copy safe to hand to observers.
func (t *AssistantTurn) Clone() AssistantTurn {
	c := *t
	c.SearchQueries = slices.Clone(t.SearchQueries)
	c.SearchResults = slices.Clone(t.SearchResults)
	c.ProcessedSearchResults = slices.Clone(t.ProcessedSearchResults)
	c.ImageSearchQueries = slices.Clone(t.ImageSearchQueries)
	c.ImageSearchResults = slices.Clone(t.ImageSearchResults)
	c.ProcessedImageSearchResults = slices.Clone(t.ProcessedImageSearchResults)
	c.FollowUpSearchQueries = slices.Clone(t.FollowUpSearchQueries)
	c.InvalidCitations = slices.Clone(t.InvalidCitations)
	return c
}
