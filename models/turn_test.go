package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func status(n int, s ProcessingStatus) SourceStatus {
	return SourceStatus{Status: s, Source: Source{SourceNumber: n, Kind: KindWeb, URL: "https://example.com/" + string(rune('a'+n))}}
}

func TestMerge_MilestonesNeverReset(t *testing.T) {
	turn := NewTurn("t1", "s1", "boots")
	turn.Merge(TurnPatch{SearchQueries: []string{"boots"}, DoneSearchQueries: true, DoneSearch: true})
	turn.Merge(TurnPatch{Language: "en"})

	assert.True(t, turn.IsDoneGeneratingSearchQueries)
	assert.True(t, turn.IsDonePerformingSearch)
	assert.Equal(t, []string{"boots"}, turn.SearchQueries)
	assert.Equal(t, "en", turn.Language)
}

func TestMerge_StatusesMoveForward(t *testing.T) {
	turn := NewTurn("t1", "s1", "boots")
	turn.Merge(TurnPatch{ProcessedSearchResults: []SourceStatus{
		status(2, StatusNotStarted), status(1, StatusNotStarted),
	}})
	require.Len(t, turn.ProcessedSearchResults, 2)
	assert.Equal(t, 1, turn.ProcessedSearchResults[0].Source.SourceNumber)

	done := status(1, StatusSuccess)
	done.Source.Summary = "good"
	turn.Merge(TurnPatch{WebSource: &done})
	stale := status(1, StatusInProgress)
	turn.Merge(TurnPatch{WebSource: &stale})
	reset := status(1, StatusNotStarted)
	turn.Merge(TurnPatch{ProcessedSearchResults: []SourceStatus{reset}})

	assert.Equal(t, StatusSuccess, turn.ProcessedSearchResults[0].Status)
	assert.Equal(t, "good", turn.ProcessedSearchResults[0].Source.Summary)

	failed := status(2, StatusError)
	turn.Merge(TurnPatch{WebSource: &failed})
	retry := status(2, StatusSuccess)
	turn.Merge(TurnPatch{WebSource: &retry})
	assert.Equal(t, StatusError, turn.ProcessedSearchResults[1].Status)
}

func TestMerge_AnswerAndFinalStatus(t *testing.T) {
	turn := NewTurn("t1", "s1", "boots")
	turn.Merge(TurnPatch{AnswerDelta: "Boots "})
	turn.Merge(TurnPatch{AnswerDelta: "rock."})
	assert.Equal(t, "Boots rock.", turn.FinalAnswer)

	turn.Merge(TurnPatch{FinalAnswer: NoInformationAnswer, DoneAnswer: true})
	assert.Equal(t, NoInformationAnswer, turn.FinalAnswer)

	turn.Merge(TurnPatch{Status: TurnCompleted})
	require.False(t, turn.CompletedAt.IsZero())
	turn.Merge(TurnPatch{Status: TurnCancelled, Error: "late"})
	assert.Equal(t, TurnCompleted, turn.Status)
	assert.Equal(t, "late", turn.Error)
}

func TestClone_IsIndependent(t *testing.T) {
	turn := NewTurn("t1", "s1", "boots")
	turn.Merge(TurnPatch{SearchQueries: []string{"a"}, ProcessedSearchResults: []SourceStatus{status(1, StatusNotStarted)}})

	c := turn.Clone()
	c.SearchQueries[0] = "changed"
	c.ProcessedSearchResults[0].Status = StatusError
	assert.Equal(t, "a", turn.SearchQueries[0])
	assert.Equal(t, StatusNotStarted, turn.ProcessedSearchResults[0].Status)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ProcessingStatus
		want     bool
	}{
		{StatusNotStarted, StatusInProgress, true},
		{StatusNotStarted, StatusSuccess, true},
		{StatusInProgress, StatusError, true},
		{StatusInProgress, StatusNotStarted, false},
		{StatusSuccess, StatusError, false},
		{StatusError, StatusSuccess, false},
		{StatusNotStarted, StatusNotStarted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestNewSourceStatusAndSuccessful(t *testing.T) {
	r := SearchResult{Kind: KindImage, Title: "Boot", URL: "https://shop.example/boot", ImageURL: "https://cdn.example/boot.jpg"}
	s := NewSourceStatus(r, 3)
	assert.Equal(t, StatusNotStarted, s.Status)
	assert.Equal(t, 3, s.Source.SourceNumber)
	assert.Equal(t, "https://cdn.example/boot.jpg", s.Source.ImageURL)
	assert.Equal(t, "https://cdn.example/boot.jpg", r.MediaURL())

	ok := status(1, StatusSuccess)
	got := Successful([]SourceStatus{ok, status(2, StatusError), status(3, StatusInProgress)})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].SourceNumber)
}
