package db

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
)

func testSession(id string) models.Session {
	return models.Session{ID: id, Title: "Hiking boots", CreatedAt: time.Now()}
}

func testTurn(id, sessionID, query string, status models.TurnStatus) models.AssistantTurn {
	started := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	return models.AssistantTurn{
		ID:                          id,
		SessionID:                   sessionID,
		Query:                       query,
		Language:                    "en",
		SearchQueries:               []string{"boots 2024", "boots review"},
		ImageSearchQueries:          []string{"boot photo"},
		FollowUpSearchQueries:       []string{"waterproof boots"},
		FinalAnswer:                 "Boots [1](https://example.com/boots).",
		IsDoneGeneratingFinalAnswer: status == models.TurnCompleted,
		InvalidCitations:            []int{4},
		Status:                      status,
		StartedAt:                   started,
		CompletedAt:                 started.Add(12 * time.Second),
		ProcessedSearchResults: []models.SourceStatus{
			{
				Status: models.StatusSuccess,
				Source: models.Source{SourceNumber: 1, Kind: models.KindWeb, Title: "Boots", URL: "https://example.com/boots", Summary: "good boots"},
			},
			{
				Status: models.StatusError,
				Source: models.Source{SourceNumber: 2, Kind: models.KindWeb, Title: "Trail", URL: "https://trail.example.org/guide"},
				Error:  "failed to fetch page: timeout",
			},
		},
		ProcessedImageSearchResults: []models.SourceStatus{
			{
				Status: models.StatusSuccess,
				Source: models.Source{SourceNumber: 1, Kind: models.KindImage, Title: "Photo", URL: "https://shop.example/boot", ImageURL: "https://cdn.example/boot.jpg", Summary: "a brown boot"},
			},
		},
	}
}

func TestSaveTurn_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	want := testTurn("turn-1", "sess-1", "best hiking boots", models.TurnCompleted)
	if err := db.SaveTurn(testSession("sess-1"), want); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	got, err := db.GetTurn("turn-1")
	if err != nil {
		t.Fatalf("GetTurn() error = %v", err)
	}

	if got.Query != want.Query || got.Status != want.Status || got.FinalAnswer != want.FinalAnswer {
		t.Errorf("GetTurn() = %+v, want query/status/answer of %+v", got, want)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
	}
	if !reflect.DeepEqual(got.SearchQueries, want.SearchQueries) {
		t.Errorf("SearchQueries = %v, want %v", got.SearchQueries, want.SearchQueries)
	}
	if !reflect.DeepEqual(got.ImageSearchQueries, want.ImageSearchQueries) {
		t.Errorf("ImageSearchQueries = %v, want %v", got.ImageSearchQueries, want.ImageSearchQueries)
	}
	if !reflect.DeepEqual(got.FollowUpSearchQueries, want.FollowUpSearchQueries) {
		t.Errorf("FollowUpSearchQueries = %v, want %v", got.FollowUpSearchQueries, want.FollowUpSearchQueries)
	}
	if !reflect.DeepEqual(got.InvalidCitations, want.InvalidCitations) {
		t.Errorf("InvalidCitations = %v, want %v", got.InvalidCitations, want.InvalidCitations)
	}
	if !reflect.DeepEqual(got.ProcessedSearchResults, want.ProcessedSearchResults) {
		t.Errorf("ProcessedSearchResults = %+v, want %+v", got.ProcessedSearchResults, want.ProcessedSearchResults)
	}
	if !reflect.DeepEqual(got.ProcessedImageSearchResults, want.ProcessedImageSearchResults) {
		t.Errorf("ProcessedImageSearchResults = %+v, want %+v", got.ProcessedImageSearchResults, want.ProcessedImageSearchResults)
	}
	if !got.IsDoneGeneratingFinalAnswer {
		t.Error("IsDoneGeneratingFinalAnswer = false, want true")
	}
}

func TestSaveTurn_ReplacesExisting(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	turn := testTurn("turn-1", "sess-1", "q", models.TurnCompleted)
	if err := db.SaveTurn(testSession("sess-1"), turn); err != nil {
		t.Fatalf("first SaveTurn() error = %v", err)
	}
	turn.FinalAnswer = "updated"
	turn.SearchQueries = []string{"only one"}
	if err := db.SaveTurn(testSession("sess-1"), turn); err != nil {
		t.Fatalf("second SaveTurn() error = %v", err)
	}

	got, err := db.GetTurn("turn-1")
	if err != nil {
		t.Fatalf("GetTurn() error = %v", err)
	}
	if got.FinalAnswer != "updated" {
		t.Errorf("FinalAnswer = %q, want %q", got.FinalAnswer, "updated")
	}
	if len(got.SearchQueries) != 1 {
		t.Errorf("SearchQueries = %v, want one entry", got.SearchQueries)
	}

	var sources int
	db.QueryRow("SELECT COUNT(*) FROM turn_sources WHERE turn_id = ?", "turn-1").Scan(&sources)
	if sources != 3 {
		t.Errorf("turn_sources rows = %d, want 3", sources)
	}
}

func TestSaveTurn_SharesURLs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for _, id := range []string{"turn-1", "turn-2"} {
		if err := db.SaveTurn(testSession("sess-1"), testTurn(id, "sess-1", "q", models.TurnCompleted)); err != nil {
			t.Fatalf("SaveTurn(%s) error = %v", id, err)
		}
	}

	var urls int
	db.QueryRow("SELECT COUNT(*) FROM urls").Scan(&urls)
	if urls != 3 {
		t.Errorf("urls rows = %d, want 3", urls)
	}

	urlID, err := db.GetURLID("https://trail.example.org/guide")
	if err != nil {
		t.Fatalf("GetURLID() error = %v", err)
	}
	record, err := db.GetLastAccess(urlID)
	if err != nil || record == nil {
		t.Fatalf("GetLastAccess() = %v, %v", record, err)
	}
	if record.Success {
		t.Error("failed source recorded as success")
	}
}

func TestGetTurn_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetTurn("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTurn() error = %v, want ErrNotFound", err)
	}
}

func TestListTurns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	older := testTurn("turn-1", "sess-1", "first", models.TurnCompleted)
	newer := testTurn("turn-2", "sess-1", "second", models.TurnFailed)
	newer.StartedAt = older.StartedAt.Add(time.Minute)
	for _, turn := range []models.AssistantTurn{older, newer} {
		if err := db.SaveTurn(testSession("sess-1"), turn); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	turns, err := db.ListTurns(0)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("ListTurns() returned %d turns, want 2", len(turns))
	}
	if turns[0].TurnID != "turn-2" {
		t.Errorf("first turn = %s, want turn-2 (newest first)", turns[0].TurnID)
	}
	if turns[1].SourceCount != 3 || turns[1].SuccessCount != 2 {
		t.Errorf("counts = %d/%d, want 3/2", turns[1].SourceCount, turns[1].SuccessCount)
	}
	if turns[0].SessionTitle != "Hiking boots" {
		t.Errorf("SessionTitle = %q, want %q", turns[0].SessionTitle, "Hiking boots")
	}

	limited, err := db.ListTurns(1)
	if err != nil {
		t.Fatalf("ListTurns(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListTurns(1) returned %d turns, want 1", len(limited))
	}
}

func TestQueryTurns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ok := testTurn("turn-1", "sess-1", "hiking boots", models.TurnCompleted)
	failed := testTurn("turn-2", "sess-1", "rain jackets", models.TurnFailed)
	failed.ProcessedSearchResults = failed.ProcessedSearchResults[:1]
	failed.ProcessedImageSearchResults = nil
	failed.ProcessedSearchResults[0].Source.URL = "https://jackets.example.net/rain"
	for _, turn := range []models.AssistantTurn{ok, failed} {
		if err := db.SaveTurn(testSession("sess-1"), turn); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter TurnFilter
		want   []string
	}{
		{"failed only", TurnFilter{FailedOnly: true}, []string{"turn-2"}},
		{"query pattern", TurnFilter{QueryPattern: "boots"}, []string{"turn-1"}},
		{"domain", TurnFilter{Domain: "jackets.example.net"}, []string{"turn-2"}},
		{"no match", TurnFilter{QueryPattern: "tents"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns, err := db.QueryTurns(tt.filter)
			if err != nil {
				t.Fatalf("QueryTurns() error = %v", err)
			}
			var got []string
			for _, turn := range turns {
				got = append(got, turn.TurnID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("QueryTurns() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopDomains(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.SaveTurn(testSession("sess-1"), testTurn("turn-1", "sess-1", "q", models.TurnCompleted)); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	stats, err := db.TopDomains(2)
	if err != nil {
		t.Fatalf("TopDomains() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("TopDomains() returned %d rows, want 2", len(stats))
	}
	for _, s := range stats {
		if s.Sources != 1 {
			t.Errorf("%s sources = %d, want 1", s.Domain, s.Sources)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.SaveTurn(testSession("sess-1"), testTurn("turn-1", "sess-1", "q", models.TurnCompleted)); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	if err := db.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := db.GetTurn("turn-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTurn() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.DeleteSession("sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteSession() error = %v, want ErrNotFound", err)
	}
}
