package db

import (
	"errors"
	"testing"

	"github.com/dtnitsch/llm-web-search/models"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database := &DB{path: ":memory:"}
	var err error
	database.DB, err = openDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Every pooled connection would get its own empty in-memory database.
	database.SetMaxOpenConns(1)

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return database
}

// webSource is a processed web result pointing at link.
func webSource(n int, link string, status models.ProcessingStatus) models.SourceStatus {
	s := models.SourceStatus{
		Status: status,
		Source: models.Source{SourceNumber: n, Kind: models.KindWeb, Title: "Source", URL: link},
	}
	if status == models.StatusError {
		s.Error = "failed to fetch page: status code 503"
	}
	return s
}

func archiveSources(t *testing.T, db *DB, turnID string, web ...models.SourceStatus) {
	t.Helper()
	turn := testTurn(turnID, "sess-1", "best hiking boots", models.TurnCompleted)
	turn.ProcessedSearchResults = web
	turn.ProcessedImageSearchResults = nil
	if err := db.SaveTurn(testSession("sess-1"), turn); err != nil {
		t.Fatalf("SaveTurn(%s) error = %v", turnID, err)
	}
}

func TestArchivedURLs_TrackingParamsShareCanonical(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	archiveSources(t, db, "turn-1",
		webSource(1, "https://Gear.example.com/boots/?utm_source=newsletter#reviews", models.StatusSuccess),
		webSource(2, "https://gear.example.com/boots?gclid=abc123", models.StatusSuccess),
		webSource(3, "https://gear.example.com/boots?size=10", models.StatusSuccess),
	)

	rows, err := db.Query("SELECT canonical_url FROM urls ORDER BY url_id")
	if err != nil {
		t.Fatalf("failed to query urls: %v", err)
	}
	defer rows.Close()

	var canonical []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			t.Fatalf("failed to scan canonical_url: %v", err)
		}
		canonical = append(canonical, c)
	}

	want := []string{
		"https://gear.example.com/boots",
		"https://gear.example.com/boots",
		"https://gear.example.com/boots?size=10",
	}
	if len(canonical) != len(want) {
		t.Fatalf("urls rows = %d, want %d (each original URL is kept)", len(canonical), len(want))
	}
	for i := range want {
		if canonical[i] != want[i] {
			t.Errorf("canonical_url[%d] = %q, want %q", i, canonical[i], want[i])
		}
	}
}

func TestArchivedURLs_Components(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	link := "https://trail.example.org/guides/boots.html?lang=de&page=2#fit"
	archiveSources(t, db, "turn-1", webSource(1, link, models.StatusSuccess))

	var domain, path, fragment string
	err := db.QueryRow(`
		SELECT domain, path, fragment FROM urls WHERE original_url = ?
	`, link).Scan(&domain, &path, &fragment)
	if err != nil {
		t.Fatalf("failed to query URL: %v", err)
	}
	if domain != "trail.example.org" || path != "/guides/boots.html" || fragment != "fit" {
		t.Errorf("components = (%q, %q, %q)", domain, path, fragment)
	}

	var params int
	db.QueryRow(`
		SELECT COUNT(*) FROM url_query_params p JOIN urls u ON p.url_id = u.url_id
		WHERE u.original_url = ? AND p.key IN ('lang', 'page')
	`, link).Scan(&params)
	if params != 2 {
		t.Errorf("query params = %d, want 2", params)
	}
}

func TestArchivedURLs_RelativeSourceRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	turn := testTurn("turn-1", "sess-1", "boots", models.TurnCompleted)
	turn.ProcessedSearchResults = []models.SourceStatus{webSource(1, "/boots", models.StatusSuccess)}
	if err := db.SaveTurn(testSession("sess-1"), turn); err == nil {
		t.Fatal("SaveTurn() accepted a relative source URL")
	}
	if _, err := db.GetTurn("turn-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTurn() error = %v, want ErrNotFound after rollback", err)
	}
}

func TestGetURLID_MatchesCanonicalForm(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	original := "https://gear.example.com/boots?utm_campaign=fall"
	archiveSources(t, db, "turn-1", webSource(1, original, models.StatusSuccess))

	exact, err := db.GetURLID(original)
	if err != nil {
		t.Fatalf("GetURLID(original) error = %v", err)
	}
	viaCanonical, err := db.GetURLID("https://GEAR.example.com/boots/")
	if err != nil {
		t.Fatalf("GetURLID(canonical) error = %v", err)
	}
	if exact != viaCanonical {
		t.Errorf("GetURLID() = %d and %d, want the same row", exact, viaCanonical)
	}

	if _, err := db.GetURLID("https://unknown.example.net/"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetURLID(unknown) error = %v, want ErrNotFound", err)
	}
}
