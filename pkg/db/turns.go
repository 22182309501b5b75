package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
)

// timeLayout is how turn and session times are stored; SQLite date functions accept it.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	roleWeb      = "web"
	roleImage    = "image"
	roleFollowUp = "follow_up"
)

// TurnSummary is one row of the history listing.
type TurnSummary struct {
	TurnID       string
	SessionID    string
	SessionTitle string
	Query        string
	Status       string
	SourceCount  int
	SuccessCount int
	StartedAt    time.Time
}

// TurnFilter narrows QueryTurns. Zero values match everything.
type TurnFilter struct {
	TodayOnly    bool
	FailedOnly   bool
	QueryPattern string
	Domain       string
	Limit        int
}

// SaveTurn archives a settled turn with its queries and sources. Saving the
// same turn again replaces the earlier copy.
func (db *DB) SaveTurn(session models.Session, turn models.AssistantTurn) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if err := saveTurn(tx, session, turn); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

func saveTurn(tx *sql.Tx, session models.Session, turn models.AssistantTurn) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (session_id, title, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET title = excluded.title
	`, session.ID, session.Title, formatTime(session.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM turns WHERE turn_id = ?", turn.ID); err != nil {
		return fmt.Errorf("failed to replace turn: %w", err)
	}

	var citations sql.NullString
	if len(turn.InvalidCitations) > 0 {
		raw, err := json.Marshal(turn.InvalidCitations)
		if err != nil {
			return fmt.Errorf("failed to encode citations: %w", err)
		}
		citations = NewNullString(string(raw))
	}
	var completedAt sql.NullString
	if !turn.CompletedAt.IsZero() {
		completedAt = NewNullString(formatTime(turn.CompletedAt))
	}
	_, err = tx.Exec(`
		INSERT INTO turns (turn_id, session_id, query, language, status, final_answer, answer_done,
		                   error_message, invalid_citations, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, session.ID, turn.Query, NewNullString(turn.Language), string(turn.Status),
		NewNullString(turn.FinalAnswer), turn.IsDoneGeneratingFinalAnswer, NewNullString(turn.Error),
		citations, formatTime(turn.StartedAt), completedAt)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	for role, queries := range map[string][]string{
		roleWeb:      turn.SearchQueries,
		roleImage:    turn.ImageSearchQueries,
		roleFollowUp: turn.FollowUpSearchQueries,
	} {
		for i, q := range queries {
			_, err := tx.Exec(`
				INSERT INTO turn_queries (turn_id, role, position, query)
				VALUES (?, ?, ?, ?)
			`, turn.ID, role, i, q)
			if err != nil {
				return fmt.Errorf("failed to insert %s query: %w", role, err)
			}
		}
	}

	sources := append(append([]models.SourceStatus(nil), turn.ProcessedSearchResults...), turn.ProcessedImageSearchResults...)
	for _, s := range sources {
		link := s.Source.URL
		if link == "" {
			link = s.Source.ImageURL
		}
		urlID, err := insertURL(tx, link)
		if err != nil {
			return fmt.Errorf("failed to insert source %d: %w", s.Source.SourceNumber, err)
		}
		_, err = tx.Exec(`
			INSERT INTO turn_sources (turn_id, url_id, kind, source_number, title, image_url,
			                          thumbnail_url, favicon, status, summary, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, turn.ID, urlID, string(s.Source.Kind), s.Source.SourceNumber, s.Source.Title,
			NewNullString(s.Source.ImageURL), NewNullString(s.Source.ThumbnailURL), NewNullString(s.Source.Favicon),
			string(s.Status), NewNullString(s.Source.Summary), NewNullString(s.Error))
		if err != nil {
			return fmt.Errorf("failed to insert source %d: %w", s.Source.SourceNumber, err)
		}
		if s.Status.IsTerminal() {
			if err := recordAccess(tx, urlID, s.Source.Kind, s.Error, s.Status == models.StatusSuccess); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetTurn rebuilds an archived turn.
func (db *DB) GetTurn(turnID string) (*models.AssistantTurn, error) {
	var (
		turn                                models.AssistantTurn
		status, startedAt                   string
		language, answer, errMsg, citations sql.NullString
		completedAt                         sql.NullString
	)
	err := db.QueryRow(`
		SELECT turn_id, session_id, query, language, status, final_answer, answer_done,
		       error_message, invalid_citations, started_at, completed_at
		FROM turns
		WHERE turn_id = ?
	`, turnID).Scan(&turn.ID, &turn.SessionID, &turn.Query, &language, &status, &answer,
		&turn.IsDoneGeneratingFinalAnswer, &errMsg, &citations, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("turn %s: %w", turnID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}

	turn.Language = language.String
	turn.Status = models.TurnStatus(status)
	turn.FinalAnswer = answer.String
	turn.Error = errMsg.String
	turn.StartedAt = parseTime(startedAt)
	turn.CompletedAt = parseTime(completedAt.String)
	if citations.Valid {
		if err := json.Unmarshal([]byte(citations.String), &turn.InvalidCitations); err != nil {
			return nil, fmt.Errorf("failed to decode citations: %w", err)
		}
	}

	if err := db.loadTurnQueries(&turn); err != nil {
		return nil, err
	}
	if err := db.loadTurnSources(&turn); err != nil {
		return nil, err
	}

	// Archived turns have settled, so every stage that ran is done.
	turn.IsDoneGeneratingSearchQueries = true
	turn.IsDonePerformingSearch = true
	turn.IsDoneProcessingSearchResults = true
	turn.IsDonePerformingImageSearch = true
	turn.IsDoneProcessingImageSearchResults = true
	return &turn, nil
}

func (db *DB) loadTurnQueries(turn *models.AssistantTurn) error {
	rows, err := db.Query(`
		SELECT role, query FROM turn_queries
		WHERE turn_id = ?
		ORDER BY role, position
	`, turn.ID)
	if err != nil {
		return fmt.Errorf("failed to get turn queries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role, q string
		if err := rows.Scan(&role, &q); err != nil {
			return fmt.Errorf("failed to scan query: %w", err)
		}
		switch role {
		case roleWeb:
			turn.SearchQueries = append(turn.SearchQueries, q)
		case roleImage:
			turn.ImageSearchQueries = append(turn.ImageSearchQueries, q)
		case roleFollowUp:
			turn.FollowUpSearchQueries = append(turn.FollowUpSearchQueries, q)
		}
	}
	return rows.Err()
}

func (db *DB) loadTurnSources(turn *models.AssistantTurn) error {
	rows, err := db.Query(`
		SELECT u.original_url, ts.kind, ts.source_number, ts.title, ts.image_url, ts.thumbnail_url,
		       ts.favicon, ts.status, ts.summary, ts.error_message
		FROM turn_sources ts
		JOIN urls u ON ts.url_id = u.url_id
		WHERE ts.turn_id = ?
		ORDER BY ts.kind DESC, ts.source_number
	`, turn.ID)
	if err != nil {
		return fmt.Errorf("failed to get turn sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s                                         models.SourceStatus
			kind, status                              string
			title, image, thumb, fav, summary, errMsg sql.NullString
		)
		if err := rows.Scan(&s.Source.URL, &kind, &s.Source.SourceNumber, &title, &image, &thumb,
			&fav, &status, &summary, &errMsg); err != nil {
			return fmt.Errorf("failed to scan source: %w", err)
		}
		s.Source.Kind = models.SearchKind(kind)
		s.Source.Title = title.String
		s.Source.ImageURL = image.String
		s.Source.ThumbnailURL = thumb.String
		s.Source.Favicon = fav.String
		s.Source.Summary = summary.String
		s.Status = models.ProcessingStatus(status)
		s.Error = errMsg.String
		if s.Source.Kind == models.KindImage {
			turn.ProcessedImageSearchResults = append(turn.ProcessedImageSearchResults, s)
		} else {
			turn.ProcessedSearchResults = append(turn.ProcessedSearchResults, s)
		}
	}
	return rows.Err()
}

// ListTurns retrieves archived turns ordered by most recent first
func (db *DB) ListTurns(limit int) ([]TurnSummary, error) {
	return db.QueryTurns(TurnFilter{Limit: limit})
}

// QueryTurns filters archived turns, most recent first.
func (db *DB) QueryTurns(filter TurnFilter) ([]TurnSummary, error) {
	query := `
		SELECT t.turn_id, t.session_id, s.title, t.query, t.status, t.started_at,
		       (SELECT COUNT(*) FROM turn_sources x WHERE x.turn_id = t.turn_id),
		       (SELECT COUNT(*) FROM turn_sources x WHERE x.turn_id = t.turn_id AND x.status = 'success')
		FROM turns t
		JOIN sessions s ON t.session_id = s.session_id
	`

	var conditions []string
	var args []any

	if filter.TodayOnly {
		conditions = append(conditions, "DATE(t.started_at) = DATE('now')")
	}

	if filter.FailedOnly {
		conditions = append(conditions, "t.status = ?")
		args = append(args, string(models.TurnFailed))
	}

	if filter.QueryPattern != "" {
		conditions = append(conditions, "t.query LIKE ?")
		args = append(args, "%"+filter.QueryPattern+"%")
	}

	if filter.Domain != "" {
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM turn_sources ts JOIN urls u ON ts.url_id = u.url_id
			WHERE ts.turn_id = t.turn_id AND u.domain = ?)`)
		args = append(args, filter.Domain)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY t.started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []TurnSummary
	for rows.Next() {
		var t TurnSummary
		var startedAt string
		if err := rows.Scan(&t.TurnID, &t.SessionID, &t.SessionTitle, &t.Query, &t.Status,
			&startedAt, &t.SourceCount, &t.SuccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.StartedAt = parseTime(startedAt)
		turns = append(turns, t)
	}

	return turns, rows.Err()
}

// DeleteSession removes a session and, through cascades, its turns.
func (db *DB) DeleteSession(sessionID string) error {
	result, err := db.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
