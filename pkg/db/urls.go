package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
)

// insertURL parses and inserts a URL, returning the url_id.
// If the URL already exists, returns the existing url_id.
func insertURL(q querier, rawURL string) (int64, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return 0, fmt.Errorf("URL is not absolute: %s", rawURL)
	}

	// Check if URL already exists
	var existingID int64
	err = q.QueryRow("SELECT url_id FROM urls WHERE original_url = ?", rawURL).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to check existing URL: %w", err)
	}

	result, err := q.Exec(`
		INSERT INTO urls (original_url, canonical_url, scheme, domain, path, fragment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rawURL, models.NormalizeURL(rawURL), parsed.Scheme, parsed.Host, parsed.Path, parsed.Fragment)
	if err != nil {
		return 0, fmt.Errorf("failed to insert URL: %w", err)
	}

	urlID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get URL ID: %w", err)
	}

	// Insert query params if present
	if parsed.RawQuery != "" {
		params, err := url.ParseQuery(parsed.RawQuery)
		if err == nil {
			for key, values := range params {
				for _, value := range values {
					_, err = q.Exec(`
						INSERT INTO url_query_params (url_id, key, value)
						VALUES (?, ?, ?)
					`, urlID, key, value)
					if err != nil {
						return 0, fmt.Errorf("failed to insert query param: %w", err)
					}
				}
			}
		}
	}

	return urlID, nil
}

// recordAccess records the processing outcome of a source URL.
func recordAccess(q querier, urlID int64, kind models.SearchKind, errorMessage string, success bool) error {
	_, err := q.Exec(`
		INSERT INTO url_accesses (url_id, kind, error_message, success)
		VALUES (?, ?, ?, ?)
	`, urlID, string(kind), NewNullString(errorMessage), success)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

// AccessRecord represents one processing attempt of a URL.
type AccessRecord struct {
	AccessID     int64
	AccessedAt   time.Time
	Kind         string
	ErrorMessage string
	Success      bool
}

// GetLastAccess returns the most recent access record for a URL.
func (db *DB) GetLastAccess(urlID int64) (*AccessRecord, error) {
	var record AccessRecord
	var errMsg sql.NullString
	err := db.QueryRow(`
		SELECT access_id, accessed_at, kind, error_message, success
		FROM url_accesses
		WHERE url_id = ?
		ORDER BY access_id DESC
		LIMIT 1
	`, urlID).Scan(&record.AccessID, &record.AccessedAt, &record.Kind, &errMsg, &record.Success)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last access: %w", err)
	}
	record.ErrorMessage = errMsg.String
	return &record, nil
}

// GetURLID returns the url_id for a URL. An exact match on the original URL
// wins; otherwise the oldest URL with the same canonical form is used.
func (db *DB) GetURLID(rawURL string) (int64, error) {
	var urlID int64
	err := db.QueryRow(`
		SELECT url_id FROM urls
		WHERE original_url = ? OR canonical_url = ?
		ORDER BY original_url = ? DESC, url_id
		LIMIT 1
	`, rawURL, models.NormalizeURL(rawURL), rawURL).Scan(&urlID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("URL %s: %w", rawURL, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get URL ID: %w", err)
	}
	return urlID, nil
}

// DomainStat counts how often a domain was used as a source.
type DomainStat struct {
	Domain       string
	Sources      int
	SuccessCount int
}

// TopDomains returns the domains cited most across archived turns.
func (db *DB) TopDomains(limit int) ([]DomainStat, error) {
	query := `
		SELECT u.domain, COUNT(*), SUM(CASE WHEN ts.status = 'success' THEN 1 ELSE 0 END)
		FROM turn_sources ts
		JOIN urls u ON ts.url_id = u.url_id
		GROUP BY u.domain
		ORDER BY COUNT(*) DESC, u.domain
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query domains: %w", err)
	}
	defer rows.Close()

	var stats []DomainStat
	for rows.Next() {
		var s DomainStat
		if err := rows.Scan(&s.Domain, &s.Sources, &s.SuccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// NewNullString returns a sql.NullString, NULL for empty strings.
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
