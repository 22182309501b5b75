package db

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-search/internal/ask"
	"github.com/dtnitsch/llm-web-search/models"
	dbpkg "github.com/dtnitsch/llm-web-search/pkg/db"
)

// ListAction lists archived turns, newest first
func ListAction(c *cli.Context) error {
	database, err := OpenArchive(c)
	if err != nil {
		return err
	}
	defer database.Close()

	turns, err := database.ListTurns(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list turns: %w", err)
	}

	if len(turns) == 0 {
		fmt.Println("No turns found")
		return nil
	}

	PrintTurns(os.Stdout, turns)
	fmt.Printf("\nTotal: %d turns\n", len(turns))
	fmt.Printf("\nTip: Use 'lws history show <turn-id>' to see details\n")
	return nil
}

// QueryAction lists archived turns matching filters
func QueryAction(c *cli.Context) error {
	database, err := OpenArchive(c)
	if err != nil {
		return err
	}
	defer database.Close()

	filter := dbpkg.TurnFilter{
		TodayOnly:    c.Bool("today"),
		FailedOnly:   c.Bool("failed"),
		QueryPattern: c.String("query"),
		Domain:       c.String("domain"),
		Limit:        c.Int("limit"),
	}
	turns, err := database.QueryTurns(filter)
	if err != nil {
		return fmt.Errorf("failed to query turns: %w", err)
	}

	if len(turns) == 0 {
		fmt.Println("No turns found matching filters")
		if filter.TodayOnly {
			fmt.Println("  - Filter: today only")
		}
		if filter.FailedOnly {
			fmt.Println("  - Filter: failed turns")
		}
		if filter.QueryPattern != "" {
			fmt.Printf("  - Filter: query pattern '%s'\n", filter.QueryPattern)
		}
		if filter.Domain != "" {
			fmt.Printf("  - Filter: source domain '%s'\n", filter.Domain)
		}
		return nil
	}

	PrintTurns(os.Stdout, turns)
	fmt.Printf("\nFound: %d turns\n", len(turns))
	return nil
}

// ShowAction prints one archived turn, the latest when no id is given
func ShowAction(c *cli.Context) error {
	database, err := OpenArchive(c)
	if err != nil {
		return err
	}
	defer database.Close()

	turnID, err := GetTurnIDOrLatest(c, database)
	if err != nil {
		return err
	}

	turn, err := database.GetTurn(turnID)
	if errors.Is(err, dbpkg.ErrNotFound) {
		return fmt.Errorf("turn not found: %s\nTip: Use 'lws history' to list archived turns", turnID)
	}
	if err != nil {
		return fmt.Errorf("failed to get turn: %w", err)
	}

	format := strings.ToLower(c.String("format"))
	switch format {
	case "", "text":
		PrintTurn(os.Stdout, *turn)
		return nil
	case ask.FormatMarkdown, ask.FormatJSON, ask.FormatYAML:
		return ask.Render(os.Stdout, format, *turn, false)
	default:
		return fmt.Errorf("unknown format: %s (use: text, markdown, json, or yaml)", format)
	}
}

// DomainsAction shows the domains cited most often
func DomainsAction(c *cli.Context) error {
	database, err := OpenArchive(c)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := database.TopDomains(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}
	if len(stats) == 0 {
		fmt.Println("No sources archived yet")
		return nil
	}
	PrintDomains(os.Stdout, stats)
	return nil
}

// DeleteAction removes an archived session and its turns
func DeleteAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("session ID required\nUsage: lws history delete <session-id>")
	}

	database, err := OpenArchive(c)
	if err != nil {
		return err
	}
	defer database.Close()

	sessionID := c.Args().First()
	if err := database.DeleteSession(sessionID); err != nil {
		if errors.Is(err, dbpkg.ErrNotFound) {
			return fmt.Errorf("session not found: %s", sessionID)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Printf("Deleted session %s\n", sessionID)
	return nil
}

// SourceAction shows the last processing outcome of an archived source URL
func SourceAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("URL required\nUsage: lws history source <url>")
	}

	database, err := OpenArchive(c)
	if err != nil {
		return err
	}
	defer database.Close()

	rawURL := c.Args().First()
	urlID, err := database.GetURLID(rawURL)
	if errors.Is(err, dbpkg.ErrNotFound) {
		return fmt.Errorf("source not archived: %s", rawURL)
	}
	if err != nil {
		return fmt.Errorf("failed to look up source: %w", err)
	}

	record, err := database.GetLastAccess(urlID)
	if err != nil {
		return fmt.Errorf("failed to get last access: %w", err)
	}
	PrintAccess(os.Stdout, rawURL, record)
	return nil
}

// PrintAccess writes the last access of a source. A nil record means the
// source was archived before it finished processing.
func PrintAccess(w io.Writer, rawURL string, record *dbpkg.AccessRecord) {
	fmt.Fprintf(w, "Source:      %s\n", rawURL)
	if record == nil {
		fmt.Fprintln(w, "Last access: never finished")
		return
	}
	outcome := "success"
	if !record.Success {
		outcome = "error"
	}
	fmt.Fprintf(w, "Last access: %s\n", record.AccessedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Kind:        %s\n", record.Kind)
	fmt.Fprintf(w, "Outcome:     %s\n", outcome)
	if record.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", record.ErrorMessage)
	}
}

// PrintTurns writes the turn listing table.
func PrintTurns(w io.Writer, turns []dbpkg.TurnSummary) {
	fmt.Fprintf(w, "%-36s %-20s %-10s %-8s %-8s %s\n",
		"Turn", "Started", "Status", "Sources", "Success", "Query")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for _, t := range turns {
		fmt.Fprintf(w, "%-36s %-20s %-10s %-8d %-8d %s\n",
			t.TurnID,
			t.StartedAt.Local().Format("2006-01-02 15:04:05"),
			t.Status,
			t.SourceCount,
			t.SuccessCount,
			truncate(t.Query, 60),
		)
	}
}

// PrintTurn writes the details of one turn.
func PrintTurn(w io.Writer, turn models.AssistantTurn) {
	fmt.Fprintf(w, "Turn %s\n", turn.ID)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Session:     %s\n", turn.SessionID)
	fmt.Fprintf(w, "Query:       %s\n", turn.Query)
	fmt.Fprintf(w, "Status:      %s\n", turn.Status)
	if turn.Language != "" {
		fmt.Fprintf(w, "Language:    %s\n", turn.Language)
	}
	fmt.Fprintf(w, "Started:     %s\n", turn.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !turn.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Duration:    %s\n", turn.CompletedAt.Sub(turn.StartedAt).Round(100*time.Millisecond))
	}
	if turn.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", turn.Error)
	}
	if len(turn.SearchQueries) > 0 {
		fmt.Fprintf(w, "Searches:    %s\n", strings.Join(turn.SearchQueries, " | "))
	}
	if len(turn.ImageSearchQueries) > 0 {
		fmt.Fprintf(w, "Images:      %s\n", strings.Join(turn.ImageSearchQueries, " | "))
	}

	printSources(w, "Sources", turn.ProcessedSearchResults)
	printSources(w, "Image sources", turn.ProcessedImageSearchResults)

	if turn.FinalAnswer != "" {
		fmt.Fprintf(w, "\nAnswer:\n")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		fmt.Fprintln(w, turn.FinalAnswer)
	}
	if len(turn.InvalidCitations) > 0 {
		fmt.Fprintf(w, "\nInvalid citations: %v\n", turn.InvalidCitations)
	}
	if len(turn.FollowUpSearchQueries) > 0 {
		fmt.Fprintf(w, "\nFollow-ups:\n")
		for _, q := range turn.FollowUpSearchQueries {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
}

func printSources(w io.Writer, heading string, sources []models.SourceStatus) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d):\n", heading, len(sources))
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, s := range sources {
		link := s.Source.URL
		if s.Source.Kind == models.KindImage && s.Source.ImageURL != "" {
			link = s.Source.ImageURL
		}
		fmt.Fprintf(w, "%2d. [%s] %s\n", s.Source.SourceNumber, s.Status, link)
		if s.Status == models.StatusError {
			fmt.Fprintf(w, "    Error: %s\n", s.Error)
		} else if s.Source.Title != "" {
			fmt.Fprintf(w, "    %s\n", truncate(s.Source.Title, 80))
		}
	}
}

// PrintDomains writes the domain usage table.
func PrintDomains(w io.Writer, stats []dbpkg.DomainStat) {
	fmt.Fprintf(w, "%-40s %-8s %-8s\n", "Domain", "Sources", "Success")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, s := range stats {
		fmt.Fprintf(w, "%-40s %-8d %-8d\n", truncate(s.Domain, 40), s.Sources, s.SuccessCount)
	}
}
