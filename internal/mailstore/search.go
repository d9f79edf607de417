package mailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/microsoft/renshu/internal/models"
)

// MaxSearchResults caps how many hits a single search may request.
const MaxSearchResults = 10

// ErrNotFound is returned by Read when the message does not exist or is not
// visible from the given inbox. The two cases are deliberately
// indistinguishable.
var ErrNotFound = errors.New("email not found")

// SearchQuery describes one inbox search. Keywords are combined with AND;
// the remaining fields are optional filters.
type SearchQuery struct {
	Inbox      string
	Keywords   []string
	FromAddr   string
	ToAddr     string
	SentAfter  string // YYYY-MM-DD, inclusive
	SentBefore string // YYYY-MM-DD, exclusive
	MaxResults int
}

// Search runs a full-text search over the inbox's messages. The query is
// validated before any database access: an empty keyword list or a
// MaxResults above MaxSearchResults is an error.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]models.SearchResult, error) {
	if len(q.Keywords) == 0 {
		return nil, errors.New("search requires at least one keyword")
	}
	if q.MaxResults > MaxSearchResults {
		return nil, fmt.Errorf("max_results must be at most %d, got %d", MaxSearchResults, q.MaxResults)
	}
	if q.MaxResults <= 0 {
		q.MaxResults = MaxSearchResults
	}

	var (
		where  []string
		params []any
	)

	// FTS5 match: quoted phrases joined by implicit AND.
	terms := make([]string, len(q.Keywords))
	for i, k := range q.Keywords {
		terms[i] = `"` + strings.ReplaceAll(k, `"`, `""`) + `"`
	}
	where = append(where, "fts.emails_fts MATCH ?")
	params = append(params, strings.Join(terms, " "))

	// Only messages the inbox sent or received.
	where = append(where, `(e.from_address = ? OR EXISTS (
		SELECT 1 FROM recipients r_inbox
		WHERE r_inbox.recipient_address = ? AND r_inbox.email_id = e.message_id
	))`)
	params = append(params, q.Inbox, q.Inbox)

	if q.FromAddr != "" {
		where = append(where, "e.from_address = ?")
		params = append(params, q.FromAddr)
	}
	if q.ToAddr != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM recipients r_to
			WHERE r_to.recipient_address = ? AND r_to.email_id = e.message_id
		)`)
		params = append(params, q.ToAddr)
	}
	if q.SentAfter != "" {
		where = append(where, "e.date >= ?")
		params = append(params, q.SentAfter+" 00:00:00")
	}
	if q.SentBefore != "" {
		where = append(where, "e.date < ?")
		params = append(params, q.SentBefore+" 00:00:00")
	}

	query := fmt.Sprintf(`
		SELECT e.message_id,
		       snippet(emails_fts, -1, '%s', '%s', '%s', %d) AS snippet
		FROM emails e JOIN emails_fts fts ON e.id = fts.rowid
		WHERE %s
		ORDER BY e.date DESC
		LIMIT ?`,
		snippetStartMark, snippetEndMark, snippetEllipsis, snippetTokens,
		strings.Join(where, " AND "))
	params = append(params, q.MaxResults)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("searching emails: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.MessageID, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Read returns the full message with the given ID, but only when the inbox
// is its sender or one of its recipients.
func (s *Store) Read(ctx context.Context, inbox, messageID string) (*models.Email, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, date, subject, from_address, body, file_name
		FROM emails
		WHERE message_id = ?
		  AND (from_address = ? OR EXISTS (
			SELECT 1 FROM recipients r
			WHERE r.recipient_address = ? AND r.email_id = emails.message_id
		  ))`,
		messageID, inbox, inbox)

	var (
		email   models.Email
		rawDate string
	)
	if err := row.Scan(&email.MessageID, &rawDate, &email.Subject,
		&email.FromAddress, &email.Body, &email.FileName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading email %q: %w", messageID, err)
	}

	date, err := parseDate(rawDate)
	if err != nil {
		return nil, fmt.Errorf("parsing date of %q: %w", messageID, err)
	}
	email.Date = date

	rows, err := s.db.QueryContext(ctx,
		"SELECT recipient_address, recipient_type FROM recipients WHERE email_id = ?", messageID)
	if err != nil {
		return nil, fmt.Errorf("reading recipients of %q: %w", messageID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr, kind string
		if err := rows.Scan(&addr, &kind); err != nil {
			return nil, fmt.Errorf("scanning recipient: %w", err)
		}
		switch strings.ToLower(kind) {
		case "to":
			email.ToAddresses = append(email.ToAddresses, addr)
		case "cc":
			email.CcAddresses = append(email.CcAddresses, addr)
		case "bcc":
			email.BccAddresses = append(email.BccAddresses, addr)
		}
	}
	return &email, rows.Err()
}

// Count returns the number of messages in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM emails").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	return n, nil
}
