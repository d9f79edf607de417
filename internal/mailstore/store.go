// Package mailstore implements the SQLite-backed email corpus the agent
// searches. Full-text search runs over an FTS5 index kept in sync with the
// emails table by triggers.
package mailstore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Ingest filters, from the original corpus preparation.
const (
	MaxBodyLength    = 5000
	MaxRecipients    = 30
	dateLayout       = "2006-01-02 15:04:05"
	snippetTokens    = 15
	snippetStartMark = "<b>"
	snippetEndMark   = "</b>"
	snippetEllipsis  = " ... "
)

const sqlCreateTables = `
DROP TABLE IF EXISTS recipients;
DROP TABLE IF EXISTS emails_fts;
DROP TABLE IF EXISTS emails;

CREATE TABLE emails (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE,
	subject TEXT,
	from_address TEXT,
	date TEXT,
	body TEXT,
	file_name TEXT
);

CREATE TABLE recipients (
	email_id TEXT,
	recipient_address TEXT,
	recipient_type TEXT
);
`

const sqlCreateIndexesTriggers = `
CREATE INDEX idx_emails_from ON emails(from_address);
CREATE INDEX idx_emails_date ON emails(date);
CREATE INDEX idx_emails_message_id ON emails(message_id);
CREATE INDEX idx_recipients_address ON recipients(recipient_address);
CREATE INDEX idx_recipients_type ON recipients(recipient_type);
CREATE INDEX idx_recipients_email_id ON recipients(email_id);
CREATE INDEX idx_recipients_address_email ON recipients(recipient_address, email_id);

CREATE VIRTUAL TABLE emails_fts USING fts5(
	subject,
	body,
	content='emails',
	content_rowid='id'
);

CREATE TRIGGER emails_ai AFTER INSERT ON emails BEGIN
	INSERT INTO emails_fts (rowid, subject, body)
	VALUES (new.id, new.subject, new.body);
END;

CREATE TRIGGER emails_ad AFTER DELETE ON emails BEGIN
	DELETE FROM emails_fts WHERE rowid=old.id;
END;

CREATE TRIGGER emails_au AFTER UPDATE ON emails BEGIN
	UPDATE emails_fts SET subject=new.subject, body=new.body WHERE rowid=old.id;
END;
`

// Store wraps the SQLite database holding the email corpus.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens an existing mail store for serving.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening mail store %q: %w", path, err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// Create opens (or truncates) a mail store and installs the schema. The FTS
// index and triggers are created by FinishIngest after the bulk load.
func Create(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("creating mail store %q: %w", path, err)
	}
	if _, err := db.Exec(sqlCreateTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
