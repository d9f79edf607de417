package mailstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/microsoft/renshu/internal/models"
)

// IngestStats summarizes one corpus load.
type IngestStats struct {
	Inserted   int
	Skipped    int
	Duplicates int
}

// emailKey identifies a message for dedupe purposes.
type emailKey struct {
	subject string
	body    string
	from    string
}

// IngestFile streams emails from a JSONL snapshot (optionally gzip
// compressed, by file extension) into the store. The schema must have been
// installed by Create; call FinishIngest afterwards to build the FTS index.
func (s *Store) IngestFile(path string) (IngestStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return IngestStats{}, fmt.Errorf("opening snapshot %q: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return IngestStats{}, fmt.Errorf("opening gzip snapshot %q: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	return s.Ingest(r)
}

// Ingest reads one JSON email per line and inserts those that pass the
// corpus filters: bodies over MaxBodyLength characters are dropped, as are
// messages with more than MaxRecipients recipients and duplicates keyed by
// (subject, body, from_address).
func (s *Store) Ingest(r io.Reader) (IngestStats, error) {
	var stats IngestStats

	// Bulk-load settings; durability doesn't matter for a rebuildable corpus.
	if _, err := s.db.Exec("PRAGMA synchronous = OFF"); err != nil {
		return stats, fmt.Errorf("configuring bulk load: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("starting ingest transaction: %w", err)
	}
	defer tx.Rollback()

	insertEmail, err := tx.Prepare(
		"INSERT INTO emails (message_id, subject, from_address, date, body, file_name) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return stats, fmt.Errorf("preparing email insert: %w", err)
	}
	defer insertEmail.Close()

	insertRecipient, err := tx.Prepare(
		"INSERT INTO recipients (email_id, recipient_address, recipient_type) VALUES (?, ?, ?)")
	if err != nil {
		return stats, fmt.Errorf("preparing recipient insert: %w", err)
	}
	defer insertRecipient.Close()

	seen := map[emailKey]struct{}{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var email models.Email
		if err := json.Unmarshal([]byte(raw), &email); err != nil {
			return stats, fmt.Errorf("parsing snapshot line %d: %w", line, err)
		}

		if len(email.Body) > MaxBodyLength {
			stats.Skipped++
			continue
		}
		if len(email.Recipients()) > MaxRecipients {
			stats.Skipped++
			continue
		}
		key := emailKey{subject: email.Subject, body: email.Body, from: email.FromAddress}
		if _, ok := seen[key]; ok {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		if _, err := insertEmail.Exec(
			email.MessageID, email.Subject, email.FromAddress,
			formatDate(email.Date), email.Body, email.FileName,
		); err != nil {
			return stats, fmt.Errorf("inserting email %q: %w", email.MessageID, err)
		}

		for _, kind := range []struct {
			addrs []string
			name  string
		}{
			{email.ToAddresses, "to"},
			{email.CcAddresses, "cc"},
			{email.BccAddresses, "bcc"},
		} {
			for _, addr := range kind.addrs {
				if addr == "" {
					continue
				}
				if _, err := insertRecipient.Exec(email.MessageID, addr, kind.name); err != nil {
					return stats, fmt.Errorf("inserting recipient for %q: %w", email.MessageID, err)
				}
			}
		}

		stats.Inserted++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("committing ingest: %w", err)
	}

	s.logger.Info("corpus ingested",
		"inserted", stats.Inserted, "skipped", stats.Skipped, "duplicates", stats.Duplicates)
	return stats, nil
}

// FinishIngest installs the search indexes and FTS triggers, then rebuilds
// the FTS index over everything inserted so far.
func (s *Store) FinishIngest() error {
	if _, err := s.db.Exec(sqlCreateIndexesTriggers); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO emails_fts(emails_fts) VALUES("rebuild")`); err != nil {
		return fmt.Errorf("rebuilding fts index: %w", err)
	}
	return nil
}
