// Package models holds the value types shared across the training
// pipeline: scenarios, emails, transcripts, and scored groups.
package models

import "time"

// Split identifies which partition of the dataset a scenario belongs to.
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
	// SplitVal tags validation telemetry. Snapshots carry only train and
	// test; validation runs draw from the test split.
	SplitVal Split = "val"
)

// Scenario is a single question/answer pair over a user's inbox.
type Scenario struct {
	ID           string   `json:"id"`
	Split        Split    `json:"split"`
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	InboxAddress string   `json:"inbox_address"`
	QueryDate    string   `json:"query_date"`
	HowRealistic float64  `json:"how_realistic"`
	MessageIDs   []string `json:"message_ids"`
}

// Email is one message from the corpus backing the mail store.
type Email struct {
	MessageID    string    `json:"message_id"`
	Date         time.Time `json:"date"`
	Subject      string    `json:"subject"`
	FromAddress  string    `json:"from_address"`
	ToAddresses  []string  `json:"to_addresses"`
	CcAddresses  []string  `json:"cc_addresses"`
	BccAddresses []string  `json:"bcc_addresses"`
	Body         string    `json:"body"`
	FileName     string    `json:"file_name"`
}

// Recipients returns every address the message was delivered to.
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.ToAddresses)+len(e.CcAddresses)+len(e.BccAddresses))
	out = append(out, e.ToAddresses...)
	out = append(out, e.CcAddresses...)
	out = append(out, e.BccAddresses...)
	return out
}

// SearchResult is one hit from an inbox keyword search. Snippet contains
// the matching region with <em> markers around matched terms.
type SearchResult struct {
	MessageID string `json:"message_id"`
	Snippet   string `json:"snippet"`
}
