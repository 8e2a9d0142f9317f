package ingestion

import (
	"CricLedger/internal/deposit"
	"CricLedger/internal/domain"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Headers carried on queued confirm jobs.
const (
	HeaderNotBefore = "Cric-Not-Before"
	HeaderEventType = "Cric-Event-Type"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// notificationJSON is a deposit observation published by a chain watcher.
// amount may arrive as a JSON string or a JSON number; both are kept as
// their exact decimal text.
type notificationJSON struct {
	Reference     string          `json:"reference"`
	TxHash        string          `json:"tx_hash"`
	Amount        json.RawMessage `json:"amount"`
	Confirmations int             `json:"confirmations"`
	Metadata      domain.Metadata `json:"metadata"`
}

// ParseNotification decodes a deposit notification message. tx_hash is
// accepted as an alias of reference.
func ParseNotification(data []byte) (deposit.Notification, error) {
	var j notificationJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&j); err != nil {
		return deposit.Notification{}, domain.Errorf(domain.ErrValidation, "parse deposit notification: %v", err)
	}

	ref := strings.TrimSpace(j.Reference)
	if ref == "" {
		ref = strings.TrimSpace(j.TxHash)
	}
	amount, err := amountText(j.Amount)
	if err != nil {
		return deposit.Notification{}, err
	}
	return deposit.Notification{
		Reference:     ref,
		Amount:        amount,
		Confirmations: j.Confirmations,
		Metadata:      j.Metadata,
	}, nil
}

func amountText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", domain.Errorf(domain.ErrValidation, "parse deposit notification: amount is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", domain.Errorf(domain.ErrValidation, "parse amount: %v", err)
		}
		return s, nil
	}
	return string(raw), nil
}

// jobJSON is the queued form of deposit.Job.
type jobJSON struct {
	Reference string `json:"reference"`
	Attempt   int    `json:"attempt"`
}

func encodeJob(job deposit.Job) ([]byte, error) {
	data, err := json.Marshal(jobJSON{Reference: job.Reference, Attempt: job.Attempt})
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

// ParseJob decodes a queued confirm job.
func ParseJob(data []byte) (deposit.Job, error) {
	var j jobJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return deposit.Job{}, fmt.Errorf("parse job: %w", err)
	}
	if j.Reference == "" {
		return deposit.Job{}, fmt.Errorf("parse job: empty reference")
	}
	return deposit.Job{Reference: j.Reference, Attempt: j.Attempt}, nil
}

// formatNotBefore and parseNotBefore carry a delayed job's earliest run time
// in unix milliseconds.
func formatNotBefore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseNotBefore(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// subjectToken makes s safe to use as one NATS subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
