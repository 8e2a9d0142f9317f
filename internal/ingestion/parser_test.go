package ingestion_test

import (
	"CricLedger/internal/deposit"
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"CricLedger/internal/ingestion"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Test: deposit notifications
// ============================================================================

func TestParseNotification_StringAmount(t *testing.T) {
	owner := uuid.New()
	data := []byte(`{"reference":"0xabc","amount":"20.0","confirmations":3,"metadata":{"user_id":"` + owner.String() + `","chain":"polygon"}}`)

	n, err := ingestion.ParseNotification(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.Reference != "0xabc" || n.Amount != "20.0" || n.Confirmations != 3 {
		t.Errorf("notification = %+v", n)
	}
	if n.Metadata[deposit.OwnerKey] != owner.String() {
		t.Errorf("owner metadata = %v", n.Metadata[deposit.OwnerKey])
	}
}

func TestParseNotification_NumberAmountKeepsExactText(t *testing.T) {
	n, err := ingestion.ParseNotification([]byte(`{"tx_hash":"0xdef","amount":0.10000001,"confirmations":12}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.Reference != "0xdef" {
		t.Errorf("reference = %q, want tx_hash alias", n.Reference)
	}
	if n.Amount != "0.10000001" {
		t.Errorf("amount = %q, want exact text", n.Amount)
	}
}

func TestParseNotification_Rejects(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"reference":"0xabc"}`,
		`{"reference":"0xabc","amount":null}`,
		`{"reference":"0xabc","amount":"1","confirmations":"many"}`,
	} {
		if _, err := ingestion.ParseNotification([]byte(in)); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("ParseNotification(%s): err = %v, want ErrValidation", in, err)
		}
	}
}

// ============================================================================
// Test: confirm jobs and subjects
// ============================================================================

func TestParseJob(t *testing.T) {
	job, err := ingestion.ParseJob([]byte(`{"reference":"0xabc","attempt":4}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if job != (deposit.Job{Reference: "0xabc", Attempt: 4}) {
		t.Errorf("job = %+v", job)
	}
	if _, err := ingestion.ParseJob([]byte(`{"attempt":1}`)); err == nil {
		t.Error("job without reference should fail")
	}
}

func TestEventSubject(t *testing.T) {
	e := event.New(event.TypeContestSettled, uuid.NewString(), time.Now(), nil)
	if got := ingestion.EventSubject(e); got != "cric.ledger.events.contest.settled" {
		t.Errorf("subject = %q", got)
	}
}

func TestStreamConfigs_CoverEverySubject(t *testing.T) {
	subjects := []string{
		ingestion.SubjectNotify + ".x",
		ingestion.SubjectConfirm + ".x",
		ingestion.SubjectLedgerEvents + ".deposit.credited",
		ingestion.SubjectPayouts + ".x",
	}
	for _, subj := range subjects {
		matched := 0
		for _, cfg := range ingestion.StreamConfigs() {
			for _, pattern := range cfg.Subjects {
				if strings.HasPrefix(subj, strings.TrimSuffix(pattern, ">")) {
					matched++
				}
			}
		}
		if matched != 1 {
			t.Errorf("subject %s matched %d streams, want 1", subj, matched)
		}
	}
	for _, cfg := range ingestion.StreamConfigs() {
		if cfg.Duplicates <= 0 {
			t.Errorf("stream %s has no dedupe window", cfg.Name)
		}
	}
}
