package deposit_test

import (
	"CricLedger/internal/deposit"
	"CricLedger/internal/domain"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestLocalQueue_CreditsThroughWorkers(t *testing.T) {
	f := newFixture(t)
	owner := f.wallet(t)

	q := deposit.NewLocalQueue(16, 2, zerolog.Nop())
	p := deposit.NewPipeline(f.ledger, q, nil, zerolog.Nop(), nil, deposit.DefaultConfig)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, p.Handle) }()

	if _, err := p.Ingest(ctx, notification("0xq1", "4", 12, owner)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := p.Ingest(ctx, notification("0xq2", "6", 15, owner)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !f.depositBalance(t, owner).Equal(decimal.NewFromInt(10)) {
		if time.Now().After(deadline) {
			t.Fatalf("deposit balance = %s after 5s, want 10", f.depositBalance(t, owner))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestLocalQueue_RetriesWithDelay(t *testing.T) {
	q := deposit.NewLocalQueue(4, 1, zerolog.Nop())
	var calls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, func(_ context.Context, job deposit.Job) deposit.Outcome {
		if calls.Add(1) < 3 {
			return deposit.Outcome{Retry: true, Delay: time.Millisecond}
		}
		return deposit.Outcome{Result: deposit.ResultCredited}
	})

	if err := q.Schedule(ctx, deposit.Job{Reference: "r"}, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("handler calls = %d, want 3", calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLocalQueue_FullBufferIsTransient(t *testing.T) {
	q := deposit.NewLocalQueue(1, 1, zerolog.Nop())
	if err := q.Schedule(context.Background(), deposit.Job{Reference: "a"}, 0); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	err := q.Schedule(context.Background(), deposit.Job{Reference: "b"}, 0)
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}
