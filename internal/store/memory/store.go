// Package memory is an in-process store.Store. Units of work are fully
// serialized and run against a private copy of the state that replaces the
// shared state only when the unit of work succeeds. Every storage constraint
// of the Postgres schema is mirrored here.
package memory

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/store"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultLockWait bounds how long a unit of work waits for the store.
const DefaultLockWait = 2 * time.Second

type state struct {
	wallets     map[uuid.UUID]domain.Wallet
	txByRef     map[string]domain.LedgerTransaction
	contests    map[uuid.UUID]domain.Contest
	entries     map[uuid.UUID][]domain.Entry
	withdrawals map[uuid.UUID]domain.WithdrawalRequest
}

func newState() *state {
	return &state{
		wallets:     make(map[uuid.UUID]domain.Wallet),
		txByRef:     make(map[string]domain.LedgerTransaction),
		contests:    make(map[uuid.UUID]domain.Contest),
		entries:     make(map[uuid.UUID][]domain.Entry),
		withdrawals: make(map[uuid.UUID]domain.WithdrawalRequest),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.txByRef {
		v.Metadata = cloneMetadata(v.Metadata)
		c.txByRef[k] = v
	}
	for k, v := range s.contests {
		c.contests[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]domain.Entry(nil), v...)
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	return c
}

func cloneMetadata(m domain.Metadata) domain.Metadata {
	if m == nil {
		return nil
	}
	out := make(domain.Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is a serialized in-memory store.Store.
type Store struct {
	sem      chan struct{}
	lockWait time.Duration
	now      func() time.Time
	state    *state
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLockWait overrides DefaultLockWait.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) { s.lockWait = d }
}

// WithClock overrides time.Now for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		sem:      make(chan struct{}, 1),
		lockWait: DefaultLockWait,
		now:      time.Now,
		state:    newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
	case <-timer.C:
		return domain.Errorf(domain.ErrConcurrencyConflict, "lock wait exceeded %s", s.lockWait)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

type tx struct {
	st  *state
	now func() time.Time
}

var _ store.Tx = (*tx)(nil)

// --- wallets ---

func (t *tx) CreateWallet(_ context.Context, owner uuid.UUID) (domain.Wallet, error) {
	if w, ok := t.st.wallets[owner]; ok {
		return w, nil
	}
	now := t.now()
	w := domain.Wallet{Owner: owner, CreatedAt: now, UpdatedAt: now}
	t.st.wallets[owner] = w
	return w, nil
}

func (t *tx) GetWallet(_ context.Context, owner uuid.UUID) (domain.Wallet, error) {
	w, ok := t.st.wallets[owner]
	if !ok {
		return domain.Wallet{}, domain.Errorf(domain.ErrNotFound, "wallet %s", owner)
	}
	return w, nil
}

func (t *tx) LockWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error) {
	return t.GetWallet(ctx, owner)
}

func (t *tx) SaveWallet(_ context.Context, w domain.Wallet) error {
	if _, ok := t.st.wallets[w.Owner]; !ok {
		return domain.Errorf(domain.ErrNotFound, "wallet %s", w.Owner)
	}
	if err := w.Validate(); err != nil {
		return err
	}
	w.UpdatedAt = t.now()
	t.st.wallets[w.Owner] = w
	return nil
}

// --- ledger transactions ---

func (t *tx) InsertTransaction(_ context.Context, lt domain.LedgerTransaction) error {
	if _, ok := t.st.txByRef[lt.Reference]; ok {
		return domain.Errorf(domain.ErrDuplicateEvent, "reference %q", lt.Reference)
	}
	if lt.Amount.IsNegative() {
		return domain.Errorf(domain.ErrIntegrityViolation, "transaction %q: negative amount", lt.Reference)
	}
	if lt.Owner.Valid {
		if _, ok := t.st.wallets[lt.Owner.UUID]; !ok {
			return domain.Errorf(domain.ErrNotFound, "wallet %s", lt.Owner.UUID)
		}
	}
	if lt.CreatedAt.IsZero() {
		lt.CreatedAt = t.now()
	}
	lt.Metadata = cloneMetadata(lt.Metadata)
	t.st.txByRef[lt.Reference] = lt
	return nil
}

func (t *tx) GetTransactionByReference(_ context.Context, reference string) (domain.LedgerTransaction, error) {
	lt, ok := t.st.txByRef[reference]
	if !ok {
		return domain.LedgerTransaction{}, domain.Errorf(domain.ErrNotFound, "transaction %q", reference)
	}
	lt.Metadata = cloneMetadata(lt.Metadata)
	return lt, nil
}

func (t *tx) LockTransactionByReference(ctx context.Context, reference string) (domain.LedgerTransaction, error) {
	return t.GetTransactionByReference(ctx, reference)
}

func (t *tx) UpdateTransaction(_ context.Context, lt domain.LedgerTransaction) error {
	prev, ok := t.st.txByRef[lt.Reference]
	if !ok || prev.ID != lt.ID {
		return domain.Errorf(domain.ErrNotFound, "transaction %q", lt.Reference)
	}
	if lt.Owner.Valid {
		if _, ok := t.st.wallets[lt.Owner.UUID]; !ok {
			return domain.Errorf(domain.ErrNotFound, "wallet %s", lt.Owner.UUID)
		}
	}
	if lt.Confirmations < 0 {
		return domain.Errorf(domain.ErrIntegrityViolation, "transaction %q: negative confirmations", lt.Reference)
	}
	lt.Metadata = cloneMetadata(lt.Metadata)
	t.st.txByRef[lt.Reference] = lt
	return nil
}

func (t *tx) ListStalePending(_ context.Context, kind domain.TxKind, olderThan time.Time, limit int) ([]domain.LedgerTransaction, error) {
	var out []domain.LedgerTransaction
	for _, lt := range t.st.txByRef {
		if lt.Kind == kind && lt.Status == domain.TxStatusPending && lt.CreatedAt.Before(olderThan) {
			out = append(out, lt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- contests ---

func (t *tx) InsertContest(_ context.Context, c domain.Contest) error {
	if _, ok := t.st.contests[c.ID]; ok {
		return domain.Errorf(domain.ErrValidation, "contest %s already exists", c.ID)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.now()
	}
	t.st.contests[c.ID] = c
	return nil
}

func (t *tx) GetContest(_ context.Context, id uuid.UUID) (domain.Contest, error) {
	c, ok := t.st.contests[id]
	if !ok {
		return domain.Contest{}, domain.Errorf(domain.ErrNotFound, "contest %s", id)
	}
	return c, nil
}

func (t *tx) LockContest(ctx context.Context, id uuid.UUID) (domain.Contest, error) {
	return t.GetContest(ctx, id)
}

func (t *tx) UpdateContest(_ context.Context, c domain.Contest) error {
	if _, ok := t.st.contests[c.ID]; !ok {
		return domain.Errorf(domain.ErrNotFound, "contest %s", c.ID)
	}
	if c.EntryCount > c.MaxPlayers {
		return domain.Errorf(domain.ErrContestFull, "contest %s: %d entries exceeds %d", c.ID, c.EntryCount, c.MaxPlayers)
	}
	if c.EntryCount < 0 {
		return domain.Errorf(domain.ErrIntegrityViolation, "contest %s: negative entry count", c.ID)
	}
	t.st.contests[c.ID] = c
	return nil
}

func (t *tx) ListExpiredOpenContests(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var out []domain.Contest
	for _, c := range t.st.contests {
		if c.Status == domain.ContestStatusOpen && c.EntryDeadline != nil && !c.EntryDeadline.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDeadline.Before(*out[j].EntryDeadline) })
	ids := make([]uuid.UUID, 0, len(out))
	for _, c := range out {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (t *tx) InsertEntry(_ context.Context, e domain.Entry) error {
	c, ok := t.st.contests[e.ContestID]
	if !ok {
		return domain.Errorf(domain.ErrNotFound, "contest %s", e.ContestID)
	}
	if e.EntryNo < 1 || e.EntryNo > c.MaxEntriesPerUser {
		return domain.Errorf(domain.ErrAlreadyJoined, "entry %d over the limit of %d in contest %s", e.EntryNo, c.MaxEntriesPerUser, e.ContestID)
	}
	if _, ok := t.st.wallets[e.Owner]; !ok {
		return domain.Errorf(domain.ErrNotFound, "wallet %s", e.Owner)
	}
	for _, existing := range t.st.entries[e.ContestID] {
		if existing.Owner == e.Owner && existing.EntryNo == e.EntryNo {
			return domain.Errorf(domain.ErrAlreadyJoined, "owner %s in contest %s", e.Owner, e.ContestID)
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	t.st.entries[e.ContestID] = append(t.st.entries[e.ContestID], e)
	return nil
}

func (t *tx) ListEntries(_ context.Context, contestID uuid.UUID) ([]domain.Entry, error) {
	return append([]domain.Entry(nil), t.st.entries[contestID]...), nil
}

func (t *tx) CountOwnerEntries(_ context.Context, contestID, owner uuid.UUID) (int, error) {
	n := 0
	for _, e := range t.st.entries[contestID] {
		if e.Owner == owner {
			n++
		}
	}
	return n, nil
}

func (t *tx) SetEntryResult(_ context.Context, entryID uuid.UUID, rank int, payout decimal.Decimal) error {
	for contestID, entries := range t.st.entries {
		for i := range entries {
			if entries[i].ID != entryID {
				continue
			}
			r := rank
			entries[i].WinnerRank = &r
			entries[i].Payout = decimal.NewNullDecimal(payout)
			t.st.entries[contestID] = entries
			return nil
		}
	}
	return domain.Errorf(domain.ErrNotFound, "entry %s", entryID)
}

// --- withdrawals ---

func (t *tx) InsertWithdrawal(_ context.Context, w domain.WithdrawalRequest) error {
	if _, ok := t.st.withdrawals[w.ID]; ok {
		return domain.Errorf(domain.ErrDuplicateEvent, "withdrawal %s", w.ID)
	}
	if !w.Amount.IsPositive() {
		return domain.Errorf(domain.ErrIntegrityViolation, "withdrawal %s: amount must be positive", w.ID)
	}
	if _, ok := t.st.wallets[w.Owner]; !ok {
		return domain.Errorf(domain.ErrNotFound, "wallet %s", w.Owner)
	}
	now := t.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	t.st.withdrawals[w.ID] = w
	return nil
}

func (t *tx) GetWithdrawal(_ context.Context, id uuid.UUID) (domain.WithdrawalRequest, error) {
	w, ok := t.st.withdrawals[id]
	if !ok {
		return domain.WithdrawalRequest{}, domain.Errorf(domain.ErrNotFound, "withdrawal %s", id)
	}
	return w, nil
}

func (t *tx) LockWithdrawal(ctx context.Context, id uuid.UUID) (domain.WithdrawalRequest, error) {
	return t.GetWithdrawal(ctx, id)
}

func (t *tx) UpdateWithdrawal(_ context.Context, w domain.WithdrawalRequest) error {
	if _, ok := t.st.withdrawals[w.ID]; !ok {
		return domain.Errorf(domain.ErrNotFound, "withdrawal %s", w.ID)
	}
	w.UpdatedAt = t.now()
	t.st.withdrawals[w.ID] = w
	return nil
}
