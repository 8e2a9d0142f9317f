package server

import (
	"CricLedger/internal/contest"
	"CricLedger/internal/deposit"
	"CricLedger/internal/domain"
	"CricLedger/internal/ingestion"
	"CricLedger/internal/ledger"
	"CricLedger/internal/query"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/shopspring/decimal"
)

// api binds the HTTP routes to the services in Deps.
type api struct {
	deps    *Deps
	limiter *ClientLimiter
}

func newAPI(deps *Deps) *api {
	perSecond, burst := deps.WebhookRate, deps.WebhookBurst
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = int(perSecond) * 2
	}
	return &api{deps: deps, limiter: NewClientLimiter(perSecond, burst)}
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

func (a *api) routes() []route {
	rs := []route{
		{http.MethodPost, "/v1/deposits/notify", a.limiter.wrap(a.notifyDeposit, a.deps.Metrics, a.deps.Log)},

		{http.MethodPost, "/v1/wallets", a.createWallet},
		{http.MethodGet, "/v1/wallets/{owner_id}", a.getWallet},
		{http.MethodPost, "/v1/wallets/{owner_id}/adjust", a.adjustWallet},

		{http.MethodPost, "/v1/contests", a.createContest},
		{http.MethodGet, "/v1/contests/{contest_id}", a.getContest},
		{http.MethodGet, "/v1/contests/{contest_id}/entries", a.listEntries},
		{http.MethodPost, "/v1/contests/{contest_id}/open", a.openContest},
		{http.MethodPost, "/v1/contests/{contest_id}/close", a.closeContest},
		{http.MethodPost, "/v1/contests/{contest_id}/join", a.joinContest(false)},
		{http.MethodPost, "/v1/contests/{contest_id}/force-join", a.joinContest(true)},
		{http.MethodPost, "/v1/contests/{contest_id}/settle", a.settleContest},

		{http.MethodPost, "/v1/withdrawals", a.requestWithdrawal},
		{http.MethodGet, "/v1/withdrawals/{withdrawal_id}", a.getWithdrawal},
		{http.MethodPost, "/v1/withdrawals/{withdrawal_id}/approve", a.approveWithdrawal},
		{http.MethodPost, "/v1/withdrawals/{withdrawal_id}/reject", a.rejectWithdrawal},
	}
	if a.deps.Query != nil {
		rs = append(rs,
			route{http.MethodGet, "/v1/wallets/{owner_id}/transactions", a.transactionHistory},
			route{http.MethodGet, "/v1/admin/integrity", a.integrity},
		)
	}
	return rs
}

func (a *api) register(mux *runtime.ServeMux) error {
	for _, rt := range a.routes() {
		h := instrument(rt.method+" "+rt.pattern, rt.handler, a.deps.Metrics, a.deps.Log)
		if err := mux.HandlePath(rt.method, rt.pattern, h); err != nil {
			return err
		}
	}
	return nil
}

func pathUUID(params map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		return uuid.Nil, domain.Errorf(domain.ErrValidation, "%s: invalid uuid %q", name, params[name])
	}
	return id, nil
}

// ============================================================================
// Deposits
// ============================================================================

func (a *api) notifyDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, domain.Errorf(domain.ErrValidation, "read body: %v", err))
		return
	}
	if a.deps.Verifier != nil {
		if err := a.deps.Verifier.Verify(body, r.Header.Get(deposit.SignatureHeader)); err != nil {
			a.deps.Log.Warn().Str("client", clientKey(r)).Msg("deposit notification signature rejected")
			writeError(w, err)
			return
		}
	}
	n, err := ingestion.ParseNotification(body)
	if err != nil {
		writeError(w, err)
		return
	}
	ack, err := a.deps.Deposits.Ingest(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// ============================================================================
// Wallets
// ============================================================================

type createWalletRequest struct {
	Owner uuid.UUID `json:"owner_id"`
}

func (a *api) createWallet(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req createWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	wallet, err := a.deps.Admin.OpenWallet(r.Context(), req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (a *api) getWallet(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := pathUUID(params, "owner_id")
	if err != nil {
		writeError(w, err)
		return
	}
	wallet, err := a.deps.Ledger.Wallet(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type adjustRequest struct {
	Bucket    domain.Bucket   `json:"bucket"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"`
	Reference string          `json:"reference"`
	Reason    string          `json:"reason"`
}

type adjustResponse struct {
	Wallet      domain.Wallet            `json:"wallet"`
	Transaction domain.LedgerTransaction `json:"transaction"`
	Duplicate   bool                     `json:"duplicate"`
}

func (a *api) adjustWallet(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := pathUUID(params, "owner_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req adjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rcpt, err := a.deps.Admin.Adjust(r.Context(), ledger.Adjustment{
		Owner:     owner,
		Bucket:    req.Bucket,
		Amount:    req.Amount,
		Direction: req.Direction,
		Reference: req.Reference,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustResponse{
		Wallet: rcpt.Wallet, Transaction: rcpt.Transaction, Duplicate: rcpt.Duplicate,
	})
}

func (a *api) transactionHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := pathUUID(params, "owner_id")
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, domain.Errorf(domain.ErrValidation, "limit: %q is not an integer", v))
			return
		}
	}
	var before *time.Time
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, domain.Errorf(domain.ErrValidation, "before: %q is not RFC3339", v))
			return
		}
		before = &t
	}

	history, err := a.deps.Query.TransactionHistory(r.Context(), owner, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": history})
}

// ============================================================================
// Contests
// ============================================================================

func (a *api) createContest(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req contest.NewContest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := a.deps.Contests.CreateContest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *api) getContest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	a.contestOp(w, r, params, a.deps.Contests.Get)
}

func (a *api) openContest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	a.contestOp(w, r, params, a.deps.Contests.Open)
}

func (a *api) closeContest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	a.contestOp(w, r, params, a.deps.Contests.Close)
}

func (a *api) contestOp(
	w http.ResponseWriter,
	r *http.Request,
	params map[string]string,
	op func(context.Context, uuid.UUID) (domain.Contest, error),
) {
	id, err := pathUUID(params, "contest_id")
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := op(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *api) listEntries(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathUUID(params, "contest_id")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := a.deps.Contests.Entries(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type joinRequest struct {
	Owner uuid.UUID `json:"owner_id"`
}

func (a *api) joinContest(forced bool) runtime.HandlerFunc {
	join := a.deps.Entries.Join
	if forced {
		join = a.deps.Entries.ForceJoin
	}
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		id, err := pathUUID(params, "contest_id")
		if err != nil {
			writeError(w, err)
			return
		}
		var req joinRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		entry, err := join(r.Context(), id, req.Owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

type settleRequest struct {
	Winners []contest.Winner `json:"winners"`
}

func (a *api) settleContest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathUUID(params, "contest_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.deps.Settlement.Settle(r.Context(), id, req.Winners)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ============================================================================
// Withdrawals
// ============================================================================

type withdrawalRequest struct {
	Owner   uuid.UUID       `json:"owner_id"`
	Amount  decimal.Decimal `json:"amount"`
	Address string          `json:"address"`
}

func (a *api) requestWithdrawal(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req withdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	wr, err := a.deps.Withdrawals.Request(r.Context(), req.Owner, req.Amount, req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

func (a *api) getWithdrawal(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathUUID(params, "withdrawal_id")
	if err != nil {
		writeError(w, err)
		return
	}
	wr, err := a.deps.Withdrawals.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

func (a *api) approveWithdrawal(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathUUID(params, "withdrawal_id")
	if err != nil {
		writeError(w, err)
		return
	}
	wr, err := a.deps.Withdrawals.Approve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (a *api) rejectWithdrawal(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathUUID(params, "withdrawal_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	wr, err := a.deps.Withdrawals.Reject(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

// ============================================================================
// Admin
// ============================================================================

type integrityResponse struct {
	Report *query.IntegrityReport `json:"report"`
	Totals query.Totals           `json:"totals"`
}

func (a *api) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := a.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	totals, err := a.deps.Query.Totals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !report.IsHealthy {
		a.deps.Log.Error().Bool("alert", true).
			Int("held_mismatches", len(report.HeldMismatches)).
			Int("entry_count_mismatches", len(report.EntryCountMismatches)).
			Int("overpaid_contests", len(report.OverpaidContests)).
			Msg("integrity check failed")
	}
	writeJSON(w, http.StatusOK, integrityResponse{Report: report, Totals: totals})
}
