package server

import (
	"CricLedger/internal/deposit"
	"CricLedger/internal/domain"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, deposit.ErrBadSignature) {
		return http.StatusUnauthorized
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientFunds,
		domain.KindAlreadyJoined,
		domain.KindContestFull,
		domain.KindAlreadySettled,
		domain.KindAlreadyTerminal,
		domain.KindDuplicateEvent:
		return http.StatusConflict
	case domain.KindConcurrencyConflict, domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	body := errorBody{
		Error:     domain.KindOf(err).String(),
		Message:   err.Error(),
		Retryable: domain.IsRetryable(err),
	}
	switch {
	case code == http.StatusUnauthorized:
		body.Error = "unauthorized"
	case code == http.StatusInternalServerError:
		// Storage details stay in the log.
		body.Message = "internal error"
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, body)
}

// decodeJSON reads a bounded JSON body into v. Malformed input is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Errorf(domain.ErrValidation, "request body is empty")
		}
		return domain.Errorf(domain.ErrValidation, "malformed request body: %v", err)
	}
	return nil
}

func routingError(
	_ context.Context,
	_ *runtime.ServeMux,
	_ runtime.Marshaler,
	w http.ResponseWriter,
	r *http.Request,
	httpStatus int,
) {
	kind := "not_found"
	if httpStatus == http.StatusMethodNotAllowed {
		kind = "method_not_allowed"
	}
	writeJSON(w, httpStatus, errorBody{Error: kind, Message: r.Method + " " + r.URL.Path})
}
