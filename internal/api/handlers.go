/**
 * @description
 * This file contains the HTTP handlers for the ATM service. Handlers parse the
 * request, call the session controller or the admin service, and write the JSON
 * response. They act as the bridge between the web layer and the business logic.
 *
 * @dependencies
 * - internal/app, internal/domain: Controller, admin service and models.
 * - golang.org/x/crypto/bcrypt: Admin PIN verification.
 * - go.uber.org/zap: Structured logging.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/app"
	"github.com/transfa/atm-service/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerConfig carries the handler settings taken from the service config.
type HandlerConfig struct {
	AdminPINHash        string
	HistoryDefaultLimit int
}

// Handlers holds the services the HTTP handlers use.
type Handlers struct {
	sessions *app.SessionRegistry
	admin    *app.AdminService
	store    Pinger
	tokens   *TokenIssuer
	throttle app.LoginThrottle
	cfg      HandlerConfig
	logger   *zap.Logger
}

// NewHandlers creates the handler set. throttle may be nil.
func NewHandlers(
	sessions *app.SessionRegistry,
	admin *app.AdminService,
	store Pinger,
	tokens *TokenIssuer,
	throttle app.LoginThrottle,
	cfg HandlerConfig,
	logger *zap.Logger,
) *Handlers {
	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = 10
	}
	return &Handlers{
		sessions: sessions,
		admin:    admin,
		store:    store,
		tokens:   tokens,
		throttle: throttle,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "api")),
	}
}

type loginRequest struct {
	CardNumber string `json:"card_number"`
	PIN        string `json:"pin"`
}

type sessionResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	CardNumber string    `json:"card_number,omitempty"`
	Role       string    `json:"role"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	TargetCard string          `json:"target_card"`
	Amount     decimal.Decimal `json:"amount"`
}

type changePINRequest struct {
	OldPIN string `json:"old_pin"`
	NewPIN string `json:"new_pin"`
}

type balanceResponse struct {
	CardNumber string          `json:"card_number"`
	Balance    decimal.Decimal `json:"balance"`
}

type transactionResponse struct {
	ID           int64           `json:"id"`
	CardNumber   string          `json:"card_number"`
	Kind         string          `json:"kind"`
	Label        string          `json:"label"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newTransactionResponse(tx domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:           tx.ID,
		CardNumber:   tx.CardNumber.Masked(),
		Kind:         tx.Kind.String(),
		Label:        tx.Kind.Label(),
		Amount:       tx.Amount.Round(domain.AmountScale),
		BalanceAfter: tx.BalanceAfter.Round(domain.AmountScale),
		CreatedAt:    tx.CreatedAt,
	}
}

func newTransactionList(txs []domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionResponse(tx))
	}
	return out
}

// HealthHandler reports whether the store is reachable.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

// allowLogin registers the attempt with the login throttle. It writes the 429
// response itself and returns false when the caller must stop.
func (h *Handlers) allowLogin(w http.ResponseWriter, r *http.Request, card string) bool {
	if h.throttle == nil {
		return true
	}
	verdict, err := h.throttle.RegisterAttempt(r.Context(), card)
	if err != nil {
		// Fail open: the lockout state machine still protects the account.
		h.logger.Warn("login throttle unavailable", zap.Error(err))
		return true
	}
	if !verdict.Allowed {
		h.logger.Info("login throttled", zap.Int("attempts", verdict.Attempts))
		w.Header().Set("Retry-After", strconv.Itoa(int(verdict.RetryAfter/time.Second)))
		writeError(w, http.StatusTooManyRequests, "Too many login attempts. Please wait and try again.")
		return false
	}
	return true
}

// LoginHandler opens a cardholder session.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.allowLogin(w, r, req.CardNumber) {
		return
	}

	sid, card, ok, err := h.sessions.Open(r.Context(), req.CardNumber, req.PIN)
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid card number or PIN")
		return
	}

	token, expiresAt, err := h.tokens.Issue(sid, RoleCardholder)
	if err != nil {
		_ = h.sessions.Close(sid)
		h.logger.Error("failed to issue session token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, ExpiresAt: expiresAt, CardNumber: card.Masked(), Role: RoleCardholder})
}

// LogoutHandler ends the caller's session.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sid, ok := SessionIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.sessions.Close(sid); err != nil && !errors.Is(err, app.ErrSessionNotFound) {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withController runs fn on the caller's controller and maps its error.
func (h *Handlers) withController(w http.ResponseWriter, r *http.Request, fn func(*app.Controller) error) bool {
	sid, ok := SessionIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	if err := h.sessions.With(sid, fn); err != nil {
		h.writeDomainError(w, err)
		return false
	}
	return true
}

// BalanceHandler returns the session account's balance.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	var resp balanceResponse
	ok := h.withController(w, r, func(c *app.Controller) error {
		balance, err := c.Balance(r.Context())
		if err != nil {
			return err
		}
		card, _ := c.CurrentCard()
		resp = balanceResponse{CardNumber: card.Masked(), Balance: balance.Round(domain.AmountScale)}
		return nil
	})
	if ok {
		writeJSON(w, http.StatusOK, resp)
	}
}

// WithdrawHandler dispenses cash.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	var rec *domain.Transaction
	ok := h.withController(w, r, func(c *app.Controller) (err error) {
		rec, err = c.Withdraw(r.Context(), req.Amount)
		return err
	})
	if ok {
		writeJSON(w, http.StatusCreated, newTransactionResponse(*rec))
	}
}

// DepositHandler credits the session account.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	var rec *domain.Transaction
	ok := h.withController(w, r, func(c *app.Controller) (err error) {
		rec, err = c.Deposit(r.Context(), req.Amount)
		return err
	})
	if ok {
		writeJSON(w, http.StatusCreated, newTransactionResponse(*rec))
	}
}

// TransferHandler moves funds to another card.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	var rec *domain.Transaction
	ok := h.withController(w, r, func(c *app.Controller) (err error) {
		rec, err = c.TransferTo(r.Context(), domain.CardNumber(req.TargetCard), req.Amount)
		return err
	})
	if ok {
		writeJSON(w, http.StatusCreated, newTransactionResponse(*rec))
	}
}

// ChangePINHandler replaces the session account's PIN.
func (h *Handlers) ChangePINHandler(w http.ResponseWriter, r *http.Request) {
	var req changePINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ok := h.withController(w, r, func(c *app.Controller) error {
		return c.ChangePin(r.Context(), req.OldPIN, req.NewPIN)
	})
	if ok {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return h.cfg.HistoryDefaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return 0, false
	}
	return limit, true
}

// HistoryHandler lists the session account's most recent records.
func (h *Handlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}
	var history []domain.Transaction
	if h.withController(w, r, func(c *app.Controller) (err error) {
		history, err = c.History(r.Context(), limit)
		return err
	}) {
		writeJSON(w, http.StatusOK, newTransactionList(history))
	}
}

// AdminLoginHandler exchanges the reserved card and the admin PIN for an admin token.
func (h *Handlers) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.allowLogin(w, r, req.CardNumber) {
		return
	}

	card, err := domain.ParseCardNumber(req.CardNumber)
	if err != nil || !card.IsReserved() || h.cfg.AdminPINHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminPINHash), []byte(req.PIN)) != nil {
		h.logger.Warn("admin login rejected")
		writeError(w, http.StatusUnauthorized, "Invalid card number or PIN")
		return
	}

	token, expiresAt, err := h.tokens.Issue(uuid.New(), RoleAdmin)
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.logger.Info("admin session opened")
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, ExpiresAt: expiresAt, Role: RoleAdmin})
}

// writeDomainError maps service errors to HTTP statuses. Unexpected errors are
// logged and hidden behind a 500.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	status, message := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, message)
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound), errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "Session expired. Please sign in again."
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found"
	case errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict, "Account already exists"
	case errors.Is(err, domain.ErrPINMismatch):
		return http.StatusForbidden, "Current PIN is incorrect"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, domain.ErrInsufficientCash):
		return http.StatusUnprocessableEntity, "The machine cannot dispense this amount"
	case errors.Is(err, domain.ErrInvalidCardNumber),
		errors.Is(err, domain.ErrReservedCard),
		errors.Is(err, domain.ErrInvalidPINFormat),
		errors.Is(err, domain.ErrEmptyPIN),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidBalance),
		errors.Is(err, domain.ErrSameAccount):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
