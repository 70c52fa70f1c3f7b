package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/domain"
	"go.uber.org/zap"
)

type createAccountRequest struct {
	CardNumber string          `json:"card_number"`
	PIN        string          `json:"pin"`
	Balance    decimal.Decimal `json:"balance"`
}

type setBalanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

type resetPINRequest struct {
	PIN string `json:"pin"`
}

type adminTransferRequest struct {
	FromCard string          `json:"from_card"`
	ToCard   string          `json:"to_card"`
	Amount   decimal.Decimal `json:"amount"`
}

type cashResponse struct {
	Cash decimal.Decimal `json:"cash"`
}

type cashRequest struct {
	Cash decimal.Decimal `json:"cash"`
}

type accountResponse struct {
	CardNumber     string          `json:"card_number"`
	Balance        decimal.Decimal `json:"balance"`
	FailedAttempts int             `json:"failed_attempts"`
	Locked         bool            `json:"locked"`
}

func (h *Handlers) newAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		CardNumber:     a.CardNumber.String(),
		Balance:        a.Balance.Round(domain.AmountScale),
		FailedAttempts: a.FailedAttempts,
		Locked:         a.LockedUntil != nil && a.LockedUntil.After(h.tokens.now()),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ListAccountsHandler lists every account.
func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.admin.Accounts(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, h.newAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateAccountHandler provisions an account.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := h.admin.CreateAccount(r.Context(), req.CardNumber, req.PIN, req.Balance)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.newAccountResponse(*account))
}

// GetAccountHandler returns one account.
func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	account, err := h.admin.Account(r.Context(), chi.URLParam(r, "card"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.newAccountResponse(*account))
}

// DeleteAccountHandler removes an account and its history.
func (h *Handlers) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteAccount(r.Context(), chi.URLParam(r, "card")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetBalanceHandler overwrites an account balance.
func (h *Handlers) SetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	var req setBalanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.admin.SetBalance(r.Context(), chi.URLParam(r, "card"), req.Balance); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPINHandler resets the PIN; an empty body resets to the default PIN.
func (h *Handlers) ResetPINHandler(w http.ResponseWriter, r *http.Request) {
	var req resetPINRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if err := h.admin.ResetPIN(r.Context(), chi.URLParam(r, "card"), req.PIN); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AccountHistoryHandler lists any account's recent records.
func (h *Handlers) AccountHistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}
	history, err := h.admin.History(r.Context(), chi.URLParam(r, "card"), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionList(history))
}

// AdminTransferHandler moves funds between two accounts.
func (h *Handlers) AdminTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req adminTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	records, err := h.admin.Transfer(r.Context(), req.FromCard, req.ToCard, req.Amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionList(records))
}

// GetCashHandler returns the machine's cash.
func (h *Handlers) GetCashHandler(w http.ResponseWriter, r *http.Request) {
	cash, err := h.admin.MachineCash(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cashResponse{Cash: cash.Round(domain.AmountScale)})
}

// SetCashHandler records a replenishment.
func (h *Handlers) SetCashHandler(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.admin.SetMachineCash(r.Context(), req.Cash); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info("machine cash replenished via api", zap.String("cash", req.Cash.StringFixed(domain.AmountScale)))
	writeJSON(w, http.StatusOK, cashResponse{Cash: req.Cash.Round(domain.AmountScale)})
}
