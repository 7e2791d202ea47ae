package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/fastclassified/marketplace/internal/store"
)

// handleWallet returns the caller's wallet balance, creating the wallet on
// first access.
func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}

	wallet, err := s.wallets.GetByUser(r.Context(), user)
	if errors.Is(err, store.ErrNotFound) {
		wallet, err = s.wallets.CreateForUser(r.Context(), user, "PKR")
	}
	if err != nil {
		log.Printf("api: get wallet user=%s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  wallet.UserID,
		"balance":  wallet.Balance,
		"currency": wallet.Currency,
	})
}

// withdrawRequest is the body for POST /api/wallet/withdraw.
type withdrawRequest struct {
	Amount float64 `json:"amount"`
}

// handleWithdraw debits the caller's wallet and records a withdrawal
// transaction. The debit is guarded at the SQL level, so a concurrent
// withdrawal can never overdraw the balance.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}

	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	err := s.wallets.Debit(r.Context(), user, req.Amount)
	if errors.Is(err, store.ErrInsufficientBalance) {
		writeError(w, http.StatusConflict, "insufficient balance")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		log.Printf("api: debit wallet user=%s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	txn := &store.Transaction{
		Ref:      "W" + uuid.New().String(),
		Provider: "wallet",
		UserID:   user,
		Kind:     store.KindWithdrawal,
		Amount:   req.Amount,
		Currency: "PKR",
		Status:   "completed",
	}
	if err := s.txns.Create(r.Context(), txn); err != nil {
		// The debit already happened; record-keeping failure is logged, not
		// unwound.
		log.Printf("api: record withdrawal user=%s: %v", user, err)
	}

	log.Printf("api: withdrawal user=%s amount=%.2f", user, req.Amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "completed",
		"amount": req.Amount,
	})
}
