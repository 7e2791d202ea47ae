package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/fastclassified/marketplace/internal/metrics"
	"github.com/fastclassified/marketplace/internal/payment"
	"github.com/fastclassified/marketplace/internal/ratelimit"
	"github.com/fastclassified/marketplace/internal/store"
)

// initiatePaymentRequest is the body for POST /api/payments/initiate.
type initiatePaymentRequest struct {
	Provider  string  `json:"provider"`
	Kind      string  `json:"kind"` // "deposit" or "session_payment"
	Amount    float64 `json:"amount"`
	SessionID string  `json:"session_id,omitempty"`
	Email     string  `json:"email,omitempty"`
	Mobile    string  `json:"mobile,omitempty"`
}

// transactionJSON is the client-facing shape of a transaction.
type transactionJSON struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	Provider  string    `json:"provider"`
	Kind      string    `json:"kind"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toTransactionJSON(txn *store.Transaction) transactionJSON {
	out := transactionJSON{
		ID:        txn.ID,
		Ref:       txn.Ref,
		Provider:  txn.Provider,
		Kind:      txn.Kind,
		Amount:    txn.Amount,
		Currency:  txn.Currency,
		Status:    txn.Status,
		CreatedAt: txn.CreatedAt,
		UpdatedAt: txn.UpdatedAt,
	}
	if txn.SessionID.Valid {
		out.SessionID = txn.SessionID.String
	}
	return out
}

// handleInitiatePayment starts a payment with the chosen provider and
// records the pending transaction. For session payments the amount and payee
// come from the booked session, never from the client.
func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}
	if !s.allow(w, r, user, ratelimit.RulePayment) {
		return
	}

	var req initiatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	gw, ok := s.gateways[payment.Provider(req.Provider)]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported provider")
		return
	}

	txn := &store.Transaction{
		Provider: req.Provider,
		UserID:   user,
		Kind:     req.Kind,
		Currency: "PKR",
	}

	switch req.Kind {
	case store.KindDeposit:
		if req.Amount <= 0 {
			writeError(w, http.StatusBadRequest, "amount must be positive")
			return
		}
		txn.Amount = req.Amount

	case store.KindSessionPayment:
		sess, err := s.sessions.GetByID(r.Context(), req.SessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			log.Printf("api: load session %s: %v", req.SessionID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if sess.StudentID != user {
			writeError(w, http.StatusForbidden, "only the student can pay for a session")
			return
		}
		if sess.Paid {
			writeError(w, http.StatusConflict, "session already paid")
			return
		}
		txn.Amount = sess.Price
		txn.SessionID = sql.NullString{String: sess.ID, Valid: true}
		txn.PayeeID = sql.NullString{String: sess.TeacherID, Valid: true}

	default:
		writeError(w, http.StatusBadRequest, "unsupported payment kind")
		return
	}

	result := gw.InitiatePayment(r.Context(), payment.PaymentRequest{
		Amount:         txn.Amount,
		CustomerEmail:  req.Email,
		CustomerMobile: req.Mobile,
		Description:    req.Kind,
	})

	metrics.PaymentsTotal.WithLabelValues(req.Provider, result.Status).Inc()

	// Record the attempt either way: a failed initiation is stored as a
	// terminal failed transaction, a successful one as pending.
	txn.Ref = result.TransactionRef
	if result.Status != payment.InitiationOK {
		txn.Status = payment.StatusFailed
	}
	if err := s.txns.Create(r.Context(), txn); err != nil {
		log.Printf("api: record transaction ref=%s: %v", txn.Ref, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if result.Status != payment.InitiationOK {
		log.Printf("api: payment initiation failed user=%s provider=%s: %s",
			user, req.Provider, result.Err)
		writeError(w, http.StatusBadGateway, "payment initiation failed")
		return
	}

	log.Printf("api: payment initiated user=%s provider=%s ref=%s amount=%.2f",
		user, req.Provider, txn.Ref, txn.Amount)
	writeJSON(w, http.StatusCreated, result)
}

// handleJazzCashCallback processes the form-encoded server callback from
// JazzCash.
func (s *Server) handleJazzCashCallback(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	fields := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}

	s.applyCallback(w, r, payment.ProviderJazzCash, fields)
}

// easyPaisaCallback is the JSON server callback body from Easypaisa.
type easyPaisaCallback struct {
	OrderRefNum       string `json:"orderRefNum"`
	ResponseCode      string `json:"responseCode"`
	ResponseDesc      string `json:"responseDesc"`
	MerchantHashedReq string `json:"merchantHashedReq"`
}

// handleEasyPaisaCallback processes the JSON server callback from Easypaisa.
func (s *Server) handleEasyPaisaCallback(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var cb easyPaisaCallback
	if !decodeJSON(w, r, &cb) {
		return
	}

	fields := map[string]string{
		"orderRefNum":       cb.OrderRefNum,
		"responseCode":      cb.ResponseCode,
		"merchantHashedReq": cb.MerchantHashedReq,
	}

	s.applyCallback(w, r, payment.ProviderEasyPaisa, fields)
}

// applyCallback runs the shared callback pipeline and maps processor errors
// to HTTP statuses. Duplicate callbacks are acknowledged with 200 so that
// provider retries stop.
func (s *Server) applyCallback(w http.ResponseWriter, r *http.Request, provider payment.Provider, fields map[string]string) {
	started := time.Now()
	log.Printf("api: %s callback from %s", provider, clientIP(r))

	outcome, err := s.processor.ApplyCallback(r.Context(), provider, fields)

	metrics.CallbackLatency.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		// fallthrough to side effects below
	case errors.Is(err, payment.ErrDuplicateCallback):
		writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
		return
	case errors.Is(err, payment.ErrSignatureMismatch):
		metrics.PaymentsTotal.WithLabelValues(string(provider), "rejected").Inc()
		writeError(w, http.StatusBadRequest, "signature verification failed")
		return
	case errors.Is(err, payment.ErrUnknownTransaction):
		writeError(w, http.StatusNotFound, "unknown transaction")
		return
	default:
		log.Printf("api: callback processing error provider=%s: %v", provider, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.PaymentsTotal.WithLabelValues(string(provider), outcome.Status).Inc()
	s.callbackSideEffects(r, outcome)

	writeJSON(w, http.StatusOK, map[string]string{
		"status": outcome.Status,
		"ref":    outcome.Transaction.Ref,
	})
}

// callbackSideEffects performs the post-transition work for an applied
// callback: marking sessions paid, persisting notifications, and publishing
// pushes. Failures here are logged, never surfaced to the provider; the
// transaction transition already committed.
func (s *Server) callbackSideEffects(r *http.Request, outcome *payment.CallbackOutcome) {
	ctx := r.Context()
	txn := outcome.Transaction

	if outcome.Status == payment.StatusCompleted &&
		txn.Kind == store.KindSessionPayment && txn.SessionID.Valid {
		if err := s.sessions.MarkPaid(ctx, txn.SessionID.String); err != nil {
			log.Printf("api: mark session %s paid: %v", txn.SessionID.String, err)
		}
		update, _ := json.Marshal(map[string]string{
			"session_id": txn.SessionID.String,
			"event":      "paid",
		})
		parties := []string{txn.UserID}
		if txn.PayeeID.Valid {
			parties = append(parties, txn.PayeeID.String)
		}
		s.publishSessionUpdate(parties, update)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"kind":   store.NotifyPayment,
		"ref":    txn.Ref,
		"amount": txn.Amount,
		"status": outcome.Status,
	})

	targets := []string{txn.UserID}
	if outcome.Credited && txn.PayeeID.Valid && txn.PayeeID.String != txn.UserID {
		targets = append(targets, txn.PayeeID.String)
	}

	for _, target := range targets {
		n := &store.Notification{UserID: target, Kind: store.NotifyPayment, Payload: payload}
		if err := s.notifs.Create(ctx, n); err != nil {
			log.Printf("api: persist payment notification user=%s: %v", target, err)
		}
		if s.bus != nil {
			if err := s.bus.PublishNotification(target, payload); err != nil {
				log.Printf("api: publish payment notification user=%s: %v", target, err)
			}
		}
	}
}

// publishSessionUpdate pushes a session update to each user.
func (s *Server) publishSessionUpdate(users []string, payload json.RawMessage) {
	if s.bus == nil {
		return
	}
	for _, u := range users {
		if u == "" {
			continue
		}
		if err := s.bus.PublishSessionUpdate(u, payload); err != nil {
			log.Printf("api: publish session update user=%s: %v", u, err)
		}
	}
}

// handleListTransactions returns the caller's payment history.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	user := userID(w, r)
	if user == "" {
		return
	}

	txns, err := s.txns.ListByUser(r.Context(), user, 50)
	if err != nil {
		log.Printf("api: list transactions user=%s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]transactionJSON, 0, len(txns))
	for i := range txns {
		out = append(out, toTransactionJSON(&txns[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": out})
}
