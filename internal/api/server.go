// Package api implements the marketplace REST API: payment initiation and
// provider callbacks, wallets, session bookings, conversation messages and
// notifications. Realtime delivery happens over NATS push subjects consumed
// by the WebSocket servers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/fastclassified/marketplace/internal/messaging"
	"github.com/fastclassified/marketplace/internal/metrics"
	"github.com/fastclassified/marketplace/internal/payment"
	"github.com/fastclassified/marketplace/internal/presence"
	"github.com/fastclassified/marketplace/internal/ratelimit"
	"github.com/fastclassified/marketplace/internal/store"
)

// userIDHeader carries the authenticated user's ID, set by the fronting
// gateway after it validates the client's token.
const userIDHeader = "X-User-ID"

// Config holds tunable parameters for the API server.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8000",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// WalletStore is the narrow wallet surface the handlers need. Tests
// substitute fakes; *store.WalletStore satisfies it.
type WalletStore interface {
	GetByUser(ctx context.Context, userID string) (*store.Wallet, error)
	CreateForUser(ctx context.Context, userID, currency string) (*store.Wallet, error)
	Debit(ctx context.Context, userID string, amount float64) error
}

// TransactionStore is the narrow transaction surface the handlers need.
type TransactionStore interface {
	Create(ctx context.Context, txn *store.Transaction) error
	ListByUser(ctx context.Context, userID string, limit int) ([]store.Transaction, error)
}

// Server wires the HTTP handlers to the stores, the payment processor and
// the push bus.
type Server struct {
	config    Config
	gateways  map[payment.Provider]*payment.Gateway
	processor *payment.Processor
	txns      TransactionStore
	wallets   WalletStore
	sessions  *store.SessionStore
	messages  *store.MessageStore
	notifs    *store.NotificationStore
	bus       *messaging.NATSClient
	limiter   *ratelimit.Limiter
	lastSeen  *presence.LastSeenStore

	httpServer *http.Server
	startedAt  time.Time
}

// Deps bundles the dependencies for NewServer.
type Deps struct {
	Gateways      map[payment.Provider]*payment.Gateway
	Processor     *payment.Processor
	Transactions  TransactionStore
	Wallets       WalletStore
	Sessions      *store.SessionStore
	Messages      *store.MessageStore
	Notifications *store.NotificationStore
	Bus           *messaging.NATSClient
	Limiter       *ratelimit.Limiter
	LastSeen      *presence.LastSeenStore
}

// NewServer creates a Server with the given configuration and dependencies.
func NewServer(config Config, deps Deps) *Server {
	return &Server{
		config:    config,
		gateways:  deps.Gateways,
		processor: deps.Processor,
		txns:      deps.Transactions,
		wallets:   deps.Wallets,
		sessions:  deps.Sessions,
		messages:  deps.Messages,
		notifs:    deps.Notifications,
		bus:       deps.Bus,
		limiter:   deps.Limiter,
		lastSeen:  deps.LastSeen,
	}
}

// Start configures the routes and blocks on ListenAndServe.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/payments/initiate", s.handleInitiatePayment)
	mux.HandleFunc("/api/payments/jazzcash/callback", s.handleJazzCashCallback)
	mux.HandleFunc("/api/payments/easypaisa/callback", s.handleEasyPaisaCallback)
	mux.HandleFunc("/api/payments/transactions", s.handleListTransactions)

	mux.HandleFunc("/api/wallet", s.handleWallet)
	mux.HandleFunc("/api/wallet/withdraw", s.handleWithdraw)

	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/status", s.handleSessionStatus)

	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/messages/read", s.handleMessagesRead)

	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/notifications/read", s.handleNotificationsRead)

	mux.HandleFunc("/api/users/lastseen", s.handleLastSeen)

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	log.Printf("api: server listening on %s", s.config.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: http server error: %w", err)
	}
	return nil
}

// Shutdown performs a graceful shutdown of the HTTP server.
func (s *Server) Shutdown() error {
	log.Println("api: shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// userID extracts the authenticated user from the request, or writes a 401
// and returns "".
func userID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
	}
	return id
}

// clientIP returns the remote IP for rate limiting, preferring the gateway's
// forwarded address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allow applies a rate limit rule for an identifier; on rejection it writes
// a 429 and returns false. Redis errors fail open.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, identifier string, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, _ := s.limiter.Allow(r.Context(), identifier, rule)
	if !ok {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}
