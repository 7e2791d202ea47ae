package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fastclassified/marketplace/internal/store"
)

// fakeWalletStore is an in-memory WalletStore mirroring the SQL guard:
// a debit beyond the balance fails and leaves the balance untouched.
type fakeWalletStore struct {
	mu       sync.Mutex
	balances map[string]float64
}

func (f *fakeWalletStore) GetByUser(ctx context.Context, userID string) (*store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Wallet{UserID: userID, Balance: b, Currency: "PKR"}, nil
}

func (f *fakeWalletStore) CreateForUser(ctx context.Context, userID, currency string) (*store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] = 0
	return &store.Wallet{UserID: userID, Currency: currency}, nil
}

func (f *fakeWalletStore) Debit(ctx context.Context, userID string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	if !ok || b < amount {
		return store.ErrInsufficientBalance
	}
	f.balances[userID] = b - amount
	return nil
}

// fakeTxnStore records created transactions.
type fakeTxnStore struct {
	mu      sync.Mutex
	created []store.Transaction
}

func (f *fakeTxnStore) Create(ctx context.Context, txn *store.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *txn)
	return nil
}

func (f *fakeTxnStore) ListByUser(ctx context.Context, userID string, limit int) ([]store.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Transaction(nil), f.created...), nil
}

func withdrawRequestFor(user, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/wallet/withdraw", strings.NewReader(body))
	r.Header.Set(userIDHeader, user)
	return r
}

func TestHandleWithdraw_InsufficientBalance(t *testing.T) {
	wallets := &fakeWalletStore{balances: map[string]float64{"u1": 100}}
	txns := &fakeTxnStore{}
	s := NewServer(DefaultConfig(), Deps{Wallets: wallets, Transactions: txns})

	w := httptest.NewRecorder()
	s.handleWithdraw(w, withdrawRequestFor("u1", `{"amount": 250}`))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if got := wallets.balances["u1"]; got != 100 {
		t.Errorf("balance = %v after rejected withdrawal, want 100", got)
	}
	if len(txns.created) != 0 {
		t.Errorf("rejected withdrawal recorded %d transactions, want 0", len(txns.created))
	}
}

func TestHandleWithdraw_DebitsAndRecords(t *testing.T) {
	wallets := &fakeWalletStore{balances: map[string]float64{"u1": 100}}
	txns := &fakeTxnStore{}
	s := NewServer(DefaultConfig(), Deps{Wallets: wallets, Transactions: txns})

	w := httptest.NewRecorder()
	s.handleWithdraw(w, withdrawRequestFor("u1", `{"amount": 40}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := wallets.balances["u1"]; got != 60 {
		t.Errorf("balance = %v, want 60", got)
	}
	if len(txns.created) != 1 {
		t.Fatalf("recorded %d transactions, want 1", len(txns.created))
	}
	txn := txns.created[0]
	if txn.Kind != store.KindWithdrawal || txn.Amount != 40 || txn.UserID != "u1" {
		t.Errorf("unexpected withdrawal record: %+v", txn)
	}
	if !strings.HasPrefix(txn.Ref, "W") {
		t.Errorf("withdrawal ref %q should start with W", txn.Ref)
	}
}

func TestHandleWithdraw_RejectsNonPositiveAmount(t *testing.T) {
	wallets := &fakeWalletStore{balances: map[string]float64{"u1": 100}}
	txns := &fakeTxnStore{}
	s := NewServer(DefaultConfig(), Deps{Wallets: wallets, Transactions: txns})

	for _, body := range []string{`{"amount": 0}`, `{"amount": -5}`} {
		w := httptest.NewRecorder()
		s.handleWithdraw(w, withdrawRequestFor("u1", body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
	if got := wallets.balances["u1"]; got != 100 {
		t.Errorf("balance = %v, want 100", got)
	}
}
