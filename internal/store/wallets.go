package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientBalance is returned by Debit when the wallet cannot cover
// the requested amount.
var ErrInsufficientBalance = errors.New("store: insufficient wallet balance")

// Wallet is a user's balance ledger in the settlement currency. One wallet
// per user.
type Wallet struct {
	ID        string
	UserID    string
	Balance   float64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletStore manages wallets in PostgreSQL.
type WalletStore struct {
	db *sql.DB
}

// NewWalletStore creates a wallet store backed by the given database handle.
func NewWalletStore(db *sql.DB) *WalletStore {
	return &WalletStore{db: db}
}

// CreateForUser creates an empty wallet for a user. Called once at signup.
func (s *WalletStore) CreateForUser(ctx context.Context, userID, currency string) (*Wallet, error) {
	w := &Wallet{
		ID:       uuid.New().String(),
		UserID:   userID,
		Currency: currency,
	}

	const query = `
		INSERT INTO wallets (id, user_id, balance, currency)
		VALUES ($1, $2, 0, $3)`

	if _, err := s.db.ExecContext(ctx, query, w.ID, w.UserID, w.Currency); err != nil {
		return nil, fmt.Errorf("store: create wallet: %w", err)
	}
	return w, nil
}

// GetByUser returns the user's wallet, or ErrNotFound.
func (s *WalletStore) GetByUser(ctx context.Context, userID string) (*Wallet, error) {
	const query = `
		SELECT id, user_id, balance, currency, created_at, updated_at
		FROM wallets
		WHERE user_id = $1`

	var w Wallet
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get wallet: %w", err)
	}
	return &w, nil
}

// Credit adds a verified amount to the user's wallet, creating the wallet if
// it does not exist yet. A payment callback can arrive before the user ever
// touched their wallet, so the credit must not depend on prior creation.
func (s *WalletStore) Credit(ctx context.Context, userID string, amount float64) error {
	const query = `
		INSERT INTO wallets (id, user_id, balance, currency)
		VALUES ($1, $2, $3, 'PKR')
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, uuid.New().String(), userID, amount); err != nil {
		return fmt.Errorf("store: credit wallet: %w", err)
	}
	return nil
}

// Debit withdraws from the user's wallet. The balance check happens in the
// UPDATE itself so concurrent withdrawals cannot overdraw; a zero
// rows-affected result means the balance was insufficient (or the wallet is
// missing).
func (s *WalletStore) Debit(ctx context.Context, userID string, amount float64) error {
	const query = `
		UPDATE wallets
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2`

	res, err := s.db.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("store: debit wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: debit wallet: %w", err)
	}
	if n == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
