package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction kinds.
const (
	KindSessionPayment = "session_payment"
	KindDeposit        = "deposit"
	KindWithdrawal     = "withdrawal"
)

// Transaction records a single payment attempt against a provider. Status
// starts at "pending" and transitions exactly once to a terminal state when
// the provider callback is applied.
type Transaction struct {
	ID        string
	Ref       string // provider-facing reference (pp_TxnRefNo / orderRefNum)
	Provider  string
	UserID    string // the paying user
	PayeeID   sql.NullString // credited user for session payments
	SessionID sql.NullString
	Kind      string
	Amount    float64
	Currency  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionStore manages payment transactions in PostgreSQL.
type TransactionStore struct {
	db *sql.DB
}

// NewTransactionStore creates a transaction store backed by the given
// database handle.
func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Create inserts a new pending transaction and fills in its generated ID.
func (s *TransactionStore) Create(ctx context.Context, txn *Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.Status == "" {
		txn.Status = "pending"
	}

	const query = `
		INSERT INTO transactions (id, ref, provider, user_id, payee_id, session_id, kind, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		txn.ID, txn.Ref, txn.Provider, txn.UserID, txn.PayeeID, txn.SessionID,
		txn.Kind, txn.Amount, txn.Currency, txn.Status,
	)
	if err != nil {
		return fmt.Errorf("store: insert transaction: %w", err)
	}
	return nil
}

// GetByRef returns the transaction with the given provider reference, or
// ErrNotFound.
func (s *TransactionStore) GetByRef(ctx context.Context, ref string) (*Transaction, error) {
	const query = `
		SELECT id, ref, provider, user_id, payee_id, session_id, kind, amount, currency, status, created_at, updated_at
		FROM transactions
		WHERE ref = $1`

	var txn Transaction
	err := s.db.QueryRowContext(ctx, query, ref).Scan(
		&txn.ID, &txn.Ref, &txn.Provider, &txn.UserID, &txn.PayeeID, &txn.SessionID,
		&txn.Kind, &txn.Amount, &txn.Currency, &txn.Status, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get transaction: %w", err)
	}
	return &txn, nil
}

// MarkTerminal transitions a pending transaction to a terminal status.
// Returns false if the transaction was not pending (already applied or
// unknown) — the conditional WHERE makes duplicate callbacks no-ops at the
// row level, even under concurrent handlers.
func (s *TransactionStore) MarkTerminal(ctx context.Context, ref, status string) (bool, error) {
	const query = `
		UPDATE transactions
		SET status = $2, updated_at = NOW()
		WHERE ref = $1 AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, query, ref, status)
	if err != nil {
		return false, fmt.Errorf("store: mark transaction terminal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark transaction terminal: %w", err)
	}
	return n == 1, nil
}

// ListByUser returns the user's transactions, newest first.
func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	const query = `
		SELECT id, ref, provider, user_id, payee_id, session_id, kind, amount, currency, status, created_at, updated_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var txn Transaction
		if err := rows.Scan(
			&txn.ID, &txn.Ref, &txn.Provider, &txn.UserID, &txn.PayeeID, &txn.SessionID,
			&txn.Kind, &txn.Amount, &txn.Currency, &txn.Status, &txn.CreatedAt, &txn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
