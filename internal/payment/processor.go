package payment

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fastclassified/marketplace/internal/store"
)

// Errors returned by Processor.ApplyCallback. Callers map these to HTTP
// rejections; none of them leave partial state behind.
var (
	ErrSignatureMismatch   = errors.New("payment: callback signature mismatch")
	ErrUnknownTransaction  = errors.New("payment: callback references unknown transaction")
	ErrDuplicateCallback   = errors.New("payment: transaction already in terminal state")
	ErrUnsupportedProvider = errors.New("payment: unsupported provider")
)

// Provider-specific callback field names.
const (
	jazzCashRefField  = "pp_TxnRefNo"
	jazzCashCodeField = "pp_ResponseCode"

	easyPaisaRefField  = "orderRefNum"
	easyPaisaCodeField = "responseCode"
)

// TransactionStore is the narrow persistence surface the processor needs for
// transactions.
type TransactionStore interface {
	GetByRef(ctx context.Context, ref string) (*store.Transaction, error)
	MarkTerminal(ctx context.Context, ref, status string) (bool, error)
}

// WalletStore is the narrow persistence surface the processor needs for
// wallets.
type WalletStore interface {
	Credit(ctx context.Context, userID string, amount float64) error
}

// CallbackOutcome reports what a successfully applied callback did.
type CallbackOutcome struct {
	Transaction *store.Transaction
	Status      string // canonical terminal status applied
	Credited    bool   // whether a wallet was credited
}

// Processor applies verified provider callbacks to transactions and wallets.
// It owns the pending -> terminal transition and guarantees it happens at
// most once per transaction reference.
type Processor struct {
	gateways map[Provider]*Gateway
	txns     TransactionStore
	wallets  WalletStore
}

// NewProcessor creates a Processor over the given gateways and stores.
func NewProcessor(gateways map[Provider]*Gateway, txns TransactionStore, wallets WalletStore) *Processor {
	return &Processor{gateways: gateways, txns: txns, wallets: wallets}
}

// ApplyCallback validates and applies a provider callback.
//
// The sequence is: resolve the transaction, verify the signature, check the
// terminal state, transition, then credit the wallet for completed deposits
// and session payments. A signature mismatch or unknown reference mutates
// nothing; a duplicate callback for an already-terminal transaction is
// reported as ErrDuplicateCallback and also mutates nothing.
func (p *Processor) ApplyCallback(ctx context.Context, provider Provider, fields map[string]string) (*CallbackOutcome, error) {
	gw, ok := p.gateways[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}

	ref := fields[refField(provider)]
	if ref == "" {
		return nil, ErrUnknownTransaction
	}

	txn, err := p.txns.GetByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownTransaction
		}
		return nil, fmt.Errorf("payment: load transaction %s: %w", ref, err)
	}

	// Easypaisa callbacks do not echo the signed amount and post-back URL;
	// restore them from our records so verification covers the full signed
	// material.
	if provider == ProviderEasyPaisa {
		fields["amount"] = DecimalString(txn.Amount)
		fields["postBackURL"] = gw.cfg.PostBackURL
	}

	if !gw.VerifyCallback(fields) {
		log.Printf("payment: rejected callback ref=%s provider=%s: signature mismatch", ref, provider)
		return nil, ErrSignatureMismatch
	}

	if txn.Status != StatusPending {
		return nil, ErrDuplicateCallback
	}

	status := ResponseStatus(fields[codeField(provider)])

	applied, err := p.txns.MarkTerminal(ctx, ref, status)
	if err != nil {
		return nil, fmt.Errorf("payment: apply callback %s: %w", ref, err)
	}
	if !applied {
		// Lost the race against a concurrent callback for the same ref.
		return nil, ErrDuplicateCallback
	}

	outcome := &CallbackOutcome{Transaction: txn, Status: status}

	if status == StatusCompleted {
		if target := creditTarget(txn); target != "" {
			if err := p.wallets.Credit(ctx, target, txn.Amount); err != nil {
				// The transition already happened; surface the credit
				// failure rather than unwinding it.
				return outcome, fmt.Errorf("payment: credit wallet for %s: %w", ref, err)
			}
			outcome.Credited = true
		}
	}

	log.Printf("payment: callback applied ref=%s provider=%s status=%s credited=%v",
		ref, provider, status, outcome.Credited)
	return outcome, nil
}

// creditTarget returns the user whose wallet receives a completed
// transaction's amount: the payer for deposits, the payee for session
// payments, nobody for withdrawals.
func creditTarget(txn *store.Transaction) string {
	switch txn.Kind {
	case store.KindDeposit:
		return txn.UserID
	case store.KindSessionPayment:
		if txn.PayeeID.Valid {
			return txn.PayeeID.String
		}
	}
	return ""
}

func refField(provider Provider) string {
	if provider == ProviderEasyPaisa {
		return easyPaisaRefField
	}
	return jazzCashRefField
}

func codeField(provider Provider) string {
	if provider == ProviderEasyPaisa {
		return easyPaisaCodeField
	}
	return jazzCashCodeField
}
