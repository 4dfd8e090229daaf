// Package store defines the interface for database implementations to the gateway service.
package store

import (
	"context"
	"errors"

	"github.com/tarancss/cgw/lib/wallet"
)

// DB defines the persistence methods required by the transaction orchestrator and
// the callback ingester. Boolean results report whether the operation took effect:
// a false with nil error is a defined concurrency outcome (duplicate key, no match),
// never a failure.
type DB interface {
	// TxCreate inserts a transaction document. It returns false when a document
	// with the same opid or hash already exists (insert-or-report-conflict).
	TxCreate(ctx context.Context, tx *wallet.Tx) (bool, error)
	// TxReplace overwrites the document stored under opid with tx.
	TxReplace(ctx context.Context, opid string, tx *wallet.Tx) (bool, error)
	TxByOpid(ctx context.Context, opid string) (*wallet.Tx, error)
	TxByHash(ctx context.Context, hash string) (*wallet.Tx, error)
	// TxMarkSent records a successful broadcast: hash plus Sent status.
	TxMarkSent(ctx context.Context, opid, hash string, timestamp, block, page int64) (bool, error)
	TxMarkFailed(ctx context.Context, opid, reason string, timestamp int64) (bool, error)
	// TxMarkCompleted finalizes an internal transfer under its synthetic hash.
	TxMarkCompleted(ctx context.Context, opid, hash string, timestamp int64) (bool, error)
	// TxSetStatusByHash updates the status of a transaction that is still in
	// flight (Initial, Sent or Locked); it matches nothing once the transaction
	// reached Completed or Failed.
	TxSetStatusByHash(ctx context.Context, hash string, status wallet.TxStatus) (bool, error)
	// TxCompleteByHash conditionally moves a Sent transaction to Completed; it
	// matches nothing when the status already left Sent.
	TxCompleteByHash(ctx context.Context, hash string, timestamp, block, page int64) (bool, error)
	TxSetOperations(ctx context.Context, hash string, ops []wallet.Operation) (bool, error)
	TxSetObserving(ctx context.Context, opid string, observing bool) (bool, error)
	// TxPending returns all transactions still in flight (Initial, Sent or Locked)
	// so the wallet can resume watching them after a restart.
	TxPending(ctx context.Context) ([]*wallet.Tx, error)
	// TxMaxPage returns the highest chain height cursor persisted on any
	// transaction, or 0 when none carries one.
	TxMaxPage(ctx context.Context) (int64, error)
	TxHistory(ctx context.Context, q HistoryQuery) ([]*wallet.Tx, error)

	AccountCreate(ctx context.Context, a Account) (bool, error)
	// AccountInc atomically increments the account balance by delta and, when
	// block is positive, records it as the last height the balance changed at.
	AccountInc(ctx context.Context, paymentID string, delta, block int64) (bool, error)
	AccountsByPaymentIDs(ctx context.Context, paymentIDs []string) ([]Account, error)
	// AccountFind lists accounts with balance greater than minBalance, ordered by
	// address, honouring offset/limit paging.
	AccountFind(ctx context.Context, minBalance int64, offset, limit int64) ([]Account, error)
	AccountDelete(ctx context.Context, address string) (bool, error)
}

// HistoryQuery selects completed transactions for the history endpoints. From/To
// filter on operation addresses, the payment ids on their sub-account tags.
type HistoryQuery struct {
	From            string
	To              string
	SourcePaymentID string
	PaymentID       string
	AfterTimestamp  int64
	Limit           int64
}

// Errors returned.
var (
	ErrTxNotFound   = errors.New("transaction was not found in store")
	ErrDataNotFound = errors.New("data was not found in store")
)
