package gateway

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/cgw/lib/msg"
	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/wallet"
)

// ingestQueueSize bounds the callback channel between the wallet refresh loop
// and the ingestion routine.
const ingestQueueSize = 64

// Ingester consumes the transactions the wallet observes on chain and reconciles
// stored transactions and observed account balances. It never propagates a
// failure back to the refresh loop: every error is logged and correctness relies
// on the next refresh re-delivering the pending hash.
type Ingester struct {
	log   *logrus.Entry
	db    store.DB
	mb    msg.MsgBroker
	asset string

	ch   chan *wallet.Tx
	done chan struct{}
}

func NewIngester(log *logrus.Entry, dbConn store.DB, mb msg.MsgBroker, asset string) *Ingester {
	return &Ingester{
		log:   log,
		db:    dbConn,
		mb:    mb,
		asset: asset,
		ch:    make(chan *wallet.Tx, ingestQueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the ingestion routine.
func (i *Ingester) Start() {
	go func() {
		for tx := range i.ch {
			i.ingest(context.Background(), tx)
		}

		close(i.done)
	}()
}

// Stop drains and closes the ingestion channel.
func (i *Ingester) Stop() {
	close(i.ch)
	<-i.done
}

// OnTx is the wallet callback. It queues the transaction for ingestion.
func (i *Ingester) OnTx(tx *wallet.Tx) {
	i.ch <- tx
}

func (i *Ingester) ingest(ctx context.Context, tx *wallet.Tx) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Errorf("Panic ingesting tx %s: %v", tx.Hash, r)
		}
	}()

	callbacksIngested.WithLabelValues(string(tx.Status)).Inc()

	switch {
	case tx.Status == wallet.TxInitial || tx.Status == wallet.TxSent:
		// expected transient states, not actionable yet

	case tx.Status == wallet.TxFailed || tx.Status == wallet.TxLocked:
		ok, err := i.db.TxSetStatusByHash(ctx, tx.Hash, tx.Status)
		if err != nil {
			i.log.WithError(err).Errorf("Cannot set status %s on tx %s", tx.Status, tx.Hash)

			return
		}

		if !ok {
			// no stored record for this hash, duplicate or foreign delivery
			return
		}

		i.publish(tx)

	case tx.Incoming:
		i.cashIn(ctx, tx)

	default:
		i.cashOut(ctx, tx)
	}
}

// cashIn records a confirmed incoming payment. The hash-keyed insert makes the
// effect exactly-once under at-least-once delivery: the loser of a duplicate
// race sees the insert report a conflict and stops.
func (i *Ingester) cashIn(ctx context.Context, tx *wallet.Tx) {
	created, err := i.db.TxCreate(ctx, tx)
	if err != nil {
		i.log.WithError(err).Errorf("Cannot store incoming tx %s", tx.Hash)

		return
	}

	if !created {
		return // already processed
	}

	for _, op := range tx.Operations {
		if op.PaymentID == "" {
			continue
		}

		ok, err := i.db.AccountInc(ctx, op.PaymentID, op.Amount, tx.Block)
		if err != nil {
			i.log.WithError(err).Errorf("Cannot credit account %s for tx %s", op.PaymentID, tx.Hash)

			continue
		}

		if !ok {
			i.log.Debugf("Payment id %s in tx %s is not observed, skipping credit", op.PaymentID, tx.Hash)
		}
	}

	i.publish(tx)
}

// cashOut confirms a broadcast transaction. The Sent->Completed update is
// conditional so two concurrent completions of the same hash apply at most once.
func (i *Ingester) cashOut(ctx context.Context, tx *wallet.Tx) {
	ok, err := i.db.TxCompleteByHash(ctx, tx.Hash, tx.Timestamp, tx.Block, tx.Page)
	if err != nil {
		i.log.WithError(err).Errorf("Cannot complete tx %s", tx.Hash)

		return
	}

	if !ok {
		existing, err := i.db.TxByHash(ctx, tx.Hash)

		switch {
		case errors.Is(err, store.ErrTxNotFound):
			// the service never broadcast this hash, keep it for the history record
			i.log.Warnf("Completion for unknown tx %s, storing for history", tx.Hash)

			if _, err = i.db.TxCreate(ctx, tx); err != nil {
				i.log.WithError(err).Errorf("Cannot store foreign tx %s", tx.Hash)
			}
		case err != nil:
			i.log.WithError(err).Errorf("Cannot look up tx %s", tx.Hash)
		default:
			_ = existing // already completed, nothing further to do
		}

		return
	}

	i.reconcile(ctx, tx)
	i.publish(tx)
}

// reconcile copies the fee and chain id the node learned post-confirmation onto
// the stored operations, matched structurally against operations that do not
// carry a chain id yet.
func (i *Ingester) reconcile(ctx context.Context, tx *wallet.Tx) {
	stored, err := i.db.TxByHash(ctx, tx.Hash)
	if err != nil {
		i.log.WithError(err).Errorf("Cannot load tx %s for reconciliation", tx.Hash)

		return
	}

	var changed bool

	for si := range stored.Operations {
		sop := &stored.Operations[si]
		if sop.ID != "" {
			continue
		}

		for _, cop := range tx.Operations {
			if sop.Eq(cop) && (cop.ID != "" || cop.Fee != 0) {
				sop.ID = cop.ID
				sop.Fee = cop.Fee
				changed = true

				break
			}
		}
	}

	if !changed {
		return
	}

	if _, err = i.db.TxSetOperations(ctx, tx.Hash, stored.Operations); err != nil {
		i.log.WithError(err).Errorf("Cannot reconcile operations of tx %s", tx.Hash)
	}
}

func (i *Ingester) publish(tx *wallet.Tx) {
	if i.mb == nil {
		return
	}

	e := msg.TxEvent{
		Asset:     i.asset,
		Opid:      tx.Opid,
		Hash:      tx.Hash,
		Status:    tx.Status,
		Incoming:  tx.Incoming,
		Amount:    tx.Amount(),
		Timestamp: tx.Timestamp,
		Block:     tx.Block,
	}

	if err := i.mb.SendEvent(i.asset, e); err != nil {
		i.log.WithError(err).Errorf("Cannot publish event for tx %s", tx.Hash)
	}
}
