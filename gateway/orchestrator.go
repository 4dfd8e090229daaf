package gateway

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/wallet"
)

// internalHashPrefix marks the synthetic hash given to transfers settled without
// touching the chain; it keeps the hash unique index happy.
const internalHashPrefix = "dwhw-"

// Errors surfaced by the orchestrator to the REST layer.
var (
	// ErrNotReady is a retryable condition: the view wallet has not finished
	// connecting yet.
	ErrNotReady = errors.New("wallet is not ready, retry later")
	// ErrConflict means the operation id already progressed past Initial.
	ErrConflict = errors.New("operation already broadcast")
	ErrUnknownOperation = errors.New("operation id not found")
)

// BuildInput is one source leg of a many-inputs build request.
type BuildInput struct {
	FromAddress string `json:"fromAddress"`
	Amount      string `json:"amount"`
}

// BuildOutput is one destination leg of a many-outputs build request.
type BuildOutput struct {
	ToAddress string `json:"toAddress"`
	Amount    string `json:"amount"`
}

// BuildRequest carries the fields of all three build variants; the REST layer
// tells the orchestrator which variant applies.
type BuildRequest struct {
	OperationID string        `json:"operationId"`
	FromAddress string        `json:"fromAddress,omitempty"`
	ToAddress   string        `json:"toAddress,omitempty"`
	AssetID     string        `json:"assetId"`
	Amount      string        `json:"amount,omitempty"`
	IncludeFee  bool          `json:"includeFee,omitempty"`
	Inputs      []BuildInput  `json:"inputs,omitempty"`
	Outputs     []BuildOutput `json:"outputs,omitempty"`
}

// BroadcastRequest asks the gateway to broadcast a previously built and signed
// transaction.
type BroadcastRequest struct {
	OperationID       string `json:"operationId"`
	SignedTransaction string `json:"signedTransaction"`
}

// errorCode maps the expected business failure kinds to the wire error codes of
// the build and broadcast responses.
func errorCode(k wallet.Kind) string {
	switch k {
	case wallet.NotEnoughFunds:
		return "notEnoughBalance"
	case wallet.NotEnoughAmount:
		return "amountIsTooSmall"
	}

	return "unknown"
}

func parseAmount(field, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, wallet.EField(field, "amount is not an integer")
	}

	return v, nil
}

// CreateTx validates a build request and assembles the canonical transaction.
// The service wallet must sit on the non-external side of every transfer:
// fan-in only receives to it, fan-out and single transfers only originate from
// it. Arbitrary third-party-to-third-party transfers are rejected.
func (g *Gateway) CreateTx(ctx context.Context, req *BuildRequest, multiIn, multiOut bool) (*wallet.Tx, error) {
	if g.wallet == nil || g.wallet.Status() != wallet.StatusReady {
		return nil, ErrNotReady
	}

	if req.OperationID == "" {
		return nil, wallet.EField("operationId", "is required")
	}

	if req.AssetID != g.cfg.AssetID {
		return nil, wallet.EField("assetId", "unknown asset "+req.AssetID)
	}

	service := g.wallet.Address()
	asset := g.cfg.AssetOpKey

	tx := wallet.NewTx()
	tx.Opid = req.OperationID
	tx.Observing = true

	switch {
	case multiIn:
		to := g.wallet.AddressDecode(req.ToAddress)
		if to == nil {
			return nil, wallet.EField("toAddress", "is not a valid address")
		}

		if to.Address != service {
			return nil, wallet.EField("toAddress", "fan-in must target the service wallet")
		}

		if len(req.Inputs) == 0 {
			return nil, wallet.EField("inputs", "at least one input is required")
		}

		for _, in := range req.Inputs {
			from := g.wallet.AddressDecode(in.FromAddress)
			if from == nil {
				return nil, wallet.EField("inputs.fromAddress", "is not a valid address")
			}

			amount, err := parseAmount("inputs.amount", in.Amount)
			if err != nil {
				return nil, err
			}

			tx.AddPayment(in.FromAddress, req.ToAddress, asset, amount, from.PaymentID, to.PaymentID)
		}

	case multiOut:
		from := g.wallet.AddressDecode(req.FromAddress)
		if from == nil {
			return nil, wallet.EField("fromAddress", "is not a valid address")
		}

		if from.Address != service {
			return nil, wallet.EField("fromAddress", "fan-out must originate from the service wallet")
		}

		if len(req.Outputs) == 0 {
			return nil, wallet.EField("outputs", "at least one output is required")
		}

		for _, out := range req.Outputs {
			to := g.wallet.AddressDecode(out.ToAddress)
			if to == nil {
				return nil, wallet.EField("outputs.toAddress", "is not a valid address")
			}

			amount, err := parseAmount("outputs.amount", out.Amount)
			if err != nil {
				return nil, err
			}

			tx.AddPayment(req.FromAddress, out.ToAddress, asset, amount, from.PaymentID, to.PaymentID)
		}

	default:
		if req.IncludeFee {
			return nil, wallet.EField("includeFee", "only additive fees are supported")
		}

		from := g.wallet.AddressDecode(req.FromAddress)
		if from == nil {
			return nil, wallet.EField("fromAddress", "is not a valid address")
		}

		to := g.wallet.AddressDecode(req.ToAddress)
		if to == nil {
			return nil, wallet.EField("toAddress", "is not a valid address")
		}

		if from.Address != service {
			return nil, wallet.EField("fromAddress", "transfers must originate from the service wallet")
		}

		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}

		tx.AddPayment(req.FromAddress, req.ToAddress, asset, amount, from.PaymentID, to.PaymentID)
	}

	for _, op := range tx.Operations {
		if op.Amount <= 0 {
			return nil, wallet.E(wallet.NotEnoughAmount, "operation amount must be positive")
		}
	}

	if tx.DWHW() {
		if err := g.checkInternalFunds(ctx, tx); err != nil {
			return nil, err
		}
	}

	if g.cfg.TxPriority != nil {
		tx.Priority = *g.cfg.TxPriority
	}

	if g.cfg.TxUnlock != nil {
		tx.Unlock = *g.cfg.TxUnlock
	}

	return tx, nil
}

// checkInternalFunds verifies that every source sub-account of an internal
// transfer is observed and holds the requested amount. The balance boundary is
// inclusive: an account may be drained to exactly zero.
func (g *Gateway) checkInternalFunds(ctx context.Context, tx *wallet.Tx) error {
	totals := make(map[string]int64)

	for _, op := range tx.Operations {
		totals[op.SourcePaymentID] += op.Amount
	}

	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	accounts, err := g.db.AccountsByPaymentIDs(ctx, ids)
	if err != nil {
		return wallet.E(wallet.DB, err.Error())
	}

	byID := make(map[string]store.Account, len(accounts))
	for _, a := range accounts {
		byID[a.PaymentID] = a
	}

	var missing []string

	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		return wallet.EField("fromAddress", "addresses not observed: "+strings.Join(missing, ", "))
	}

	for _, id := range ids {
		if byID[id].Balance < totals[id] {
			return wallet.E(wallet.NotEnoughFunds, "account "+id)
		}
	}

	return nil
}

// ProcessTx turns a validated transaction into a signing context and persists
// the draft idempotently on its operation id. Internal transfers get the no-op
// sentinel; a pending sync-required flag redirects to the full-resync snapshot.
func (g *Gateway) ProcessTx(ctx context.Context, tx *wallet.Tx) (string, error) {
	var txContext string

	switch {
	case tx.DWHW():
		txContext = wallet.NopeTx

	case g.sync.Required():
		data, err := g.resync(ctx)
		if err != nil {
			return "", err
		}

		txContext = data

	default:
		unsigned, err := g.wallet.CreateUnsignedTransaction(ctx, tx)
		if err != nil {
			if wallet.KindOf(err) != wallet.SyncRequired {
				return "", err
			}

			g.sync.Set()

			data, rerr := g.resync(ctx)
			if rerr != nil {
				return "", rerr
			}

			txContext = data

			break
		}

		// copy chain-assigned id and fee back onto the matching operations
		for _, uop := range unsigned.Operations {
			for oi := range tx.Operations {
				op := &tx.Operations[oi]
				if op.ID == "" && op.Eq(uop) {
					op.ID = uop.ID
					op.Fee = uop.Fee

					break
				}
			}
		}

		txContext = unsigned.Payload

		transactionsBuilt.Inc()
	}

	if err := g.persistDraft(ctx, tx); err != nil {
		return "", err
	}

	return txContext, nil
}

// persistDraft inserts the transaction under its opid. A conflicting opid whose
// record is still Initial is overwritten (the client corrected the draft) with
// any previously assigned hash cleared; once the status left Initial the
// resubmission is rejected.
func (g *Gateway) persistDraft(ctx context.Context, tx *wallet.Tx) error {
	created, err := g.db.TxCreate(ctx, tx)
	if err != nil {
		return wallet.E(wallet.DB, err.Error())
	}

	if created {
		return nil
	}

	existing, err := g.db.TxByOpid(ctx, tx.Opid)
	if err != nil {
		return wallet.E(wallet.DB, err.Error())
	}

	if existing.Status != wallet.TxInitial {
		return ErrConflict
	}

	tx.Hash = ""

	ok, err := g.db.TxReplace(ctx, tx.Opid, tx)
	if err != nil {
		return wallet.E(wallet.DB, err.Error())
	}

	if !ok {
		return wallet.E(wallet.DB, "cannot overwrite draft "+tx.Opid)
	}

	g.log.Infof("Overwrote draft %s", tx.Opid)

	return nil
}

// resync produces the full-resync snapshot and clears the sync-required flag
// only on success; a failed resync keeps the flag set for the next request.
func (g *Gateway) resync(ctx context.Context) (string, error) {
	data, err := g.wallet.ConstructFullSyncData(ctx)
	if err != nil {
		return "", err
	}

	g.sync.Clear()
	resyncsDone.Inc()

	return data, nil
}

// Broadcast executes the second stage of the lifecycle for a transaction still
// in Initial status. Internal transfers settle against the account store with
// audited decrements; everything else is submitted to the chain.
func (g *Gateway) Broadcast(ctx context.Context, req *BroadcastRequest) (*wallet.Tx, error) {
	tx, err := g.db.TxByOpid(ctx, req.OperationID)
	if errors.Is(err, store.ErrTxNotFound) {
		return nil, ErrUnknownOperation
	}

	if err != nil {
		return nil, wallet.E(wallet.DB, err.Error())
	}

	if tx.Status != wallet.TxInitial {
		return nil, ErrConflict
	}

	now := time.Now().UnixMilli()

	if tx.DWHW() {
		return g.settleInternal(ctx, tx, now)
	}

	sub, err := g.wallet.SubmitSignedTransaction(ctx, req.SignedTransaction)
	if err != nil {
		switch kind := wallet.KindOf(err); kind {
		case wallet.SyncRequired:
			g.sync.Set()
			broadcastsDone.WithLabelValues("sync_required").Inc()

			return nil, err
		case wallet.NotEnoughFunds, wallet.NotEnoughAmount:
			if _, ferr := g.db.TxMarkFailed(ctx, tx.Opid, errorCode(kind), now); ferr != nil {
				g.log.WithError(ferr).Errorf("Cannot mark tx %s failed", tx.Opid)
			}

			broadcastsDone.WithLabelValues("rejected").Inc()

			return nil, err
		default:
			if _, ferr := g.db.TxMarkFailed(ctx, tx.Opid, err.Error(), now); ferr != nil {
				g.log.WithError(ferr).Errorf("Cannot mark tx %s failed", tx.Opid)
			}

			broadcastsDone.WithLabelValues("error").Inc()

			return nil, err
		}
	}

	if _, err = g.db.TxMarkSent(ctx, tx.Opid, sub.Hash, sub.Timestamp, sub.Block, sub.Page); err != nil {
		return nil, wallet.E(wallet.DB, err.Error())
	}

	g.wallet.Watch(sub.Hash, wallet.TxSent)

	tx.Hash = sub.Hash
	tx.Status = wallet.TxSent
	tx.Timestamp = sub.Timestamp
	tx.Block = sub.Block
	tx.Page = sub.Page

	g.ing.publish(tx)
	broadcastsDone.WithLabelValues("sent").Inc()

	g.log.Infof("Broadcast %s as %s", tx.Opid, tx.Hash)

	return tx, nil
}

// settleInternal completes an internal transfer without touching the chain:
// debit every source sub-account, credit the destination sub-accounts and mark
// the transaction Completed under a synthetic hash.
func (g *Gateway) settleInternal(ctx context.Context, tx *wallet.Tx, now int64) (*wallet.Tx, error) {
	var failed []string

	for _, op := range tx.Operations {
		ok, err := g.db.AccountInc(ctx, op.SourcePaymentID, -op.Amount, 0)
		if err != nil || !ok {
			failed = append(failed, op.SourcePaymentID)

			continue
		}

		if op.PaymentID != "" {
			if ok, err := g.db.AccountInc(ctx, op.PaymentID, op.Amount, 0); err != nil || !ok {
				g.log.Warnf("Internal credit to %s of tx %s not applied", op.PaymentID, tx.Opid)
			}
		}
	}

	if len(failed) > 0 {
		return nil, wallet.E(wallet.DB, "balance decrement failed for: "+strings.Join(failed, ", "))
	}

	hash := internalHashPrefix + tx.Opid

	if _, err := g.db.TxMarkCompleted(ctx, tx.Opid, hash, now); err != nil {
		return nil, wallet.E(wallet.DB, err.Error())
	}

	tx.Hash = hash
	tx.Status = wallet.TxCompleted
	tx.Timestamp = now

	g.ing.publish(tx)
	broadcastsDone.WithLabelValues("internal").Inc()

	g.log.Infof("Settled internal transfer %s", tx.Opid)

	return tx, nil
}
