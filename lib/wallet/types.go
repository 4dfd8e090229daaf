package wallet

// TxStatus is the lifecycle state of a Tx. Transitions are monotonic:
// Initial -> {Sent, Locked, Failed}, Sent/Locked -> {Completed, Failed}.
// A Completed or Failed Tx is never reopened by a later callback.
type TxStatus string

const (
	TxInitial   TxStatus = "initial"
	TxSent      TxStatus = "sent"
	TxLocked    TxStatus = "locked"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Operation is one payment leg within a Tx. Amount is an integer scaled by 10^6,
// which for the XRP ledger equals drops. ID and Fee are filled in only after the
// chain accepts the transaction.
type Operation struct {
	From            string `json:"from" bson:"from"`
	To              string `json:"to" bson:"to"`
	Asset           string `json:"asset" bson:"asset"`
	Amount          int64  `json:"amount" bson:"amount"`
	SourcePaymentID string `json:"sourcePaymentId,omitempty" bson:"sourcePaymentId,omitempty"`
	PaymentID       string `json:"paymentId,omitempty" bson:"paymentId,omitempty"`
	ID              string `json:"id,omitempty" bson:"id,omitempty"`
	Fee             int64  `json:"fee,omitempty" bson:"fee,omitempty"`
}

// Eq reports structural equality of two operations. It deliberately ignores ID and
// Fee: it is used to correlate adapter-returned operations with the originally
// requested ones before chain identifiers exist.
func (o Operation) Eq(x Operation) bool {
	return o.From == x.From && o.To == x.To && o.Asset == x.Asset &&
		o.Amount == x.Amount && o.SourcePaymentID == x.SourcePaymentID &&
		o.PaymentID == x.PaymentID
}

// Tx aggregates the operations of one client-submitted or chain-observed transaction.
// Opid is the client-supplied idempotency key and is unique across the store; Hash
// is the chain identifier, absent until broadcast.
type Tx struct {
	Opid       string      `json:"opid,omitempty" bson:"opid,omitempty"`
	Hash       string      `json:"hash,omitempty" bson:"hash,omitempty"`
	Status     TxStatus    `json:"status" bson:"status"`
	Observing  bool        `json:"observing" bson:"observing"`
	Incoming   bool        `json:"incoming,omitempty" bson:"incoming,omitempty"`
	Priority   int         `json:"priority,omitempty" bson:"priority,omitempty"`
	Unlock     int64       `json:"unlock,omitempty" bson:"unlock,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	Block      int64       `json:"block,omitempty" bson:"block,omitempty"`
	Page       int64       `json:"page,omitempty" bson:"page,omitempty"`
	Error      string      `json:"error,omitempty" bson:"error,omitempty"`
	Operations []Operation `json:"operations" bson:"operations"`
}

// NewTx returns an empty Tx in Initial status.
func NewTx() *Tx {
	return &Tx{Status: TxInitial}
}

// AddPayment appends a payment leg and returns a pointer to it.
func (t *Tx) AddPayment(from, to, asset string, amount int64, sourcePaymentID, paymentID string) *Operation {
	t.Operations = append(t.Operations, Operation{
		From:            from,
		To:              to,
		Asset:           asset,
		Amount:          amount,
		SourcePaymentID: sourcePaymentID,
		PaymentID:       paymentID,
	})

	return &t.Operations[len(t.Operations)-1]
}

// DWHW reports whether the Tx is settled entirely within the service's observed
// sub-accounts: every operation draws from a tagged source, so nothing touches the
// chain. An empty Tx is not internal.
func (t *Tx) DWHW() bool {
	if len(t.Operations) == 0 {
		return false
	}

	for _, op := range t.Operations {
		if op.SourcePaymentID == "" {
			return false
		}
	}

	return true
}

// Amount is the total requested across all operations.
func (t *Tx) Amount() (total int64) {
	for _, op := range t.Operations {
		total += op.Amount
	}

	return
}

// Fees is the total of chain-assigned fees known so far.
func (t *Tx) Fees() (total int64) {
	for _, op := range t.Operations {
		total += op.Fee
	}

	return
}
