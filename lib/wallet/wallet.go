// Package wallet defines the adapter contract required for all chain implementations,
// together with the transaction and error types shared by the gateway and signer services.
package wallet

import (
	"context"
	"fmt"
)

// Status of an adapter. An adapter starts Initial, becomes Ready once connectivity
// (or the offline keypair) is established and only reverts to Initial via Close.
type Status int

const (
	StatusInitial Status = iota
	StatusReady
)

// Kind classifies adapter and orchestrator failures. NotEnoughFunds, NotEnoughAmount
// and SyncRequired are expected business outcomes and are always returned, never
// panicked; DB and Exception are fatal to the request that hit them.
type Kind int

const (
	Validation Kind = iota
	NotEnoughFunds
	NotEnoughAmount
	SyncRequired
	DB
	Exception
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "VALIDATION"
	case NotEnoughFunds:
		return "NOT_ENOUGH_FUNDS"
	case NotEnoughAmount:
		return "NOT_ENOUGH_AMOUNT"
	case SyncRequired:
		return "SYNC_REQUIRED"
	case DB:
		return "DB"
	}
	return "EXCEPTION"
}

// Error is the single error type crossing the adapter boundary. Field carries the
// offending request key for Validation errors so the API can surface it.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Msg)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

// E builds an Error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// EField builds a Validation error tied to a request field.
func EField(field, msg string) *Error {
	return &Error{Kind: Validation, Field: field, Msg: msg}
}

// KindOf returns the Kind of err, or Exception for foreign errors.
func KindOf(err error) Kind {
	if we, ok := err.(*Error); ok {
		return we.Kind
	}
	return Exception
}

// NopeTx is the transaction context returned for transfers settled entirely within
// the service's observed sub-accounts: there is nothing to sign.
const NopeTx = "nope_tx"

// Address is a decoded composite chain address: the base account address plus an
// optional payment id (sub-account tag).
type Address struct {
	Address   string `json:"address"`
	PaymentID string `json:"paymentId,omitempty"`
}

// Unsigned is a signing-ready transaction payload. Operations echo the requested
// operations enriched with any chain-assigned id and fee, matched structurally by
// the orchestrator since the adapter does not see opids.
type Unsigned struct {
	Payload    string      `json:"payload"`
	Operations []Operation `json:"operations,omitempty"`
}

// Submitted is a successful broadcast outcome.
type Submitted struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Block     int64  `json:"block,omitempty"`
	Page      int64  `json:"page,omitempty"`
}

// TxHandler receives every new or updated chain transaction an adapter observes.
// Implementations must never panic: the refresh loop treats this as fire-and-forget.
type TxHandler func(*Tx)

// Adapter is the contract every chain implementation must satisfy. The gateway and
// signer depend on this interface only, never on a concrete chain package.
type Adapter interface {
	// InitViewWallet connects to the node with backoff, loads the current balance
	// and a starting height cursor, and schedules the background refresh loop.
	InitViewWallet(ctx context.Context, address string) (int64, error)
	// InitSignWallet prepares an offline signing-only wallet. It never dials.
	InitSignWallet(address, secret string) error

	Status() Status
	Address() string

	// AddressDecode parses a composite address+tag string. It returns nil, not an
	// error, on malformed input: callers use it as the address validity predicate.
	AddressDecode(s string) *Address
	AddressEncode(address, paymentID string) string
	// AddressCreate encodes the wallet address with the given payment id, or with a
	// fresh random tag when paymentID is empty.
	AddressCreate(paymentID string) string

	CurrentBalance(ctx context.Context) (int64, error)

	CreateUnsignedTransaction(ctx context.Context, tx *Tx) (*Unsigned, error)
	// ConstructFullSyncData snapshots current spendable state so an offline signer
	// can build a transaction without network access.
	ConstructFullSyncData(ctx context.Context) (string, error)
	SignTransaction(payload, secret string) (string, error)
	SubmitSignedTransaction(ctx context.Context, payload string) (*Submitted, error)

	// Watch adds a broadcast hash to the pending set so the refresh loop keeps
	// re-checking it until a final status is observed.
	Watch(hash string, status TxStatus)

	CreatePaperWallet() (address, seed string, err error)

	// Close waits (bounded) for an in-flight refresh, cancels the refresh timer and
	// releases the connection. Safe to call multiple times.
	Close() error
}
