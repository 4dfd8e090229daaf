// Package msg defines the interface for different message brokers.
//
// The gateway publishes an event for every observed transaction lifecycle change so
// client front-ends can follow cash-ins and cash-outs in real time without polling
// the REST API.
package msg

import (
	"sync"

	"github.com/tarancss/cgw/lib/wallet"
)

// TxEvent is the message published to the broker when the callback ingester
// processes a chain transaction for an observed address or operation.
type TxEvent struct {
	Asset     string          `json:"asset"`
	Opid      string          `json:"opid,omitempty"`
	Hash      string          `json:"hash"`
	Status    wallet.TxStatus `json:"status"`
	Incoming  bool            `json:"incoming"`
	Amount    int64           `json:"amount"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Block     int64           `json:"block,omitempty"`
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// SendEvent publishes a transaction lifecycle event for the asset.
	SendEvent(asset string, e TxEvent) error
	// GetEvents consumes lifecycle events for the asset. The mutex is unlocked by
	// the consumer once an event has been fully processed, acknowledging it.
	GetEvents(asset string, mut *sync.Mutex) (<-chan TxEvent, <-chan error, error)
}
