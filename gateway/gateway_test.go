package gateway

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/cgw/lib/config"
	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/wallet"
)

// Shared fakes for the orchestrator and ingester tests: an in-memory store.DB
// with the same conflict and conditional-update semantics as the mongo
// implementation, and a programmable wallet adapter.

const (
	svcAddress  = "rSERVICE"
	extAddress  = "rEXTERNAL"
	ext2Address = "rEXTERNAL2"
)

type memDB struct {
	mu       sync.Mutex
	txs      []*wallet.Tx
	accounts map[string]*store.Account // by payment id

	failTxCreate bool
}

func newMemDB() *memDB {
	return &memDB{accounts: make(map[string]*store.Account)}
}

func cloneTx(tx *wallet.Tx) *wallet.Tx {
	cp := *tx
	cp.Operations = append([]wallet.Operation(nil), tx.Operations...)

	return &cp
}

func (m *memDB) byOpid(opid string) *wallet.Tx {
	for _, tx := range m.txs {
		if tx.Opid != "" && tx.Opid == opid {
			return tx
		}
	}

	return nil
}

func (m *memDB) byHash(hash string) *wallet.Tx {
	for _, tx := range m.txs {
		if tx.Hash != "" && tx.Hash == hash {
			return tx
		}
	}

	return nil
}

func (m *memDB) TxCreate(ctx context.Context, tx *wallet.Tx) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failTxCreate {
		return false, store.ErrDataNotFound
	}

	if (tx.Opid != "" && m.byOpid(tx.Opid) != nil) || (tx.Hash != "" && m.byHash(tx.Hash) != nil) {
		return false, nil
	}

	m.txs = append(m.txs, cloneTx(tx))

	return true, nil
}

func (m *memDB) TxReplace(ctx context.Context, opid string, tx *wallet.Tx) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cur := range m.txs {
		if cur.Opid == opid {
			m.txs[i] = cloneTx(tx)

			return true, nil
		}
	}

	return false, nil
}

func (m *memDB) TxByOpid(ctx context.Context, opid string) (*wallet.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx := m.byOpid(opid); tx != nil {
		return cloneTx(tx), nil
	}

	return nil, store.ErrTxNotFound
}

func (m *memDB) TxByHash(ctx context.Context, hash string) (*wallet.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx := m.byHash(hash); tx != nil {
		return cloneTx(tx), nil
	}

	return nil, store.ErrTxNotFound
}

func (m *memDB) TxMarkSent(ctx context.Context, opid, hash string, timestamp, block, page int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byOpid(opid)
	if tx == nil {
		return false, nil
	}

	tx.Hash, tx.Status, tx.Timestamp, tx.Block, tx.Page = hash, wallet.TxSent, timestamp, block, page

	return true, nil
}

func (m *memDB) TxMarkFailed(ctx context.Context, opid, reason string, timestamp int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byOpid(opid)
	if tx == nil {
		return false, nil
	}

	tx.Status, tx.Error, tx.Timestamp = wallet.TxFailed, reason, timestamp

	return true, nil
}

func (m *memDB) TxMarkCompleted(ctx context.Context, opid, hash string, timestamp int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byOpid(opid)
	if tx == nil {
		return false, nil
	}

	tx.Status, tx.Hash, tx.Timestamp = wallet.TxCompleted, hash, timestamp

	return true, nil
}

func (m *memDB) TxSetStatusByHash(ctx context.Context, hash string, status wallet.TxStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byHash(hash)
	if tx == nil || tx.Status == wallet.TxCompleted || tx.Status == wallet.TxFailed {
		return false, nil
	}

	tx.Status = status

	return true, nil
}

func (m *memDB) TxCompleteByHash(ctx context.Context, hash string, timestamp, block, page int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byHash(hash)
	if tx == nil || tx.Status != wallet.TxSent {
		return false, nil
	}

	tx.Status, tx.Timestamp = wallet.TxCompleted, timestamp

	if block > 0 {
		tx.Block = block
	}

	if page > 0 {
		tx.Page = page
	}

	return true, nil
}

func (m *memDB) TxSetOperations(ctx context.Context, hash string, ops []wallet.Operation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byHash(hash)
	if tx == nil {
		return false, nil
	}

	tx.Operations = append([]wallet.Operation(nil), ops...)

	return true, nil
}

func (m *memDB) TxSetObserving(ctx context.Context, opid string, observing bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byOpid(opid)
	if tx == nil {
		return false, nil
	}

	tx.Observing = observing

	return true, nil
}

func (m *memDB) TxPending(ctx context.Context) ([]*wallet.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*wallet.Tx

	for _, tx := range m.txs {
		switch tx.Status {
		case wallet.TxInitial, wallet.TxSent, wallet.TxLocked:
			out = append(out, cloneTx(tx))
		}
	}

	return out, nil
}

func (m *memDB) TxMaxPage(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var max int64

	for _, tx := range m.txs {
		if tx.Page > max {
			max = tx.Page
		}
	}

	return max, nil
}

func (m *memDB) TxHistory(ctx context.Context, q store.HistoryQuery) ([]*wallet.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*wallet.Tx

	for _, tx := range m.txs {
		if tx.Status != wallet.TxCompleted {
			continue
		}

		if q.AfterTimestamp > 0 && tx.Timestamp <= q.AfterTimestamp {
			continue
		}

		for _, op := range tx.Operations {
			if (q.From != "" && op.From == q.From) || (q.To != "" && op.To == q.To) {
				out = append(out, cloneTx(tx))

				break
			}
		}

		if q.Limit > 0 && int64(len(out)) == q.Limit {
			break
		}
	}

	return out, nil
}

func (m *memDB) AccountCreate(ctx context.Context, a store.Account) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.PaymentID]; ok {
		return false, nil
	}

	cp := a
	m.accounts[a.PaymentID] = &cp

	return true, nil
}

func (m *memDB) AccountInc(ctx context.Context, paymentID string, delta, block int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[paymentID]
	if !ok {
		return false, nil
	}

	a.Balance += delta

	if block > 0 {
		a.Block = block
	}

	return true, nil
}

func (m *memDB) AccountsByPaymentIDs(ctx context.Context, paymentIDs []string) ([]store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.Account

	for _, id := range paymentIDs {
		if a, ok := m.accounts[id]; ok {
			out = append(out, *a)
		}
	}

	return out, nil
}

func (m *memDB) AccountFind(ctx context.Context, minBalance, offset, limit int64) ([]store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []store.Account

	for _, a := range m.accounts {
		if a.Balance > minBalance {
			all = append(all, *a)
		}
	}

	if offset > int64(len(all)) {
		offset = int64(len(all))
	}

	all = all[offset:]

	if limit > 0 && int64(len(all)) > limit {
		all = all[:limit]
	}

	return all, nil
}

func (m *memDB) AccountDelete(ctx context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.accounts {
		if a.Address == address {
			delete(m.accounts, id)

			return true, nil
		}
	}

	return false, nil
}

// fakeAdapter is a programmable wallet.Adapter.
type fakeAdapter struct {
	status   wallet.Status
	address  string
	unsigned *wallet.Unsigned
	buildErr error
	sub      *wallet.Submitted
	subErr   error
	syncData string
	syncErr  error

	mu      sync.Mutex
	watched map[string]wallet.TxStatus
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		status:   wallet.StatusReady,
		address:  svcAddress,
		syncData: "SYNCDATA",
		watched:  make(map[string]wallet.TxStatus),
	}
}

func (f *fakeAdapter) InitViewWallet(ctx context.Context, address string) (int64, error) {
	f.status = wallet.StatusReady
	f.address = address

	return 0, nil
}

func (f *fakeAdapter) InitSignWallet(address, secret string) error { return nil }
func (f *fakeAdapter) Status() wallet.Status                      { return f.status }
func (f *fakeAdapter) Address() string                            { return f.address }

func (f *fakeAdapter) AddressDecode(s string) *wallet.Address {
	parts := strings.Split(s, "+")
	if len(parts) > 2 {
		return nil
	}

	switch parts[0] {
	case svcAddress, extAddress, ext2Address:
	default:
		return nil
	}

	addr := &wallet.Address{Address: parts[0]}
	if len(parts) == 2 {
		addr.PaymentID = parts[1]
	}

	return addr
}

func (f *fakeAdapter) AddressEncode(address, paymentID string) string {
	if paymentID == "" {
		return address
	}

	return address + "+" + paymentID
}

func (f *fakeAdapter) AddressCreate(paymentID string) string {
	return f.AddressEncode(f.address, paymentID)
}

func (f *fakeAdapter) CurrentBalance(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeAdapter) CreateUnsignedTransaction(ctx context.Context, tx *wallet.Tx) (*wallet.Unsigned, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}

	if f.unsigned != nil {
		return f.unsigned, nil
	}

	return &wallet.Unsigned{Payload: "PAYLOAD", Operations: tx.Operations}, nil
}

func (f *fakeAdapter) ConstructFullSyncData(ctx context.Context) (string, error) {
	return f.syncData, f.syncErr
}

func (f *fakeAdapter) SignTransaction(payload, secret string) (string, error) {
	return "HASH+BLOB", nil
}

func (f *fakeAdapter) SubmitSignedTransaction(ctx context.Context, payload string) (*wallet.Submitted, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}

	if f.sub != nil {
		return f.sub, nil
	}

	return &wallet.Submitted{Hash: "CHAINHASH", Timestamp: 1700000000000}, nil
}

func (f *fakeAdapter) Watch(hash string, status wallet.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.watched[hash] = status
}

func (f *fakeAdapter) CreatePaperWallet() (string, string, error) { return "rNEW", "sNEW", nil }
func (f *fakeAdapter) Close() error                               { return nil }

func testGateway(db *memDB, adapter *fakeAdapter) *Gateway {
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.ServiceConfig{
		ServiceName:   "cgw-test",
		Version:       "test",
		AssetID:       "XRP",
		AssetName:     "Ripple",
		AssetAccuracy: 6,
		AssetOpKey:    "XRP",
		Reserve:       config.ReserveDefault,
	}

	g := New(&cfg, logrus.NewEntry(log), db, nil, func(onTx wallet.TxHandler, page int64) wallet.Adapter {
		return adapter
	})
	g.wallet = adapter

	return g
}
