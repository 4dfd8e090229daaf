// Package ripple implements the wallet adapter for the XRP ledger. It maintains a
// hot view wallet against a rippled JSON-RPC node and delivers observed ledger
// transactions through the adapter callback; signing is delegated to a rippled
// reachable only by the signer deployment.
package ripple

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tarancss/cgw/lib/config"
	"github.com/tarancss/cgw/lib/retry"
	"github.com/tarancss/cgw/lib/wallet"
)

// Public JSON-RPC endpoints used when no node is configured.
const (
	mainnetNode = "https://s1.ripple.com:51234"
	testnetNode = "https://s.altnet.rippletest.net:51234"
)

const (
	separator = "+" // joins base address and payment id, and hash and blob

	feeDrops = 12 // standard transaction cost

	// broadcast transactions expire this many ledgers after the one current
	// at build time
	ledgerWindow = 4

	rpcTimeout   = 30 * time.Second
	closePolls   = 1000
	closePollGap = 100 * time.Millisecond
)

// XRP is the ledger adapter. A single instance serves either as a view wallet
// (InitViewWallet) or as an offline signing wallet (InitSignWallet), never both.
type XRP struct {
	log         *logrus.Entry
	node        string
	asset       string
	reserve     int64
	refreshEach time.Duration
	onTx        wallet.TxHandler

	newClient func(url string) Client

	mu         sync.Mutex
	status     wallet.Status
	account    string
	secret     string
	balance    int64
	height     int64
	pending    map[string]wallet.TxStatus
	refreshing bool
	timer      *time.Timer
	api        Client
}

// New builds an adapter from the service configuration. page is the highest
// ledger index already persisted by the caller; zero means no history yet.
func New(cfg *config.ServiceConfig, log *logrus.Entry, onTx wallet.TxHandler, page int64) *XRP {
	node := cfg.Node
	if node == "" {
		if cfg.Testnet {
			node = testnetNode
		} else {
			node = mainnetNode
		}
	}

	return &XRP{
		log:         log,
		node:        node,
		asset:       cfg.AssetOpKey,
		reserve:     cfg.Reserve,
		refreshEach: time.Duration(cfg.RefreshEach) * time.Millisecond,
		onTx:        onTx,
		newClient:   NewClient,
		height:      page,
		pending:     make(map[string]wallet.TxStatus),
	}
}

// InitViewWallet dials the node, retrying with exponential backoff, loads the
// account balance and picks the ledger cursor the refresh loop starts scanning
// from. It returns the balance in drops.
func (s *XRP) InitViewWallet(ctx context.Context, address string) (int64, error) {
	if !isValidAccount(address) {
		return 0, wallet.EField("address", "not a valid XRP address")
	}

	api := s.newClient(s.node)

	var balance, height int64

	err := retry.Do(ctx, func() error {
		if err := api.Ping(ctx); err != nil {
			s.log.WithError(err).Warnf("Cannot reach node %s, retrying", s.node)

			return err
		}

		return retry.Do(ctx, func() error {
			info, err := api.AccountInfo(ctx, address)
			if err != nil {
				s.log.WithError(err).Warn("Cannot load account, retrying")

				return err
			}

			balance = info.Balance

			if s.cursor() > 0 {
				// resuming from persisted history, rescan a window behind the tip
				v, err := api.LedgerVersion(ctx)
				if err != nil {
					return err
				}

				height = v - 100
			} else {
				height = info.PreviousTxnLgrSeq - 10
			}

			if height < 0 {
				height = 0
			}

			return nil
		}, retry.Exponential(3, 3))
	}, retry.Exponential(2, 3))
	if err != nil {
		api.Close()

		return 0, wallet.E(wallet.Exception, fmt.Sprintf("cannot initialize wallet: %v", err))
	}

	s.mu.Lock()
	s.api = api
	s.account = address
	s.balance = balance
	s.height = height
	s.status = wallet.StatusReady
	s.timer = time.AfterFunc(s.refreshEach, s.refresh)
	s.mu.Unlock()

	s.log.Infof("Wallet %s initialized, balance %d drops, scanning from ledger %d", address, balance, height)

	return balance, nil
}

// InitSignWallet prepares an offline signing wallet. No request leaves the
// process until SignTransaction is called against the signer's local node.
func (s *XRP) InitSignWallet(address, secret string) error {
	if !isValidAccount(address) {
		return wallet.EField("address", "not a valid XRP address")
	}

	if !isValidSeed(secret) {
		return wallet.EField("secret", "not a valid family seed")
	}

	s.mu.Lock()
	s.account = address
	s.secret = secret
	s.api = s.newClient(s.node)
	s.status = wallet.StatusReady
	s.mu.Unlock()

	return nil
}

func (s *XRP) Status() wallet.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

func (s *XRP) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.account
}

func (s *XRP) cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.height
}

// AddressDecode splits a composite address into base address and payment id.
// It returns nil for anything that fails the checksum or carries a tag that is
// not a decimal 32-bit integer.
func (s *XRP) AddressDecode(composite string) *wallet.Address {
	parts := strings.Split(composite, separator)
	if len(parts) > 2 || !isValidAccount(parts[0]) {
		return nil
	}

	addr := &wallet.Address{Address: parts[0]}

	if len(parts) == 2 {
		if _, err := strconv.ParseUint(parts[1], 10, 32); err != nil {
			return nil
		}

		addr.PaymentID = parts[1]
	}

	return addr
}

func (s *XRP) AddressEncode(address, paymentID string) string {
	if paymentID == "" {
		return address
	}

	return address + separator + paymentID
}

// AddressCreate returns a deposit address for the wallet account, minting a
// random destination tag when no payment id is given.
func (s *XRP) AddressCreate(paymentID string) string {
	if paymentID == "" {
		paymentID = strconv.FormatUint(uint64(uuid.New().ID()), 10)
	}

	return s.AddressEncode(s.Address(), paymentID)
}

// CurrentBalance refreshes and returns the wallet balance in drops.
func (s *XRP) CurrentBalance(ctx context.Context) (int64, error) {
	s.mu.Lock()
	api, account, ready := s.api, s.account, s.status == wallet.StatusReady
	s.mu.Unlock()

	if !ready || api == nil {
		return 0, wallet.E(wallet.Exception, "wallet not initialized")
	}

	info, err := api.AccountInfo(ctx, account)
	if err != nil {
		return 0, wallet.E(wallet.Exception, err.Error())
	}

	s.mu.Lock()
	s.balance = info.Balance
	s.mu.Unlock()

	return info.Balance, nil
}

// paymentJSON is the rippled Payment transaction template. Fee and Sequence are
// filled in so the signer can work fully offline.
type paymentJSON struct {
	TransactionType    string `json:"TransactionType"`
	Account            string `json:"Account"`
	Destination        string `json:"Destination"`
	Amount             string `json:"Amount"`
	Fee                string `json:"Fee"`
	Sequence           int64  `json:"Sequence"`
	LastLedgerSequence int64  `json:"LastLedgerSequence"`
	SourceTag          uint32 `json:"SourceTag,omitempty"`
	DestinationTag     uint32 `json:"DestinationTag,omitempty"`
}

// CreateUnsignedTransaction validates the single-operation transfer and builds
// a signing-ready payload. The balance check is inclusive of the configured
// account reserve.
func (s *XRP) CreateUnsignedTransaction(ctx context.Context, tx *wallet.Tx) (*wallet.Unsigned, error) {
	s.mu.Lock()
	api, account, ready := s.api, s.account, s.status == wallet.StatusReady
	s.mu.Unlock()

	if !ready || api == nil {
		return nil, wallet.E(wallet.Exception, "wallet not initialized")
	}

	if tx == nil || len(tx.Operations) != 1 {
		return nil, wallet.EField("operations", "exactly one operation is supported")
	}

	op := tx.Operations[0]

	if op.Asset != s.asset {
		return nil, wallet.EField("assetId", "unsupported asset "+op.Asset)
	}

	if op.Amount <= 0 {
		return nil, wallet.E(wallet.NotEnoughAmount, "amount must be positive")
	}

	dst := s.AddressDecode(op.To)
	if dst == nil {
		return nil, wallet.EField("toAddress", "not a valid XRP address")
	}

	info, err := api.AccountInfo(ctx, account)
	if err != nil {
		return nil, wallet.E(wallet.Exception, err.Error())
	}

	if info.Balance < op.Amount+s.reserve {
		return nil, wallet.E(wallet.NotEnoughFunds,
			fmt.Sprintf("balance %d cannot cover %d plus reserve %d", info.Balance, op.Amount, s.reserve))
	}

	version, err := api.LedgerVersion(ctx)
	if err != nil {
		return nil, wallet.E(wallet.Exception, err.Error())
	}

	payment := paymentJSON{
		TransactionType:    "Payment",
		Account:            account,
		Destination:        dst.Address,
		Amount:             strconv.FormatInt(op.Amount, 10),
		Fee:                strconv.FormatInt(feeDrops, 10),
		Sequence:           info.Sequence,
		LastLedgerSequence: version + ledgerWindow,
	}

	if op.SourcePaymentID != "" {
		tag, err := strconv.ParseUint(op.SourcePaymentID, 10, 32)
		if err != nil {
			return nil, wallet.EField("fromAddress", "payment id is not a 32-bit integer")
		}

		payment.SourceTag = uint32(tag)
	}

	if dst.PaymentID != "" {
		tag, _ := strconv.ParseUint(dst.PaymentID, 10, 32)
		payment.DestinationTag = uint32(tag)
	}

	raw, err := json.Marshal(&payment)
	if err != nil {
		return nil, wallet.E(wallet.Exception, err.Error())
	}

	op.Fee = feeDrops

	return &wallet.Unsigned{
		Payload:    base64.StdEncoding.EncodeToString(raw),
		Operations: []wallet.Operation{op},
	}, nil
}

// syncData is the spendable-state snapshot shipped to an offline signer.
type syncData struct {
	Account  string `json:"account"`
	Sequence int64  `json:"sequence"`
	Balance  int64  `json:"balance"`
	Ledger   int64  `json:"ledger"`
}

// ConstructFullSyncData snapshots the account state so a signer without network
// access can keep building valid transactions after a stale-view failure.
func (s *XRP) ConstructFullSyncData(ctx context.Context) (string, error) {
	s.mu.Lock()
	api, account, ready := s.api, s.account, s.status == wallet.StatusReady
	s.mu.Unlock()

	if !ready || api == nil {
		return "", wallet.E(wallet.Exception, "wallet not initialized")
	}

	info, err := api.AccountInfo(ctx, account)
	if err != nil {
		return "", wallet.E(wallet.Exception, err.Error())
	}

	version, err := api.LedgerVersion(ctx)
	if err != nil {
		return "", wallet.E(wallet.Exception, err.Error())
	}

	raw, err := json.Marshal(&syncData{
		Account:  account,
		Sequence: info.Sequence,
		Balance:  info.Balance,
		Ledger:   version,
	})
	if err != nil {
		return "", wallet.E(wallet.Exception, err.Error())
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// SignTransaction signs the payload built by CreateUnsignedTransaction and
// returns hash and signed blob joined by the separator.
func (s *XRP) SignTransaction(payload, secret string) (string, error) {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()

	if api == nil {
		return "", wallet.E(wallet.Exception, "wallet not initialized")
	}

	if !isValidSeed(secret) {
		return "", wallet.EField("privateKeys", "not a valid family seed")
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", wallet.EField("transactionContext", "not a valid payload")
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	hash, blob, err := api.Sign(ctx, json.RawMessage(raw), secret)
	if err != nil {
		return "", wallet.E(wallet.Exception, err.Error())
	}

	return hash + separator + blob, nil
}

// SubmitSignedTransaction broadcasts a signed transaction and maps the node's
// engine result to the shared error taxonomy.
func (s *XRP) SubmitSignedTransaction(ctx context.Context, payload string) (*wallet.Submitted, error) {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()

	if api == nil {
		return nil, wallet.E(wallet.Exception, "wallet not initialized")
	}

	parts := strings.SplitN(payload, separator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, wallet.EField("signedTransaction", "malformed signed payload")
	}

	hash, blob := parts[0], parts[1]

	engine, err := api.Submit(ctx, blob)
	if err != nil {
		return nil, wallet.E(wallet.Exception, err.Error())
	}

	switch engine {
	case "tesSUCCESS":
		return &wallet.Submitted{
			Hash:      hash,
			Timestamp: time.Now().UnixMilli(),
		}, nil
	case "tecNO_DST":
		// destination account does not exist and the amount cannot fund it
		return nil, wallet.E(wallet.NotEnoughAmount, engine)
	case "tecUNFUNDED", "tecUNFUNDED_PAYMENT", "tefPAST_SEQ":
		return nil, wallet.E(wallet.NotEnoughFunds, engine)
	case "tefMAX_LEDGER", "telINSUF_FEE_P":
		// the transaction expired or was priced off a stale view of the ledger
		return nil, wallet.E(wallet.SyncRequired, engine)
	default:
		return nil, wallet.E(wallet.Exception, engine)
	}
}

// Watch adds a broadcast hash to the pending set for the refresh loop.
func (s *XRP) Watch(hash string, status wallet.TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[hash] = status
}

// CreatePaperWallet asks the node for a fresh keypair. The key material is
// generated server side; only use against a trusted local node.
func (s *XRP) CreatePaperWallet() (string, string, error) {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()

	owned := false

	if api == nil {
		api = s.newClient(s.node)
		owned = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	account, seed, err := api.WalletPropose(ctx)

	if owned {
		api.Close()
	}

	if err != nil {
		return "", "", wallet.E(wallet.Exception, err.Error())
	}

	return account, seed, nil
}

// refresh scans the ledger forward from the height cursor, delivers every
// transaction affecting the wallet account and re-checks the pending hashes.
// Only one refresh runs at a time; overlapping timer fires are dropped.
func (s *XRP) refresh() {
	s.mu.Lock()
	if s.api == nil || s.refreshing {
		s.mu.Unlock()

		return
	}

	s.refreshing = true

	if s.timer != nil {
		s.timer.Stop()
	}

	api, account, height := s.api, s.account, s.height
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	var delivered int

	defer func() {
		s.mu.Lock()

		hashes := make([]string, 0, len(s.pending))
		for h := range s.pending {
			hashes = append(hashes, h)
		}
		s.mu.Unlock()

		for _, h := range hashes {
			info, err := api.Tx(ctx, h)
			if err != nil {
				s.log.WithError(err).Warnf("Cannot check pending tx %s", h)

				continue
			}

			s.deliver(info)
		}

		s.log.Debugf("Refreshed wallet, %d tx delivered, %d pending", delivered, len(hashes))

		// the refreshing flag must stay up until the last delivery is out:
		// Close polls it to know no callback is still in flight
		s.mu.Lock()
		if s.api != nil {
			s.timer = time.AfterFunc(s.refreshEach, s.refresh)
		}

		s.refreshing = false
		s.mu.Unlock()
	}()

	txs, err := api.AccountTx(ctx, account, height)
	if err != nil {
		s.log.WithError(err).Error("Error refreshing wallet")

		return
	}

	var max int64

	for i := range txs {
		s.deliver(&txs[i])

		delivered++

		if txs[i].LedgerVersion > max {
			max = txs[i].LedgerVersion
		}
	}

	info, err := api.AccountInfo(ctx, account)
	if err != nil {
		s.log.WithError(err).Error("Error refreshing balance")

		return
	}

	s.mu.Lock()
	s.balance = info.Balance

	if max > s.height {
		s.height = max
	}
	s.mu.Unlock()
}

// deliver converts a node transaction to the shared Tx shape, updates the
// pending set and hands it to the callback.
func (s *XRP) deliver(info *TxInfo) {
	tx := s.constructTx(info)
	if tx == nil {
		return
	}

	s.mu.Lock()
	if tx.Status == wallet.TxCompleted || tx.Status == wallet.TxFailed {
		delete(s.pending, tx.Hash)
	} else if _, ok := s.pending[tx.Hash]; ok {
		s.pending[tx.Hash] = tx.Status
	}
	s.mu.Unlock()

	s.onTx(tx)
}

func (s *XRP) constructTx(info *TxInfo) *wallet.Tx {
	if !info.Payment {
		s.log.Infof("Ignoring %s tx %s", info.Result, info.Hash)

		return nil
	}

	tx := wallet.NewTx()
	tx.Hash = info.Hash
	tx.Timestamp = info.Timestamp
	tx.Block = info.LedgerVersion
	tx.Page = info.LedgerVersion
	tx.Incoming = info.From != s.Address()

	switch {
	case info.Result != "tesSUCCESS":
		tx.Status = wallet.TxFailed
		tx.Error = info.Result
	case info.Validated && info.LedgerVersion > 0:
		tx.Status = wallet.TxCompleted
	default:
		tx.Status = wallet.TxSent
	}

	var amount int64

	if info.DeliveredXRP {
		amount = info.Delivered
	} else if tx.Status != wallet.TxFailed {
		tx.Error = "no delivered amount, not an XRP payment"
	}

	from := s.AddressEncode(info.From, info.SourceTag)
	to := s.AddressEncode(info.To, info.DestinationTag)

	op := tx.AddPayment(from, to, s.asset, amount, info.SourceTag, info.DestinationTag)
	if !tx.Incoming {
		op.Fee = info.Fee
	}

	return tx
}

// Close waits for any in-flight refresh to finish, then tears down the wallet.
// The wait is bounded so a stuck node cannot hang shutdown forever.
func (s *XRP) Close() error {
	for i := 0; i < closePolls; i++ {
		s.mu.Lock()
		busy := s.refreshing
		s.mu.Unlock()

		if !busy {
			break
		}

		time.Sleep(closePollGap)
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	api := s.api
	s.api = nil
	s.account = ""
	s.secret = ""
	s.balance = 0
	s.status = wallet.StatusInitial
	s.mu.Unlock()

	if api != nil {
		api.Close()
	}

	return nil
}
