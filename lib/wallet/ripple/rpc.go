package ripple

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// rippleEpochOffset converts the ledger close time (seconds since the ripple
// epoch, 2000-01-01T00:00:00Z) to a unix timestamp.
const rippleEpochOffset = 946684800

// AccountInfo holds the account state fields the adapter needs from the node.
type AccountInfo struct {
	Balance            int64 // drops
	Sequence           int64
	PreviousTxnLgrSeq  int64
	LedgerCurrentIndex int64
}

// TxInfo is a transaction normalized out of the node's wire format.
type TxInfo struct {
	Hash           string
	Payment        bool
	Result         string // engine result code, ie. "tesSUCCESS"
	Validated      bool
	LedgerVersion  int64
	Timestamp      int64 // ms
	From           string
	To             string
	SourceTag      string
	DestinationTag string
	Delivered      int64 // drops, only meaningful for XRP payments
	DeliveredXRP   bool
	Fee            int64 // drops
}

// Client is the node surface the adapter consumes. A live implementation
// talks JSON-RPC to a rippled server; tests provide their own.
type Client interface {
	Ping(ctx context.Context) error
	AccountInfo(ctx context.Context, account string) (*AccountInfo, error)
	LedgerVersion(ctx context.Context) (int64, error)
	AccountTx(ctx context.Context, account string, minLedger int64) ([]TxInfo, error)
	Tx(ctx context.Context, hash string) (*TxInfo, error)
	Sign(ctx context.Context, txJSON json.RawMessage, secret string) (hash, blob string, err error)
	Submit(ctx context.Context, blob string) (engineResult string, err error)
	WalletPropose(ctx context.Context) (account, seed string, err error)
	Close()
}

type httpClient struct {
	url string
	c   *http.Client
}

// NewClient returns a Client talking JSON-RPC to the rippled server at url.
func NewClient(url string) Client {
	return &httpClient{
		url: url,
		c:   &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *httpClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := rpcRequest{Method: method}
	if params != nil {
		req.Params = []interface{}{params}
	}

	body, err := json.Marshal(&req)
	if err != nil {
		return err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	hreq.Header.Set("Content-Type", "application/json")

	res, err := c.c.Do(hreq)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned HTTP %d", res.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}

	if err = json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return err
	}

	var status rpcError
	if err = json.Unmarshal(envelope.Result, &status); err != nil {
		return err
	}

	if status.Status != "success" {
		if status.ErrorMessage != "" {
			return fmt.Errorf("%s: %s", status.Error, status.ErrorMessage)
		}

		return fmt.Errorf("node error %q", status.Error)
	}

	if out != nil {
		return json.Unmarshal(envelope.Result, out)
	}

	return nil
}

func (c *httpClient) Ping(ctx context.Context) error {
	return c.call(ctx, "server_info", nil, nil)
}

func (c *httpClient) AccountInfo(ctx context.Context, account string) (*AccountInfo, error) {
	var res struct {
		AccountData struct {
			Balance           string `json:"Balance"`
			Sequence          int64  `json:"Sequence"`
			PreviousTxnLgrSeq int64  `json:"PreviousTxnLgrSeq"`
		} `json:"account_data"`
		LedgerCurrentIndex int64 `json:"ledger_current_index"`
		LedgerIndex        int64 `json:"ledger_index"`
	}

	err := c.call(ctx, "account_info", map[string]interface{}{
		"account":      account,
		"ledger_index": "validated",
	}, &res)
	if err != nil {
		return nil, err
	}

	balance, err := strconv.ParseInt(res.AccountData.Balance, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse account balance %q: %w", res.AccountData.Balance, err)
	}

	ledger := res.LedgerIndex
	if ledger == 0 {
		ledger = res.LedgerCurrentIndex
	}

	return &AccountInfo{
		Balance:            balance,
		Sequence:           res.AccountData.Sequence,
		PreviousTxnLgrSeq:  res.AccountData.PreviousTxnLgrSeq,
		LedgerCurrentIndex: ledger,
	}, nil
}

func (c *httpClient) LedgerVersion(ctx context.Context) (int64, error) {
	var res struct {
		LedgerIndex int64 `json:"ledger_index"`
	}

	err := c.call(ctx, "ledger", map[string]interface{}{
		"ledger_index": "validated",
	}, &res)
	if err != nil {
		return 0, err
	}

	return res.LedgerIndex, nil
}

// wireTx matches the transaction object rippled returns both inside
// account_tx entries and at the top level of a tx response.
type wireTx struct {
	Hash            string          `json:"hash"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Fee             string          `json:"Fee"`
	SourceTag       *uint32         `json:"SourceTag"`
	DestinationTag  *uint32         `json:"DestinationTag"`
	Date            int64           `json:"date"`
	LedgerIndex     int64           `json:"ledger_index"`
	Meta            json.RawMessage `json:"meta"`
	MetaData        json.RawMessage `json:"metaData"`
	Validated       bool            `json:"validated"`
}

type wireMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
}

func normalize(tx *wireTx, rawMeta json.RawMessage, validated bool) (*TxInfo, error) {
	info := &TxInfo{
		Hash:          tx.Hash,
		Payment:       tx.TransactionType == "Payment",
		Validated:     validated,
		LedgerVersion: tx.LedgerIndex,
		Timestamp:     (tx.Date + rippleEpochOffset) * 1000,
		From:          tx.Account,
		To:            tx.Destination,
	}

	if tx.SourceTag != nil {
		info.SourceTag = strconv.FormatUint(uint64(*tx.SourceTag), 10)
	}

	if tx.DestinationTag != nil {
		info.DestinationTag = strconv.FormatUint(uint64(*tx.DestinationTag), 10)
	}

	if tx.Fee != "" {
		fee, err := strconv.ParseInt(tx.Fee, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse fee %q: %w", tx.Fee, err)
		}

		info.Fee = fee
	}

	if len(rawMeta) > 0 {
		var meta wireMeta
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return nil, err
		}

		info.Result = meta.TransactionResult

		// delivered_amount is a plain drops string for XRP and an object
		// for issued currencies
		if len(meta.DeliveredAmount) > 0 && meta.DeliveredAmount[0] == '"' {
			var drops string
			if err := json.Unmarshal(meta.DeliveredAmount, &drops); err != nil {
				return nil, err
			}

			amount, err := strconv.ParseInt(drops, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse delivered amount %q: %w", drops, err)
			}

			info.Delivered = amount
			info.DeliveredXRP = true
		}
	}

	return info, nil
}

func (c *httpClient) AccountTx(ctx context.Context, account string, minLedger int64) ([]TxInfo, error) {
	var res struct {
		Transactions []struct {
			Tx        wireTx          `json:"tx"`
			Meta      json.RawMessage `json:"meta"`
			Validated bool            `json:"validated"`
		} `json:"transactions"`
	}

	err := c.call(ctx, "account_tx", map[string]interface{}{
		"account":          account,
		"ledger_index_min": minLedger,
		"ledger_index_max": -1,
		"forward":          true,
	}, &res)
	if err != nil {
		return nil, err
	}

	out := make([]TxInfo, 0, len(res.Transactions))

	for i := range res.Transactions {
		entry := &res.Transactions[i]

		info, err := normalize(&entry.Tx, entry.Meta, entry.Validated)
		if err != nil {
			return nil, err
		}

		out = append(out, *info)
	}

	return out, nil
}

func (c *httpClient) Tx(ctx context.Context, hash string) (*TxInfo, error) {
	var res wireTx

	err := c.call(ctx, "tx", map[string]interface{}{
		"transaction": hash,
		"binary":      false,
	}, &res)
	if err != nil {
		return nil, err
	}

	meta := res.Meta
	if len(meta) == 0 {
		meta = res.MetaData
	}

	return normalize(&res, meta, res.Validated)
}

func (c *httpClient) Sign(ctx context.Context, txJSON json.RawMessage, secret string) (string, string, error) {
	var res struct {
		TxBlob string `json:"tx_blob"`
		TxJSON struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}

	err := c.call(ctx, "sign", map[string]interface{}{
		"tx_json": txJSON,
		"secret":  secret,
		"offline": true,
	}, &res)
	if err != nil {
		return "", "", err
	}

	return res.TxJSON.Hash, res.TxBlob, nil
}

func (c *httpClient) Submit(ctx context.Context, blob string) (string, error) {
	var res struct {
		EngineResult string `json:"engine_result"`
	}

	err := c.call(ctx, "submit", map[string]interface{}{
		"tx_blob": blob,
	}, &res)
	if err != nil {
		return "", err
	}

	return res.EngineResult, nil
}

func (c *httpClient) WalletPropose(ctx context.Context) (string, string, error) {
	var res struct {
		AccountID  string `json:"account_id"`
		MasterSeed string `json:"master_seed"`
	}

	if err := c.call(ctx, "wallet_propose", nil, &res); err != nil {
		return "", "", err
	}

	return res.AccountID, res.MasterSeed, nil
}

func (c *httpClient) Close() {
	c.c.CloseIdleConnections()
}
