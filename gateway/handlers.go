package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/wallet"
)

const defaultTake = 100

// ErrorResponse is the structured rejection returned for invalid requests.
type ErrorResponse struct {
	ErrorMessage string              `json:"errorMessage"`
	ModelErrors  map[string][]string `json:"modelErrors,omitempty"`
}

func (g *Gateway) reply(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)

	if body != nil {
		_ = json.NewEncoder(rw).Encode(body)
	}
}

// replyError maps an orchestrator error onto the wire. Business outcomes
// (insufficient balance or amount) come back as 200 with an errorCode per the
// API contract; validation failures carry the offending field.
func (g *Gateway) replyError(rw http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotReady):
		g.reply(rw, http.StatusServiceUnavailable, ErrorResponse{ErrorMessage: err.Error()})
	case errors.Is(err, ErrConflict):
		g.reply(rw, http.StatusConflict, ErrorResponse{ErrorMessage: err.Error()})
	case errors.Is(err, ErrUnknownOperation):
		g.reply(rw, http.StatusNoContent, nil)
	default:
		var we *wallet.Error
		if !errors.As(err, &we) {
			g.reply(rw, http.StatusInternalServerError, ErrorResponse{ErrorMessage: err.Error()})

			break
		}

		switch we.Kind {
		case wallet.NotEnoughFunds, wallet.NotEnoughAmount:
			g.reply(rw, http.StatusOK, map[string]string{"errorCode": errorCode(we.Kind)})
		case wallet.Validation:
			res := ErrorResponse{ErrorMessage: we.Msg}
			if we.Field != "" {
				res.ModelErrors = map[string][]string{we.Field: {we.Msg}}
			}

			g.reply(rw, http.StatusBadRequest, res)
		default:
			g.reply(rw, http.StatusInternalServerError, ErrorResponse{ErrorMessage: we.Error()})
		}
	}

	g.log.Debugf("httpreq from %v %s err:%v", r.RemoteAddr, r.RequestURI, err)
}

func (g *Gateway) isAliveHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, http.StatusOK, map[string]interface{}{
		"name":    g.cfg.ServiceName,
		"version": g.cfg.Version,
		"isDebug": g.cfg.LogLevel == "debug",
	})
}

func (g *Gateway) capabilitiesHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, http.StatusOK, map[string]bool{
		"isTransactionsRebuildingSupported": false,
		"areManyInputsSupported":            true,
		"areManyOutputsSupported":           true,
		"isTestingTransfersSupported":       false,
		"isPublicAddressExtensionRequired":  true,
		"canReturnExplorerUrl":              false,
	})
}

type assetItem struct {
	AssetID  string `json:"assetId"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Accuracy int    `json:"accuracy"`
}

func (g *Gateway) asset() assetItem {
	return assetItem{
		AssetID:  g.cfg.AssetID,
		Name:     g.cfg.AssetName,
		Accuracy: g.cfg.AssetAccuracy,
	}
}

func (g *Gateway) assetListHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, http.StatusOK, map[string]interface{}{
		"continuation": "",
		"items":        []assetItem{g.asset()},
	})
}

func (g *Gateway) assetHandler(rw http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["assetId"] != g.cfg.AssetID {
		g.reply(rw, http.StatusNoContent, nil)

		return
	}

	g.reply(rw, http.StatusOK, g.asset())
}

func (g *Gateway) validityHandler(rw http.ResponseWriter, r *http.Request) {
	valid := g.wallet != nil && g.wallet.AddressDecode(mux.Vars(r)["address"]) != nil

	g.reply(rw, http.StatusOK, map[string]bool{"isValid": valid})
}

type balanceItem struct {
	Address string `json:"address"`
	AssetID string `json:"assetId"`
	Balance string `json:"balance"`
	Block   int64  `json:"block"`
}

// balancesHandler lists observed accounts holding a positive balance, paged via
// take and an opaque continuation token (the numeric offset).
func (g *Gateway) balancesHandler(rw http.ResponseWriter, r *http.Request) {
	take := int64(defaultTake)

	if t := r.URL.Query().Get("take"); t != "" {
		v, err := strconv.ParseInt(t, 10, 64)
		if err != nil || v <= 0 {
			g.replyError(rw, r, wallet.EField("take", "must be a positive integer"))

			return
		}

		take = v
	}

	var offset int64

	if c := r.URL.Query().Get("continuation"); c != "" {
		v, err := strconv.ParseInt(c, 10, 64)
		if err != nil || v < 0 {
			g.replyError(rw, r, wallet.EField("continuation", "is not valid"))

			return
		}

		offset = v
	}

	accounts, err := g.db.AccountFind(r.Context(), 0, offset, take)
	if err != nil {
		g.replyError(rw, r, wallet.E(wallet.DB, err.Error()))

		return
	}

	items := make([]balanceItem, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, balanceItem{
			Address: a.Address,
			AssetID: g.cfg.AssetID,
			Balance: strconv.FormatInt(a.Balance, 10),
			Block:   a.Block,
		})
	}

	continuation := ""
	if int64(len(items)) == take {
		continuation = strconv.FormatInt(offset+take, 10)
	}

	g.reply(rw, http.StatusOK, map[string]interface{}{
		"continuation": continuation,
		"items":        items,
	})
}

// observeHandler starts or stops balance observation of an address.
func (g *Gateway) observeHandler(rw http.ResponseWriter, r *http.Request) {
	composite := mux.Vars(r)["address"]

	if g.wallet == nil {
		g.replyError(rw, r, ErrNotReady)

		return
	}

	decoded := g.wallet.AddressDecode(composite)
	if decoded == nil {
		g.replyError(rw, r, wallet.EField("address", "is not a valid address"))

		return
	}

	switch r.Method {
	case http.MethodPost:
		ok, err := g.db.AccountCreate(r.Context(), store.Account{
			Address:   composite,
			PaymentID: decoded.PaymentID,
		})
		if err != nil {
			g.replyError(rw, r, wallet.E(wallet.DB, err.Error()))

			return
		}

		if !ok {
			g.reply(rw, http.StatusConflict, ErrorResponse{ErrorMessage: "address is already observed"})

			return
		}

		g.reply(rw, http.StatusOK, nil)
	case http.MethodDelete:
		ok, err := g.db.AccountDelete(r.Context(), composite)
		if err != nil {
			g.replyError(rw, r, wallet.E(wallet.DB, err.Error()))

			return
		}

		if !ok {
			g.reply(rw, http.StatusNoContent, nil)

			return
		}

		g.reply(rw, http.StatusOK, nil)
	}
}

// rebuildHandler rejects transaction replacement, which the service does not
// support.
func (g *Gateway) rebuildHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, http.StatusNotImplemented, ErrorResponse{ErrorMessage: "transaction rebuilding is not supported"})
}

func (g *Gateway) buildSingleHandler(rw http.ResponseWriter, r *http.Request) {
	g.build(rw, r, false, false)
}

func (g *Gateway) buildManyInputsHandler(rw http.ResponseWriter, r *http.Request) {
	g.build(rw, r, true, false)
}

func (g *Gateway) buildManyOutputsHandler(rw http.ResponseWriter, r *http.Request) {
	g.build(rw, r, false, true)
}

func (g *Gateway) build(rw http.ResponseWriter, r *http.Request, multiIn, multiOut bool) {
	var req BuildRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.replyError(rw, r, wallet.EField("body", "cannot decode request"))

		return
	}

	tx, err := g.CreateTx(r.Context(), &req, multiIn, multiOut)
	if err != nil {
		g.replyError(rw, r, err)

		return
	}

	txContext, err := g.ProcessTx(r.Context(), tx)
	if err != nil {
		g.replyError(rw, r, err)

		return
	}

	g.log.Infof("httpreq from %v %s opid:%s built", r.RemoteAddr, r.RequestURI, req.OperationID)
	g.reply(rw, http.StatusOK, map[string]string{"transactionContext": txContext})
}

func (g *Gateway) broadcastHandler(rw http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.replyError(rw, r, wallet.EField("body", "cannot decode request"))

		return
	}

	if req.OperationID == "" {
		g.replyError(rw, r, wallet.EField("operationId", "is required"))

		return
	}

	tx, err := g.Broadcast(r.Context(), &req)
	if err != nil {
		g.replyError(rw, r, err)

		return
	}

	g.log.Infof("httpreq from %v %s opid:%s hash:%s", r.RemoteAddr, r.RequestURI, tx.Opid, tx.Hash)
	g.reply(rw, http.StatusOK, map[string]string{"hash": tx.Hash})
}

// broadcastState is the observed lifecycle state of a broadcast operation.
type broadcastState struct {
	OperationID string `json:"operationId"`
	State       string `json:"state"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	Hash        string `json:"hash,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Block       int64  `json:"block,omitempty"`
}

func stateOf(status wallet.TxStatus) string {
	switch status {
	case wallet.TxCompleted:
		return "completed"
	case wallet.TxFailed:
		return "failed"
	}

	return "inProgress"
}

func (g *Gateway) broadcastedHandler(rw http.ResponseWriter, r *http.Request) {
	opid := mux.Vars(r)["operationId"]

	tx, err := g.db.TxByOpid(r.Context(), opid)
	if errors.Is(err, store.ErrTxNotFound) {
		g.reply(rw, http.StatusNoContent, nil)

		return
	}

	if err != nil {
		g.replyError(rw, r, wallet.E(wallet.DB, err.Error()))

		return
	}

	// a draft that was never broadcast has no state to report yet
	if !tx.Observing || tx.Status == wallet.TxInitial {
		g.reply(rw, http.StatusNoContent, nil)

		return
	}

	res := broadcastState{
		OperationID: tx.Opid,
		State:       stateOf(tx.Status),
		Timestamp:   tx.Timestamp,
		Amount:      strconv.FormatInt(tx.Amount(), 10),
		Fee:         strconv.FormatInt(tx.Fees(), 10),
		Hash:        tx.Hash,
		Block:       tx.Block,
	}

	// broadcast failures recorded a wire error code, everything else is free text
	switch tx.Error {
	case "notEnoughBalance", "amountIsTooSmall":
		res.ErrorCode = tx.Error
	default:
		res.Error = tx.Error
	}

	g.reply(rw, http.StatusOK, res)
}

// forgetHandler stops status observation of an operation; the record itself is
// kept for history.
func (g *Gateway) forgetHandler(rw http.ResponseWriter, r *http.Request) {
	ok, err := g.db.TxSetObserving(r.Context(), mux.Vars(r)["operationId"], false)
	if err != nil {
		g.replyError(rw, r, wallet.E(wallet.DB, err.Error()))

		return
	}

	if !ok {
		g.reply(rw, http.StatusNoContent, nil)

		return
	}

	g.reply(rw, http.StatusOK, nil)
}

type historyItem struct {
	Timestamp   int64  `json:"timestamp"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	AssetID     string `json:"assetId"`
	Amount      string `json:"amount"`
	Hash        string `json:"hash"`
}

func (g *Gateway) historyFromHandler(rw http.ResponseWriter, r *http.Request) {
	g.history(rw, r, true)
}

func (g *Gateway) historyToHandler(rw http.ResponseWriter, r *http.Request) {
	g.history(rw, r, false)
}

// history lists completed transactions touching the given address, oldest first,
// optionally starting after afterTimestamp (ms).
func (g *Gateway) history(rw http.ResponseWriter, r *http.Request, from bool) {
	address := mux.Vars(r)["address"]

	q := store.HistoryQuery{Limit: defaultTake}
	if from {
		q.From = address
	} else {
		q.To = address
	}

	if t := r.URL.Query().Get("take"); t != "" {
		v, err := strconv.ParseInt(t, 10, 64)
		if err != nil || v <= 0 {
			g.replyError(rw, r, wallet.EField("take", "must be a positive integer"))

			return
		}

		q.Limit = v
	}

	if ts := r.URL.Query().Get("afterTimestamp"); ts != "" {
		v, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || v < 0 {
			g.replyError(rw, r, wallet.EField("afterTimestamp", "is not valid"))

			return
		}

		q.AfterTimestamp = v
	}

	txs, err := g.db.TxHistory(r.Context(), q)
	if err != nil {
		g.replyError(rw, r, wallet.E(wallet.DB, err.Error()))

		return
	}

	items := make([]historyItem, 0, len(txs))

	for _, tx := range txs {
		for _, op := range tx.Operations {
			if (from && op.From != address) || (!from && op.To != address) {
				continue
			}

			items = append(items, historyItem{
				Timestamp:   tx.Timestamp,
				FromAddress: op.From,
				ToAddress:   op.To,
				AssetID:     g.cfg.AssetID,
				Amount:      strconv.FormatInt(op.Amount, 10),
				Hash:        tx.Hash,
			})
		}
	}

	g.reply(rw, http.StatusOK, items)
}

// observeHistoryHandler acknowledges history observation requests; history is
// always recorded, so these are accepted no-ops.
func (g *Gateway) observeHistoryHandler(rw http.ResponseWriter, r *http.Request) {
	g.reply(rw, http.StatusOK, nil)
}
