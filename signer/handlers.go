package signer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tarancss/cgw/lib/wallet"
)

// ErrAlreadyInitialized is returned when the signing wallet was already loaded.
var ErrAlreadyInitialized = errors.New("signer is already initialized")

// ErrorResponse is the structured rejection returned for invalid requests.
type ErrorResponse struct {
	ErrorMessage string              `json:"errorMessage"`
	ModelErrors  map[string][]string `json:"modelErrors,omitempty"`
}

// SignRequest carries the transaction context built by the gateway and the
// secret to sign with.
type SignRequest struct {
	TransactionContext string   `json:"transactionContext"`
	PrivateKeys        []string `json:"privateKeys"`
}

// SignResponse returns the signed transaction ready for broadcast.
type SignResponse struct {
	SignedTransaction string `json:"signedTransaction"`
}

// WalletResponse returns a freshly created wallet.
type WalletResponse struct {
	PublicAddress string `json:"publicAddress"`
	PrivateKey    string `json:"privateKey"`
}

func (s *Signer) reply(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)

	if body != nil {
		_ = json.NewEncoder(rw).Encode(body)
	}
}

func (s *Signer) replyError(rw http.ResponseWriter, r *http.Request, err error) {
	var we *wallet.Error

	switch {
	case errors.Is(err, ErrAlreadyInitialized):
		s.reply(rw, http.StatusBadRequest, ErrorResponse{ErrorMessage: err.Error()})
	case errors.As(err, &we) && we.Kind == wallet.Validation:
		res := ErrorResponse{ErrorMessage: we.Msg}
		if we.Field != "" {
			res.ModelErrors = map[string][]string{we.Field: {we.Msg}}
		}

		s.reply(rw, http.StatusBadRequest, res)
	default:
		s.reply(rw, http.StatusInternalServerError, ErrorResponse{ErrorMessage: err.Error()})
	}

	s.log.Debugf("httpreq from %v %s err:%v", r.RemoteAddr, r.RequestURI, err)
}

func (s *Signer) isAliveHandler(rw http.ResponseWriter, r *http.Request) {
	s.reply(rw, http.StatusOK, map[string]interface{}{
		"name":    s.cfg.ServiceName,
		"version": s.cfg.Version,
		"isDebug": s.cfg.LogLevel == "debug",
	})
}

func (s *Signer) initializeHandler(rw http.ResponseWriter, r *http.Request) {
	if err := s.Initialize(); err != nil {
		s.replyError(rw, r, err)

		return
	}

	s.log.Infof("httpreq from %v %s signer initialized", r.RemoteAddr, r.RequestURI)
	s.reply(rw, http.StatusOK, nil)
}

// walletsHandler creates a fresh keypair for cold-storage or paper backup use.
func (s *Signer) walletsHandler(rw http.ResponseWriter, r *http.Request) {
	address, seed, err := s.wallet.CreatePaperWallet()
	if err != nil {
		s.replyError(rw, r, err)

		return
	}

	s.log.Infof("httpreq from %v %s created wallet %s", r.RemoteAddr, r.RequestURI, address)
	s.reply(rw, http.StatusOK, WalletResponse{PublicAddress: address, PrivateKey: seed})
}

// signHandler signs a transaction context. The no-op sentinel of internal
// transfers passes through untouched: there is nothing to sign and the gateway
// settles those against its own store.
func (s *Signer) signHandler(rw http.ResponseWriter, r *http.Request) {
	var req SignRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.replyError(rw, r, wallet.EField("body", "cannot decode request"))

		return
	}

	if req.TransactionContext == wallet.NopeTx {
		s.reply(rw, http.StatusOK, SignResponse{SignedTransaction: wallet.NopeTx})

		return
	}

	if len(req.PrivateKeys) != 1 {
		s.replyError(rw, r, wallet.EField("privateKeys", "exactly one key is required"))

		return
	}

	signed, err := s.wallet.SignTransaction(req.TransactionContext, req.PrivateKeys[0])
	if err != nil {
		s.replyError(rw, r, err)

		return
	}

	s.log.Infof("httpreq from %v %s signed", r.RemoteAddr, r.RequestURI)
	s.reply(rw, http.StatusOK, SignResponse{SignedTransaction: signed})
}
