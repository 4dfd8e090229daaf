// Package signer implements the offline signing service.
//
// It runs in a separated, network-restricted deployment holding the wallet
// secret. The gateway never sees key material: clients fetch the transaction
// context from the gateway, have this service sign it and hand the signed blob
// back to the gateway for broadcast.
package signer

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/cgw/lib/config"
	"github.com/tarancss/cgw/lib/wallet"
)

// Signer contains the data necessary to deliver the service.
type Signer struct {
	cfg    *config.ServiceConfig
	log    *logrus.Entry
	wallet wallet.Adapter

	mu          sync.Mutex
	initialized bool

	s  *http.Server  // http server
	sc chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Signer service.
func New(cfg *config.ServiceConfig, log *logrus.Entry, w wallet.Adapter) *Signer {
	return &Signer{
		cfg:    cfg,
		log:    log,
		wallet: w,
	}
}

// Initialize loads the signing credentials into the wallet. It succeeds at most
// once per process lifetime.
func (s *Signer) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	if err := s.wallet.InitSignWallet(s.cfg.Wallet.Address, s.cfg.Wallet.Secret); err != nil {
		return err
	}

	s.initialized = true

	return nil
}

// Stop shuts down the http server and closes the wallet.
func (s *Signer) Stop() {
	if s.s != nil {
		if err := s.s.Shutdown(context.Background()); err != nil {
			s.log.WithError(err).Error("Error in http server shutdown")
		}
	}

	if s.sc != nil {
		close(s.sc) // indicate shutdown has finished
	}

	if err := s.wallet.Close(); err != nil {
		s.log.WithError(err).Error("Error closing wallet")
	}
}
