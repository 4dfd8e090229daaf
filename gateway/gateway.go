// Package gateway implements the custodial gateway service.
//
// It exposes a RESTful API for clients to build, broadcast and follow transactions
// on the configured ledger, reconciles observed sub-account balances from the
// wallet refresh loop and publishes lifecycle events to the message broker.
package gateway

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/cgw/lib/config"
	"github.com/tarancss/cgw/lib/msg"
	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/store/db"
	"github.com/tarancss/cgw/lib/wallet"
)

// AdapterFactory builds the chain adapter once the gateway knows the callback
// handler and the recovered height cursor.
type AdapterFactory func(onTx wallet.TxHandler, page int64) wallet.Adapter

// Gateway contains the data necessary to deliver the service.
type Gateway struct {
	cfg        *config.ServiceConfig
	log        *logrus.Entry
	db         store.DB
	mb         msg.MsgBroker
	newAdapter AdapterFactory

	wallet wallet.Adapter
	sync   *SyncCoordinator
	ing    *Ingester

	s  *http.Server  // http server
	sc chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Gateway service.
func New(cfg *config.ServiceConfig, log *logrus.Entry, dbConn store.DB, mb msg.MsgBroker, newAdapter AdapterFactory) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		log:        log,
		db:         dbConn,
		mb:         mb,
		newAdapter: newAdapter,
		sync:       NewSyncCoordinator(),
	}

	g.ing = NewIngester(log, dbConn, mb, cfg.AssetID)

	return g
}

// Start recovers persisted state, builds the adapter and connects the view
// wallet. The height cursor resumes from the highest persisted page and every
// in-flight transaction is put back on the adapter's watch list so a restart
// loses no pending work.
func (g *Gateway) Start(ctx context.Context) error {
	page, err := g.db.TxMaxPage(ctx)
	if err != nil {
		return err
	}

	g.wallet = g.newAdapter(g.ing.OnTx, page)

	pending, err := g.db.TxPending(ctx)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		if tx.Hash != "" {
			g.wallet.Watch(tx.Hash, tx.Status)
		}
	}

	g.log.Infof("Recovered cursor %d and %d pending transactions", page, len(pending))

	g.ing.Start()

	balance, err := g.wallet.InitViewWallet(ctx, g.cfg.Wallet.Address)
	if err != nil {
		return err
	}

	g.log.Infof("View wallet ready, balance %d", balance)

	return nil
}

// Stop shuts down the http server and closes gracefully the wallet, the
// ingestion channel, the message broker and the database.
func (g *Gateway) Stop() {
	if g.s != nil {
		if err := g.s.Shutdown(context.Background()); err != nil {
			g.log.WithError(err).Error("Error in http server shutdown")
		}
	}

	if g.sc != nil {
		close(g.sc) // indicate shutdown has finished
	}

	if g.wallet != nil {
		if err := g.wallet.Close(); err != nil {
			g.log.WithError(err).Error("Error closing wallet")
		}
	}

	g.ing.Stop()

	if g.mb != nil {
		if err := g.mb.Close(); err != nil {
			g.log.WithError(err).Error("Error closing message broker")
		}
	}

	if g.db != nil {
		err := db.Close(g.cfg.DBType, g.db)
		g.log.Infof("Disconnecting %v database, err:%v", g.cfg.DBType, err)
	}
}
