// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/wallet"
)

const (
	database    = "cgw"
	txCol       = "txs"
	accountCol  = "accounts"
	connTimeout = 5 * time.Second
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri. It
// ensures the unique indexes backing opid and hash idempotency.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	m := &Mongo{c: c}
	if err = m.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("error ensuring mongo indexes: %w", err)
	}

	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.txs().Indexes().CreateMany(ctx, []mgo.IndexModel{
		{
			Keys:    bson.D{{Key: "opid", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "hash", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})

	return err
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) txs() *mgo.Collection {
	return m.c.Database(database).Collection(txCol)
}

func (m *Mongo) accounts() *mgo.Collection {
	return m.c.Database(database).Collection(accountCol)
}

// TxCreate inserts the transaction, reporting false when its opid or hash is
// already stored.
func (m *Mongo) TxCreate(ctx context.Context, tx *wallet.Tx) (bool, error) {
	_, err := m.txs().InsertOne(ctx, tx)
	if err != nil {
		if mgo.IsDuplicateKeyError(err) {
			return false, nil
		}

		return false, fmt.Errorf("could not insert tx in db: %w", err)
	}

	return true, nil
}

// TxReplace overwrites the document stored under opid with tx.
func (m *Mongo) TxReplace(ctx context.Context, opid string, tx *wallet.Tx) (bool, error) {
	res, err := m.txs().ReplaceOne(ctx, bson.M{"opid": opid}, tx)
	if err != nil {
		return false, fmt.Errorf("could not replace tx %s in db: %w", opid, err)
	}

	return res.MatchedCount > 0, nil
}

func (m *Mongo) txOne(ctx context.Context, filter bson.M) (*wallet.Tx, error) {
	var tx wallet.Tx

	err := m.txs().FindOne(ctx, filter).Decode(&tx)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return nil, store.ErrTxNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not get tx from db: %w", err)
	}

	return &tx, nil
}

func (m *Mongo) TxByOpid(ctx context.Context, opid string) (*wallet.Tx, error) {
	return m.txOne(ctx, bson.M{"opid": opid})
}

func (m *Mongo) TxByHash(ctx context.Context, hash string) (*wallet.Tx, error) {
	return m.txOne(ctx, bson.M{"hash": hash})
}

func (m *Mongo) txUpdate(ctx context.Context, filter, set bson.M) (bool, error) {
	res, err := m.txs().UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("could not update tx in db: %w", err)
	}

	return res.MatchedCount > 0, nil
}

// TxMarkSent records a successful broadcast.
func (m *Mongo) TxMarkSent(ctx context.Context, opid, hash string, timestamp, block, page int64) (bool, error) {
	set := bson.M{"hash": hash, "status": wallet.TxSent, "timestamp": timestamp}
	if block > 0 {
		set["block"] = block
	}

	if page > 0 {
		set["page"] = page
	}

	return m.txUpdate(ctx, bson.M{"opid": opid}, set)
}

func (m *Mongo) TxMarkFailed(ctx context.Context, opid, reason string, timestamp int64) (bool, error) {
	return m.txUpdate(ctx, bson.M{"opid": opid},
		bson.M{"status": wallet.TxFailed, "error": reason, "timestamp": timestamp})
}

func (m *Mongo) TxMarkCompleted(ctx context.Context, opid, hash string, timestamp int64) (bool, error) {
	return m.txUpdate(ctx, bson.M{"opid": opid},
		bson.M{"status": wallet.TxCompleted, "hash": hash, "timestamp": timestamp})
}

// TxSetStatusByHash updates the status of a still in-flight transaction. The
// status condition keeps a late callback from reopening a Completed or Failed tx.
func (m *Mongo) TxSetStatusByHash(ctx context.Context, hash string, status wallet.TxStatus) (bool, error) {
	filter := bson.M{
		"hash":   hash,
		"status": bson.M{"$in": []wallet.TxStatus{wallet.TxInitial, wallet.TxSent, wallet.TxLocked}},
	}

	return m.txUpdate(ctx, filter, bson.M{"status": status})
}

// TxCompleteByHash conditionally moves a Sent transaction to Completed. The status
// condition in the filter makes concurrent duplicate completions settle exactly once.
func (m *Mongo) TxCompleteByHash(ctx context.Context, hash string, timestamp, block, page int64) (bool, error) {
	set := bson.M{"status": wallet.TxCompleted, "timestamp": timestamp}
	if block > 0 {
		set["block"] = block
	}

	if page > 0 {
		set["page"] = page
	}

	return m.txUpdate(ctx, bson.M{"hash": hash, "status": wallet.TxSent}, set)
}

func (m *Mongo) TxSetOperations(ctx context.Context, hash string, ops []wallet.Operation) (bool, error) {
	return m.txUpdate(ctx, bson.M{"hash": hash}, bson.M{"operations": ops})
}

func (m *Mongo) TxSetObserving(ctx context.Context, opid string, observing bool) (bool, error) {
	return m.txUpdate(ctx, bson.M{"opid": opid}, bson.M{"observing": observing})
}

// TxPending returns all transactions still in flight so the wallet can resume
// watching them after a restart.
func (m *Mongo) TxPending(ctx context.Context) ([]*wallet.Tx, error) {
	cur, err := m.txs().Find(ctx, bson.M{
		"status": bson.M{"$in": []wallet.TxStatus{wallet.TxInitial, wallet.TxSent, wallet.TxLocked}},
	})
	if err != nil {
		return nil, fmt.Errorf("could not find pending txs in db: %w", err)
	}
	defer cur.Close(ctx)

	var txs []*wallet.Tx

	for cur.Next(ctx) {
		var tx wallet.Tx
		if err = cur.Decode(&tx); err != nil {
			return nil, fmt.Errorf("could not decode pending tx: %w", err)
		}

		txs = append(txs, &tx)
	}

	return txs, cur.Err()
}

// TxMaxPage returns the highest persisted chain height cursor, 0 when none.
func (m *Mongo) TxMaxPage(ctx context.Context) (int64, error) {
	var tx wallet.Tx

	err := m.txs().FindOne(ctx, bson.M{"page": bson.M{"$gt": 0}},
		options.FindOne().SetSort(bson.D{{Key: "page", Value: -1}})).Decode(&tx)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("could not get max page from db: %w", err)
	}

	return tx.Page, nil
}

func (m *Mongo) TxHistory(ctx context.Context, q store.HistoryQuery) ([]*wallet.Tx, error) {
	filter := bson.M{"status": wallet.TxCompleted}

	if q.From != "" {
		filter["operations.from"] = q.From
	}

	if q.SourcePaymentID != "" {
		filter["operations.sourcePaymentId"] = q.SourcePaymentID
	}

	if q.To != "" {
		filter["operations.to"] = q.To
	}

	if q.PaymentID != "" {
		filter["operations.paymentId"] = q.PaymentID
	}

	if q.AfterTimestamp > 0 {
		filter["timestamp"] = bson.M{"$gt": q.AfterTimestamp}
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if q.Limit > 0 {
		opts = opts.SetLimit(q.Limit)
	}

	cur, err := m.txs().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("could not find tx history in db: %w", err)
	}
	defer cur.Close(ctx)

	var txs []*wallet.Tx

	for cur.Next(ctx) {
		var tx wallet.Tx
		if err = cur.Decode(&tx); err != nil {
			return nil, fmt.Errorf("could not decode history tx: %w", err)
		}

		txs = append(txs, &tx)
	}

	return txs, cur.Err()
}

// AccountCreate starts observing an address, reporting false when it already is.
func (m *Mongo) AccountCreate(ctx context.Context, a store.Account) (bool, error) {
	_, err := m.accounts().InsertOne(ctx, a)
	if err != nil {
		if mgo.IsDuplicateKeyError(err) {
			return false, nil
		}

		return false, fmt.Errorf("could not insert account in db: %w", err)
	}

	return true, nil
}

// AccountInc atomically increments the balance of the account observed under
// paymentID. A positive block records the height the balance changed at.
func (m *Mongo) AccountInc(ctx context.Context, paymentID string, delta, block int64) (bool, error) {
	update := bson.M{"$inc": bson.M{"balance": delta}}
	if block > 0 {
		update["$set"] = bson.M{"block": block}
	}

	res, err := m.accounts().UpdateOne(ctx, bson.M{"paymentId": paymentID}, update)
	if err != nil {
		return false, fmt.Errorf("could not increment account %s in db: %w", paymentID, err)
	}

	return res.MatchedCount > 0, nil
}

func (m *Mongo) AccountsByPaymentIDs(ctx context.Context, paymentIDs []string) ([]store.Account, error) {
	cur, err := m.accounts().Find(ctx, bson.M{"paymentId": bson.M{"$in": paymentIDs}})
	if err != nil {
		return nil, fmt.Errorf("could not find accounts in db: %w", err)
	}
	defer cur.Close(ctx)

	var accs []store.Account

	for cur.Next(ctx) {
		var a store.Account
		if err = cur.Decode(&a); err != nil {
			return nil, fmt.Errorf("could not decode account: %w", err)
		}

		accs = append(accs, a)
	}

	return accs, cur.Err()
}

// AccountFind lists accounts with balance greater than minBalance ordered by
// address, honouring offset/limit paging.
func (m *Mongo) AccountFind(ctx context.Context, minBalance, offset, limit int64) ([]store.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(offset)
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cur, err := m.accounts().Find(ctx, bson.M{"balance": bson.M{"$gt": minBalance}}, opts)
	if err != nil {
		return nil, fmt.Errorf("could not find accounts in db: %w", err)
	}
	defer cur.Close(ctx)

	var accs []store.Account

	for cur.Next(ctx) {
		var a store.Account
		if err = cur.Decode(&a); err != nil {
			return nil, fmt.Errorf("could not decode account: %w", err)
		}

		accs = append(accs, a)
	}

	return accs, cur.Err()
}

func (m *Mongo) AccountDelete(ctx context.Context, address string) (bool, error) {
	res, err := m.accounts().DeleteOne(ctx, bson.M{"_id": address})
	if err != nil {
		return false, fmt.Errorf("could not delete account %s from db: %w", address, err)
	}

	return res.DeletedCount == 1, nil
}
