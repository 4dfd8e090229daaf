package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/tarancss/cgw/lib/store"
	"github.com/tarancss/cgw/lib/wallet"
)

var uri string = "mongodb://localhost:27017"

// open connects to the local test database or skips the test when unavailable.
func open(t *testing.T) *Mongo {
	t.Helper()

	m, err := New(uri)
	if err != nil {
		t.Skipf("mongo not available at %s: %v", uri, err)
	}

	return m
}

func TestTxCreateIdempotent(t *testing.T) {
	m := open(t)
	defer m.CloseMongo()

	ctx := context.Background()
	opid := "op-" + time.Now().Format("150405.000000000")

	tx := wallet.NewTx()
	tx.Opid = opid
	tx.Observing = true
	tx.AddPayment("rA", "rB", "XRP", 100, "", "")

	created, err := m.TxCreate(ctx, tx)
	if err != nil || !created {
		t.Fatalf("created:%v err:%v", created, err)
	}

	// second insert with same opid must report conflict, not error
	created, err = m.TxCreate(ctx, tx)
	if err != nil {
		t.Fatalf("err:%v", err)
	}

	if created {
		t.Error("duplicate opid insert must return false")
	}

	got, err := m.TxByOpid(ctx, opid)
	if err != nil || got.Opid != opid || len(got.Operations) != 1 {
		t.Errorf("got:%+v err:%v", got, err)
	}
}

func TestTxConditionalComplete(t *testing.T) {
	m := open(t)
	defer m.CloseMongo()

	ctx := context.Background()
	hash := "h-" + time.Now().Format("150405.000000000")

	tx := wallet.NewTx()
	tx.Opid = "op-" + hash
	tx.Hash = hash
	tx.Status = wallet.TxSent

	if created, err := m.TxCreate(ctx, tx); err != nil || !created {
		t.Fatalf("created:%v err:%v", created, err)
	}

	ok, err := m.TxCompleteByHash(ctx, hash, 1000, 5, 5)
	if err != nil || !ok {
		t.Fatalf("first completion ok:%v err:%v", ok, err)
	}

	// duplicate delivery matches nothing
	ok, err = m.TxCompleteByHash(ctx, hash, 2000, 6, 6)
	if err != nil {
		t.Fatalf("err:%v", err)
	}

	if ok {
		t.Error("second conditional completion must not match")
	}

	got, err := m.TxByHash(ctx, hash)
	if err != nil || got.Status != wallet.TxCompleted || got.Block != 5 {
		t.Errorf("got:%+v err:%v", got, err)
	}

	// a late status update must not reopen the completed tx
	ok, err = m.TxSetStatusByHash(ctx, hash, wallet.TxLocked)
	if err != nil {
		t.Fatalf("err:%v", err)
	}

	if ok {
		t.Error("status update on completed tx must not match")
	}

	if got, err = m.TxByHash(ctx, hash); err != nil || got.Status != wallet.TxCompleted {
		t.Errorf("got:%+v err:%v", got, err)
	}
}

func TestAccountIncrement(t *testing.T) {
	m := open(t)
	defer m.CloseMongo()

	ctx := context.Background()
	pid := "pid-" + time.Now().Format("150405.000000000")
	addr := "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh+" + pid

	created, err := m.AccountCreate(ctx, store.Account{Address: addr, PaymentID: pid})
	if err != nil || !created {
		t.Fatalf("created:%v err:%v", created, err)
	}

	// re-observe reports conflict
	if created, err = m.AccountCreate(ctx, store.Account{Address: addr, PaymentID: pid}); err != nil || created {
		t.Errorf("duplicate observation created:%v err:%v", created, err)
	}

	if ok, err := m.AccountInc(ctx, pid, 500, 42); err != nil || !ok {
		t.Fatalf("inc ok:%v err:%v", ok, err)
	}

	if ok, err := m.AccountInc(ctx, pid, -200, 0); err != nil || !ok {
		t.Fatalf("dec ok:%v err:%v", ok, err)
	}

	accs, err := m.AccountsByPaymentIDs(ctx, []string{pid})
	if err != nil || len(accs) != 1 {
		t.Fatalf("accs:%+v err:%v", accs, err)
	}

	if accs[0].Balance != 300 || accs[0].Block != 42 {
		t.Errorf("balance:%d block:%d expected 300/42", accs[0].Balance, accs[0].Block)
	}

	// unknown payment id is a no-op, not an error
	if ok, err := m.AccountInc(ctx, pid+"-nope", 1, 0); err != nil || ok {
		t.Errorf("unknown inc ok:%v err:%v", ok, err)
	}

	if deleted, err := m.AccountDelete(ctx, addr); err != nil || !deleted {
		t.Errorf("deleted:%v err:%v", deleted, err)
	}
}
