package wallet

import (
	"testing"
)

func TestOperationEq(t *testing.T) {
	base := Operation{From: "rFrom", To: "rTo", Asset: "XRP", Amount: 100, SourcePaymentID: "1", PaymentID: "2"}

	cases := []struct {
		name string
		mod  func(o Operation) Operation
		eq   bool
	}{
		{"identical", func(o Operation) Operation { return o }, true},
		{"ignores id", func(o Operation) Operation { o.ID = "abc"; return o }, true},
		{"ignores fee", func(o Operation) Operation { o.Fee = 12; return o }, true},
		{"from differs", func(o Operation) Operation { o.From = "rX"; return o }, false},
		{"to differs", func(o Operation) Operation { o.To = "rX"; return o }, false},
		{"asset differs", func(o Operation) Operation { o.Asset = "BTC"; return o }, false},
		{"amount differs", func(o Operation) Operation { o.Amount = 101; return o }, false},
		{"source tag differs", func(o Operation) Operation { o.SourcePaymentID = "9"; return o }, false},
		{"tag differs", func(o Operation) Operation { o.PaymentID = "9"; return o }, false},
	}

	for _, c := range cases {
		if got := base.Eq(c.mod(base)); got != c.eq {
			t.Errorf("[%s] Eq=%v expected %v", c.name, got, c.eq)
		}
	}
}

func TestTxDWHW(t *testing.T) {
	tx := NewTx()
	if tx.DWHW() {
		t.Error("empty tx must not be internal")
	}

	tx.AddPayment("rW", "rW", "XRP", 100, "11", "")
	if !tx.DWHW() {
		t.Error("tagged-source tx must be internal")
	}

	tx.AddPayment("rW", "rOther", "XRP", 50, "", "22")
	if tx.DWHW() {
		t.Error("tx with an untagged source must not be internal")
	}
}

func TestTxTotals(t *testing.T) {
	tx := NewTx()
	tx.AddPayment("rA", "rB", "XRP", 100, "", "")
	op := tx.AddPayment("rA", "rC", "XRP", 250, "", "7")
	op.Fee = 12

	if tx.Amount() != 350 {
		t.Errorf("amount:%d expected 350", tx.Amount())
	}

	if tx.Fees() != 12 {
		t.Errorf("fees:%d expected 12", tx.Fees())
	}
}

func TestAddPaymentReturnsPointer(t *testing.T) {
	tx := NewTx()
	op := tx.AddPayment("rA", "rB", "XRP", 1, "", "")
	op.ID = "chain-id"

	if tx.Operations[0].ID != "chain-id" {
		t.Error("AddPayment must return a pointer into the tx operations")
	}
}
