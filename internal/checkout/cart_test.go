package checkout

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"partsdesk/checkout/internal/domain"
)

func testProduct(id string, price int64, stock int) domain.Product {
	return domain.Product{
		ID:             id,
		PartNumber:     "PN-" + id,
		Name:           "Part " + id,
		RetailPrice:    decimal.NewFromInt(price),
		WholesalePrice: decimal.NewFromInt(price * 8 / 10),
		Stock:          stock,
	}
}

func TestAddLineIncrementsUpToStock(t *testing.T) {
	var cart Cart
	p := testProduct("brake-pad", 1500, 2)

	if err := cart.AddLine(p); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := cart.AddLine(p); err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	err := cart.AddLine(p)
	if !errors.Is(err, ErrStockExceeded) {
		t.Fatalf("expected ErrStockExceeded, got %v", err)
	}

	lines := cart.Lines()
	if len(lines) != 1 || lines[0].Quantity != 2 {
		t.Fatalf("expected single line with qty 2, got %+v", lines)
	}
}

func TestAddLineQtyIsAllOrNothing(t *testing.T) {
	var cart Cart
	p := testProduct("brake-pad", 1000, 5)

	if err := cart.AddLineQty(p, 9); !errors.Is(err, ErrStockExceeded) {
		t.Fatalf("expected ErrStockExceeded for new line, got %v", err)
	}
	if cart.Len() != 0 {
		t.Fatalf("expected rejected add to leave cart empty, got %+v", cart.Lines())
	}

	if err := cart.AddLineQty(p, 2); err != nil {
		t.Fatalf("add 2: %v", err)
	}
	if err := cart.AddLineQty(p, 4); !errors.Is(err, ErrStockExceeded) {
		t.Fatalf("expected ErrStockExceeded for 2+4, got %v", err)
	}
	if err := cart.AddLineQty(p, 3); err != nil {
		t.Fatalf("add 3 more: %v", err)
	}
	if lines := cart.Lines(); len(lines) != 1 || lines[0].Quantity != 5 {
		t.Fatalf("expected single line with qty 5, got %+v", lines)
	}
}

func TestAddLineRejectsOutOfStockProduct(t *testing.T) {
	var cart Cart
	err := cart.AddLine(testProduct("filter", 900, 0))
	if !errors.Is(err, ErrProductNotAvailable) {
		t.Fatalf("expected ErrProductNotAvailable, got %v", err)
	}
	if cart.Len() != 0 {
		t.Fatalf("expected empty cart")
	}
}

func TestLinesKeepInsertionOrder(t *testing.T) {
	var cart Cart
	for _, id := range []string{"c", "a", "b"} {
		if err := cart.AddLine(testProduct(id, 100, 5)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := cart.AddLine(testProduct("a", 100, 5)); err != nil {
		t.Fatalf("re-add a: %v", err)
	}

	lines := cart.Lines()
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if lines[i].Product.ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, lines[i].Product.ID)
		}
	}
}

func TestSetQuantity(t *testing.T) {
	tests := []struct {
		name    string
		qty     int
		wantErr error
		wantQty int
		wantLen int
	}{
		{name: "within stock", qty: 4, wantQty: 4, wantLen: 1},
		{name: "exactly stock", qty: 5, wantQty: 5, wantLen: 1},
		{name: "above stock", qty: 6, wantErr: ErrStockExceeded, wantQty: 1, wantLen: 1},
		{name: "zero removes", qty: 0, wantLen: 0},
		{name: "negative removes", qty: -3, wantLen: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var cart Cart
			if err := cart.AddLine(testProduct("rotor", 4200, 5)); err != nil {
				t.Fatalf("add: %v", err)
			}

			err := cart.SetQuantity("rotor", tc.qty)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			lines := cart.Lines()
			if len(lines) != tc.wantLen {
				t.Fatalf("expected %d lines, got %d", tc.wantLen, len(lines))
			}
			if tc.wantLen > 0 && lines[0].Quantity != tc.wantQty {
				t.Fatalf("expected qty %d, got %d", tc.wantQty, lines[0].Quantity)
			}
		})
	}
}

func TestSetQuantityNeverExceedsStock(t *testing.T) {
	var cart Cart
	p := testProduct("spark-plug", 350, 7)
	if err := cart.AddLine(p); err != nil {
		t.Fatalf("add: %v", err)
	}

	for qty := -2; qty <= 20; qty++ {
		_ = cart.SetQuantity(p.ID, qty)
		for _, line := range cart.Lines() {
			if line.Quantity > line.Product.Stock {
				t.Fatalf("qty %d exceeded stock %d", line.Quantity, line.Product.Stock)
			}
		}
		if cart.Len() == 0 {
			_ = cart.AddLine(p)
		}
	}
}

func TestRemoveLine(t *testing.T) {
	var cart Cart
	_ = cart.AddLine(testProduct("a", 100, 3))
	_ = cart.AddLine(testProduct("b", 100, 3))

	if err := cart.RemoveLine("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := cart.RemoveLine("missing"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	lines := cart.Lines()
	if len(lines) != 1 || lines[0].Product.ID != "b" {
		t.Fatalf("expected only b, got %+v", lines)
	}
}

func TestLockedCartRejectsMutation(t *testing.T) {
	var cart Cart
	_ = cart.AddLine(testProduct("old", 10, 1))

	cart.LoadFromInvoice(testInvoice("inv-1", 3))

	if !cart.Locked() || cart.InvoiceID() != "inv-1" {
		t.Fatalf("expected cart locked to inv-1")
	}
	if cart.Len() != 3 {
		t.Fatalf("expected 3 invoice lines, got %d", cart.Len())
	}
	if err := cart.AddLine(testProduct("new", 10, 5)); !errors.Is(err, ErrCartLocked) {
		t.Fatalf("add: expected ErrCartLocked, got %v", err)
	}
	if err := cart.SetQuantity("item-0", 1); !errors.Is(err, ErrCartLocked) {
		t.Fatalf("set: expected ErrCartLocked, got %v", err)
	}
	if err := cart.RemoveLine("item-0"); !errors.Is(err, ErrCartLocked) {
		t.Fatalf("remove: expected ErrCartLocked, got %v", err)
	}

	if !cart.Unlock() {
		t.Fatalf("expected locked cart to unlock")
	}
	if cart.Locked() || cart.InvoiceID() != "" || cart.Len() != 0 {
		t.Fatalf("expected unlocked empty cart")
	}
	if err := cart.AddLine(testProduct("new", 10, 5)); err != nil {
		t.Fatalf("add after unlock: %v", err)
	}
}

func TestUnlockLeavesAdHocCartAlone(t *testing.T) {
	var cart Cart
	if err := cart.AddLine(testProduct("wiper", 700, 3)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if cart.Unlock() {
		t.Fatalf("expected unlock of an unlocked cart to report false")
	}
	if cart.Len() != 1 {
		t.Fatalf("expected lines to survive, got %+v", cart.Lines())
	}
}
