package checkout

import (
	"fmt"

	"partsdesk/checkout/internal/domain"
)

// Cart holds the lines of one checkout. It performs no I/O and is not safe
// for concurrent use; Session serializes access to it.
type Cart struct {
	lines     []domain.CartLine
	locked    bool
	invoiceID string
}

func (c *Cart) AddLine(product domain.Product) error {
	return c.AddLineQty(product, 1)
}

// AddLineQty adds qty units of product, merging into an existing line. The
// resulting quantity must fit in stock or the cart is left unchanged.
func (c *Cart) AddLineQty(product domain.Product, qty int) error {
	if c.locked {
		return ErrCartLocked
	}
	if qty < 1 {
		qty = 1
	}
	if idx := c.indexOf(product.ID); idx >= 0 {
		next := c.lines[idx].Quantity + qty
		if next > c.lines[idx].Product.Stock {
			return fmt.Errorf("%s: only %d in stock: %w", product.PartNumber, c.lines[idx].Product.Stock, ErrStockExceeded)
		}
		c.lines[idx].Quantity = next
		return nil
	}
	if product.Stock < 1 {
		return fmt.Errorf("%s: %w", product.PartNumber, ErrProductNotAvailable)
	}
	if qty > product.Stock {
		return fmt.Errorf("%s: only %d in stock: %w", product.PartNumber, product.Stock, ErrStockExceeded)
	}
	c.lines = append(c.lines, domain.CartLine{Product: product, Quantity: qty})
	return nil
}

// SetQuantity removes the line when qty < 1. A line that is not in the cart
// is left alone.
func (c *Cart) SetQuantity(productID string, qty int) error {
	if c.locked {
		return ErrCartLocked
	}
	idx := c.indexOf(productID)
	if idx < 0 {
		return nil
	}
	if qty < 1 {
		c.removeAt(idx)
		return nil
	}
	if qty > c.lines[idx].Product.Stock {
		return fmt.Errorf("%s: only %d in stock: %w", c.lines[idx].Product.PartNumber, c.lines[idx].Product.Stock, ErrStockExceeded)
	}
	c.lines[idx].Quantity = qty
	return nil
}

func (c *Cart) RemoveLine(productID string) error {
	if c.locked {
		return ErrCartLocked
	}
	if idx := c.indexOf(productID); idx >= 0 {
		c.removeAt(idx)
	}
	return nil
}

// LoadFromInvoice replaces the cart with the invoice's stored lines and
// locks it until Unlock.
func (c *Cart) LoadFromInvoice(invoice domain.Invoice) {
	lines := make([]domain.CartLine, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		lines = append(lines, domain.CartLine{
			Product: domain.Product{
				ID:          item.ProductID,
				PartNumber:  item.PartNumber,
				Name:        item.Name,
				RetailPrice: item.UnitPrice,
				Stock:       item.Quantity,
			},
			Quantity: item.Quantity,
		})
	}
	c.lines = lines
	c.locked = true
	c.invoiceID = invoice.ID
}

// Unlock clears an invoice-locked cart. It reports false and leaves an
// unlocked cart alone.
func (c *Cart) Unlock() bool {
	if !c.locked {
		return false
	}
	c.Clear()
	return true
}

func (c *Cart) Clear() {
	c.lines = nil
	c.locked = false
	c.invoiceID = ""
}

func (c *Cart) Locked() bool {
	return c.locked
}

func (c *Cart) InvoiceID() string {
	return c.invoiceID
}

func (c *Cart) Len() int {
	return len(c.lines)
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) indexOf(productID string) int {
	for i, line := range c.lines {
		if line.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(idx int) {
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}
