package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MaxQuantity bounds a single line, the per-item total of one invoice and a
// single stock adjustment. It stays well inside the INTEGER quantity column.
const MaxQuantity = 1_000_000

var ErrInvalidQuantity = errors.New("quantity out of range")

// AddQuantity adds qty to total, rejecting non-positive quantities and totals
// above MaxQuantity.
func AddQuantity(total, qty int) (int, error) {
	if qty <= 0 || qty > MaxQuantity || total > MaxQuantity-qty {
		return total, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return total + qty, nil
}

const (
	ErrMsgItemNotFound          = "Item not found"
	ErrMsgInsufficientInventory = "Insufficient inventory"
)

// UnavailableItem describes one line that cannot be satisfied from stock.
type UnavailableItem struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Error     string `json:"error"`
}

type InsufficientInventoryError struct {
	Items []UnavailableItem
}

func (e *InsufficientInventoryError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		if item.Error == ErrMsgItemNotFound {
			parts = append(parts, fmt.Sprintf("item %d: %s", item.ItemID, item.Error))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s): requested %d, available %d", item.SKU, item.Name, item.Requested, item.Available))
	}
	return "insufficient inventory: " + strings.Join(parts, "; ")
}
