package model

import "time"

// CartItem is one line of a cart. At most one item per ProductID.
type CartItem struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

// CartDocument is the stored cart of one user, keyed by owner id.
type CartDocument struct {
	OwnerID   string     `json:"owner_id"`
	Items     []CartItem `json:"items"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// TotalQuantity sums the quantities of all items.
func TotalQuantity(items []CartItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func (c CartDocument) TotalQuantity() int {
	return TotalQuantity(c.Items)
}

func (c CartDocument) Contains(productID string) bool {
	return IndexOf(c.Items, productID) >= 0
}

func IndexOf(items []CartItem, productID string) int {
	for i, item := range items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// CloneItems copies items so callers can't alias another owner's slice.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

// AddProduct returns a new list where the product's quantity is one higher,
// appending a new line if the product was not in the cart.
func AddProduct(items []CartItem, product Product) []CartItem {
	out := CloneItems(items)
	if i := IndexOf(out, product.ID); i >= 0 {
		out[i].Quantity++
		return out
	}
	return append(out, CartItem{ProductID: product.ID, Name: product.Name, Quantity: 1})
}

// RemoveProduct returns a new list without productID. removed is false, and
// items is returned unchanged, when the product was not in the cart.
func RemoveProduct(items []CartItem, productID string) (out []CartItem, removed bool) {
	if IndexOf(items, productID) < 0 {
		return items, false
	}
	out = make([]CartItem, 0, len(items)-1)
	for _, item := range items {
		if item.ProductID != productID {
			out = append(out, item)
		}
	}
	return out, true
}
