package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddProduct(t *testing.T) {
	widget := Product{ID: "a", Name: "Widget"}

	tests := []struct {
		name  string
		items []CartItem
		want  []CartItem
	}{
		{
			name:  "new product appended",
			items: []CartItem{},
			want:  []CartItem{{ProductID: "a", Name: "Widget", Quantity: 1}},
		},
		{
			name:  "existing product incremented",
			items: []CartItem{{ProductID: "a", Name: "Widget", Quantity: 1}},
			want:  []CartItem{{ProductID: "a", Name: "Widget", Quantity: 2}},
		},
		{
			name:  "order preserved",
			items: []CartItem{{ProductID: "b", Name: "Bolt", Quantity: 3}},
			want: []CartItem{
				{ProductID: "b", Name: "Bolt", Quantity: 3},
				{ProductID: "a", Name: "Widget", Quantity: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := CloneItems(tt.items)
			got := AddProduct(tt.items, widget)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, before, tt.items, "input must not be mutated")
		})
	}
}

func TestAddTwiceGivesSingleEntry(t *testing.T) {
	items := AddProduct(nil, Product{ID: "a", Name: "Widget"})
	items = AddProduct(items, Product{ID: "a", Name: "Widget"})

	assert.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestRemoveProduct(t *testing.T) {
	items := []CartItem{
		{ProductID: "a", Name: "Widget", Quantity: 2},
		{ProductID: "b", Name: "Bolt", Quantity: 1},
	}

	out, removed := RemoveProduct(items, "a")
	assert.True(t, removed)
	assert.Equal(t, []CartItem{{ProductID: "b", Name: "Bolt", Quantity: 1}}, out)
	assert.Len(t, items, 2)

	out, removed = RemoveProduct(items, "missing")
	assert.False(t, removed)
	assert.Equal(t, items, out)
}

func TestTotalQuantity(t *testing.T) {
	cart := CartDocument{Items: []CartItem{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 3},
	}}
	assert.Equal(t, 5, cart.TotalQuantity())
	assert.True(t, cart.Contains("b"))
	assert.False(t, cart.Contains("c"))
	assert.Equal(t, 0, TotalQuantity(nil))
}
