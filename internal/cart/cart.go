// Package cart holds the per-session shopping cart value object.
package cart

import (
	"slices"

	"loja/backend/internal/domain"
)

// Cart is an ordered list of product and combo entries. Each (kind, id) pair appears at most once.
type Cart struct {
	entries []domain.CartEntry
}

func New(entries []domain.CartEntry) *Cart {
	c := &Cart{}
	for _, entry := range entries {
		if entry.Quantity < 1 || !ValidKind(entry.Kind) {
			continue
		}
		if entry.Quantity > domain.MaxQuantity-c.Quantity(entry.Kind, entry.ID) {
			continue
		}
		c.Add(entry.Kind, entry.ID, entry.Quantity)
	}
	return c
}

func ValidKind(kind string) bool {
	return kind == domain.CartKindProduct || kind == domain.CartKindCombo
}

// Add merges qty into an existing entry or appends a new one.
func (c *Cart) Add(kind string, id int64, qty int) {
	for i := range c.entries {
		if c.entries[i].Kind == kind && c.entries[i].ID == id {
			c.entries[i].Quantity += qty
			return
		}
	}
	c.entries = append(c.entries, domain.CartEntry{Kind: kind, ID: id, Quantity: qty})
}

// Remove drops every entry matching kind and id.
func (c *Cart) Remove(kind string, id int64) {
	c.entries = slices.DeleteFunc(c.entries, func(entry domain.CartEntry) bool {
		return entry.Kind == kind && entry.ID == id
	})
}

func (c *Cart) Quantity(kind string, id int64) int {
	for _, entry := range c.entries {
		if entry.Kind == kind && entry.ID == id {
			return entry.Quantity
		}
	}
	return 0
}

func (c *Cart) Entries() []domain.CartEntry {
	return slices.Clone(c.entries)
}

func (c *Cart) Len() int {
	return len(c.entries)
}

func (c *Cart) Clear() {
	c.entries = nil
}
