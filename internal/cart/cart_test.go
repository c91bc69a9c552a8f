package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loja/backend/internal/domain"
)

func TestAddMergesExistingEntry(t *testing.T) {
	c := New(nil)
	c.Add(domain.CartKindProduct, 1, 2)
	c.Add(domain.CartKindCombo, 1, 1)
	c.Add(domain.CartKindProduct, 1, 3)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.CartEntry{Kind: domain.CartKindProduct, ID: 1, Quantity: 5}, entries[0])
	assert.Equal(t, domain.CartEntry{Kind: domain.CartKindCombo, ID: 1, Quantity: 1}, entries[1])
	assert.Equal(t, 5, c.Quantity(domain.CartKindProduct, 1))
	assert.Equal(t, 0, c.Quantity(domain.CartKindProduct, 2))
}

func TestRemoveIsIdempotent(t *testing.T) {
	c := New([]domain.CartEntry{
		{Kind: domain.CartKindProduct, ID: 1, Quantity: 1},
		{Kind: domain.CartKindProduct, ID: 2, Quantity: 1},
	})

	c.Remove(domain.CartKindProduct, 1)
	c.Remove(domain.CartKindProduct, 1)
	c.Remove(domain.CartKindCombo, 2)

	require.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Entries()[0].ID)
}

func TestNewNormalizesEntries(t *testing.T) {
	c := New([]domain.CartEntry{
		{Kind: domain.CartKindProduct, ID: 1, Quantity: 1},
		{Kind: "service", ID: 9, Quantity: 1},
		{Kind: domain.CartKindProduct, ID: 3, Quantity: 0},
		{Kind: domain.CartKindProduct, ID: 1, Quantity: 2},
	})

	assert.Equal(t, []domain.CartEntry{{Kind: domain.CartKindProduct, ID: 1, Quantity: 3}}, c.Entries())
}

func TestEntriesReturnsCopy(t *testing.T) {
	c := New(nil)
	c.Add(domain.CartKindProduct, 1, 1)

	entries := c.Entries()
	entries[0].Quantity = 99

	assert.Equal(t, 1, c.Quantity(domain.CartKindProduct, 1))
	c.Clear()
	assert.Zero(t, c.Len())
}

func TestNewDropsEntriesPastMaximum(t *testing.T) {
	c := New([]domain.CartEntry{
		{Kind: domain.CartKindProduct, ID: 1, Quantity: 2},
		{Kind: domain.CartKindProduct, ID: 1, Quantity: domain.MaxQuantity},
		{Kind: domain.CartKindCombo, ID: 2, Quantity: domain.MaxQuantity},
	})

	assert.Equal(t, 2, c.Quantity(domain.CartKindProduct, 1))
	assert.Equal(t, domain.MaxQuantity, c.Quantity(domain.CartKindCombo, 2))
}
