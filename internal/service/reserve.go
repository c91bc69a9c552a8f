package service

import (
	"context"

	"loja/backend/internal/cart"
	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

// checkReservation verifies that on-hand stock covers what the cart would hold after adding qty.
// Quantities held by other sessions' carts are not subtracted.
func checkReservation(ctx context.Context, repo store.Repository, c *cart.Cart, kind string, id int64, qty int) error {
	held := c.Quantity(kind, id)
	if qty > domain.MaxQuantity-held {
		return store.Invalid("cart quantity must not exceed %d", domain.MaxQuantity)
	}
	requested := held + qty

	switch kind {
	case domain.CartKindProduct:
		product, err := repo.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if requested > product.Quantity {
			return &store.StockError{ProductID: product.ID, Product: product.Name, OnHand: product.Quantity, Requested: requested}
		}
		return nil

	case domain.CartKindCombo:
		combo, err := repo.GetCombo(ctx, id)
		if err != nil {
			return err
		}
		return checkComboStock(ctx, repo, *combo, requested)
	}
	return store.Invalid("unknown cart item kind %q", kind)
}

// checkComboStock fails with the first constituent whose on-hand stock cannot cover qty combos.
// Constituents whose product no longer exists are ignored.
func checkComboStock(ctx context.Context, repo store.Repository, combo domain.Combo, qty int) error {
	requirements, err := expandCombo(combo, qty)
	if err != nil {
		return err
	}
	for _, requirement := range requirements {
		product, err := lookup(repo.GetProduct(ctx, requirement.ProductID))
		if err != nil {
			return err
		}
		if product == nil {
			continue
		}
		if requirement.Quantity > product.Quantity {
			return &store.StockError{
				ProductID: product.ID,
				Product:   product.Name,
				Combo:     combo.Name,
				OnHand:    product.Quantity,
				Requested: requirement.Quantity,
			}
		}
	}
	return nil
}
