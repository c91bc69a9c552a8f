package service

import (
	"context"
	"fmt"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

// FinishRental returns a rental's stock and marks it finalized. Combo lines are
// expanded against the combo's current items. Only active rentals can be finished
// unless legacy mode is on, in which case every call restores stock again.
func (s *Service) FinishRental(ctx context.Context, id int64) (domain.Transaction, error) {
	var finished *domain.Transaction
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		rental, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if rental.Kind != domain.KindRental {
			return store.Invalid("transaction %d is not a rental", id)
		}
		if rental.Status != domain.StatusActive && !s.legacyRentalFinish {
			return store.Invalid("rental %d is not active", id)
		}

		for _, item := range rental.Items {
			if err := restoreItemStock(ctx, tx, item); err != nil {
				return err
			}
		}

		rental.Status = domain.StatusFinalized
		finished, err = tx.UpdateTransaction(ctx, *rental)
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "rental_finish", "transaction", fmt.Sprint(id), fmt.Sprintf("items=%d", len(finished.Items)))
	return *finished, nil
}

func restoreItemStock(ctx context.Context, tx store.Repository, item domain.TransactionItem) error {
	switch {
	case item.ProductID != nil:
		_, err := lookup(tx.AddProductStock(ctx, *item.ProductID, item.Quantity))
		return err
	case item.ComboID != nil:
		combo, err := lookup(tx.GetCombo(ctx, *item.ComboID))
		if err != nil || combo == nil {
			return err
		}
		return moveComboStock(ctx, tx, *combo, item.Quantity, 1)
	}
	return nil
}

// RentalAgenda lists active rentals by start date and finalized rentals newest first.
func (s *Service) RentalAgenda(ctx context.Context) (domain.RentalAgenda, error) {
	active, err := s.repo.ListTransactions(ctx, store.TransactionFilter{
		Kind:   domain.KindRental,
		Status: domain.StatusActive,
		Order:  store.OrderStartDate,
	})
	if err != nil {
		return domain.RentalAgenda{}, err
	}
	finalized, err := s.repo.ListTransactions(ctx, store.TransactionFilter{
		Kind:   domain.KindRental,
		Status: domain.StatusFinalized,
		Order:  store.OrderNewest,
	})
	if err != nil {
		return domain.RentalAgenda{}, err
	}
	return domain.RentalAgenda{Active: nonNil(active), Finalized: nonNil(finalized)}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
