package service

import (
	"context"
	"fmt"
	"strings"

	"loja/backend/internal/domain"
	"loja/backend/internal/pricing"
	"loja/backend/internal/store"
)

func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Order == "" {
		filter.Order = store.OrderNewest
	}
	txs, err := s.repo.ListTransactions(ctx, filter)
	return nonNil(txs), err
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// UpdateTransaction rewrites header fields and recomputes the total from the stored
// line totals. Lines and stock are never touched.
func (s *Service) UpdateTransaction(ctx context.Context, id int64, req domain.TransactionUpdateRequest) (domain.Transaction, error) {
	switch req.Kind {
	case domain.KindSale, domain.KindRental, domain.KindQuote:
	default:
		return domain.Transaction{}, store.Invalid("kind must be sale, rental or quote")
	}
	switch req.Status {
	case domain.StatusFinalized, domain.StatusActive, domain.StatusQuote:
	default:
		return domain.Transaction{}, store.Invalid("status must be finalized, active or quote")
	}
	fees := pricing.Fees{
		ShippingCents: req.ShippingCents,
		ServiceCents:  req.ServiceCents,
		AssemblyCents: req.AssemblyCents,
		DiscountCents: req.DiscountCents,
	}
	if err := validateFees(fees); err != nil {
		return domain.Transaction{}, err
	}
	startDate, endDate, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return domain.Transaction{}, err
	}

	var saved *domain.Transaction
	err = s.repo.WithinTx(ctx, func(tx store.Repository) error {
		existing, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if req.CustomerID != existing.CustomerID {
			if _, err := tx.GetCustomer(ctx, req.CustomerID); err != nil {
				return err
			}
		}

		existing.CustomerID = req.CustomerID
		existing.Kind = req.Kind
		existing.Status = req.Status
		existing.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
		existing.StartDate = startDate
		existing.EndDate = endDate
		existing.ShippingCents = req.ShippingCents
		existing.DiscountCents = req.DiscountCents
		existing.ServiceCents = req.ServiceCents
		existing.AssemblyCents = req.AssemblyCents
		existing.TotalCents = pricing.TransactionTotal(existing.ItemsTotalCents(), fees)

		saved, err = tx.UpdateTransaction(ctx, *existing)
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_update", "transaction", fmt.Sprint(id), fmt.Sprintf("kind=%s,status=%s,total=%d", saved.Kind, saved.Status, saved.TotalCents))
	return *saved, nil
}

// DeleteTransaction removes the transaction and its lines without restoring stock.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "transaction_delete", "transaction", fmt.Sprint(id), "")
	return nil
}
