package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"loja/backend/internal/domain"
	"loja/backend/internal/pricing"
	"loja/backend/internal/store"
)

const quotePaymentMethod = "N/A"

// Finalize turns the session cart into a sale or rental. Stock is re-checked and
// decremented in the same unit of work that records the transaction, so a shortfall
// on any entry leaves no trace. The cart is cleared only after the commit.
func (s *Service) Finalize(ctx context.Context, sessionID string, req domain.FinalizeRequest) (domain.Transaction, error) {
	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if c.Len() == 0 {
		return domain.Transaction{}, ErrEmptyCart
	}

	header, fees, err := s.finalizeHeader(req)
	if err != nil {
		return domain.Transaction{}, err
	}

	var created *domain.Transaction
	err = s.repo.WithinTx(ctx, func(tx store.Repository) error {
		if _, err := tx.GetCustomer(ctx, header.CustomerID); err != nil {
			return err
		}
		saved, err := tx.CreateTransaction(ctx, header)
		if err != nil {
			return err
		}

		var itemsTotal int64
		for _, entry := range c.Entries() {
			item, err := s.commitEntry(ctx, tx, saved.ID, entry)
			if err != nil {
				return err
			}
			itemsTotal += item.LineTotalCents
		}

		saved.TotalCents = pricing.TransactionTotal(itemsTotal, fees)
		created, err = tx.UpdateTransaction(ctx, *saved)
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.dropCart(ctx, sessionID)
	s.logAudit(ctx, "transaction_finalize", "transaction", fmt.Sprint(created.ID), fmt.Sprintf("kind=%s,items=%d,total=%d", created.Kind, len(created.Items), created.TotalCents))
	return *created, nil
}

// SaveQuote records the cart as a quote. Stock is neither checked nor touched and
// entries whose product or combo has disappeared are left out.
func (s *Service) SaveQuote(ctx context.Context, sessionID string, req domain.QuoteRequest) (domain.Transaction, error) {
	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if c.Len() == 0 {
		return domain.Transaction{}, ErrEmptyCart
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

	header := domain.Transaction{
		CustomerID:    req.CustomerID,
		Kind:          domain.KindQuote,
		Status:        domain.StatusQuote,
		CreatedAt:     s.now().UTC(),
		ShippingCents: req.ShippingCents,
		DiscountCents: req.DiscountCents,
		ServiceCents:  req.ServiceCents,
		AssemblyCents: req.AssemblyCents,
		PaymentMethod: quotePaymentMethod,
	}

	var created *domain.Transaction
	err = s.repo.WithinTx(ctx, func(tx store.Repository) error {
		if _, err := tx.GetCustomer(ctx, header.CustomerID); err != nil {
			return err
		}
		saved, err := tx.CreateTransaction(ctx, header)
		if err != nil {
			return err
		}

		var itemsTotal int64
		for _, entry := range c.Entries() {
			item, ok, err := snapshotEntry(ctx, tx, saved.ID, entry)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := tx.CreateTransactionItem(ctx, item); err != nil {
				return err
			}
			itemsTotal += item.LineTotalCents
		}

		saved.TotalCents = pricing.TransactionTotal(itemsTotal, fees)
		created, err = tx.UpdateTransaction(ctx, *saved)
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.dropCart(ctx, sessionID)
	s.logAudit(ctx, "quote_save", "transaction", fmt.Sprint(created.ID), fmt.Sprintf("items=%d,total=%d", len(created.Items), created.TotalCents))
	return *created, nil
}

func (s *Service) finalizeHeader(req domain.FinalizeRequest) (domain.Transaction, pricing.Fees, error) {
	var status string
	switch req.Kind {
	case domain.KindSale:
		status = domain.StatusFinalized
	case domain.KindRental:
		status = domain.StatusActive
	default:
		return domain.Transaction{}, pricing.Fees{}, store.Invalid("kind must be sale or rental")
	}

	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		return domain.Transaction{}, pricing.Fees{}, store.Invalid("payment method is required")
	}

	fees := pricing.Fees{
		ShippingCents: req.ShippingCents,
		ServiceCents:  req.ServiceCents,
		AssemblyCents: req.AssemblyCents,
		DiscountCents: req.DiscountCents,
	}
	if err := validateFees(fees); err != nil {
		return domain.Transaction{}, pricing.Fees{}, err
	}

	startDate, endDate, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return domain.Transaction{}, pricing.Fees{}, err
	}

	return domain.Transaction{
		CustomerID:    req.CustomerID,
		Kind:          req.Kind,
		Status:        status,
		CreatedAt:     s.now().UTC(),
		StartDate:     startDate,
		EndDate:       endDate,
		ShippingCents: req.ShippingCents,
		DiscountCents: req.DiscountCents,
		ServiceCents:  req.ServiceCents,
		AssemblyCents: req.AssemblyCents,
		PaymentMethod: paymentMethod,
	}, fees, nil
}

// commitEntry checks stock for one cart entry, records its line and takes the stock.
func (s *Service) commitEntry(ctx context.Context, tx store.Repository, transactionID int64, entry domain.CartEntry) (domain.TransactionItem, error) {
	switch entry.Kind {
	case domain.CartKindProduct:
		product, err := tx.GetProduct(ctx, entry.ID)
		if err != nil {
			return domain.TransactionItem{}, err
		}
		if product.Quantity < entry.Quantity {
			return domain.TransactionItem{}, &store.StockError{ProductID: product.ID, Product: product.Name, OnHand: product.Quantity, Requested: entry.Quantity}
		}
		item, err := tx.CreateTransactionItem(ctx, productItem(transactionID, *product, entry.Quantity))
		if err != nil {
			return domain.TransactionItem{}, err
		}
		if _, err := tx.AddProductStock(ctx, product.ID, -entry.Quantity); err != nil {
			return domain.TransactionItem{}, err
		}
		return *item, nil

	case domain.CartKindCombo:
		combo, err := tx.GetCombo(ctx, entry.ID)
		if err != nil {
			return domain.TransactionItem{}, err
		}
		if err := checkComboStock(ctx, tx, *combo, entry.Quantity); err != nil {
			return domain.TransactionItem{}, err
		}
		item, err := tx.CreateTransactionItem(ctx, comboItem(transactionID, *combo, entry.Quantity))
		if err != nil {
			return domain.TransactionItem{}, err
		}
		if err := moveComboStock(ctx, tx, *combo, entry.Quantity, -1); err != nil {
			return domain.TransactionItem{}, err
		}
		return *item, nil
	}
	return domain.TransactionItem{}, store.Invalid("unknown cart item kind %q", entry.Kind)
}

// snapshotEntry prices an entry without touching stock. ok is false when the source is gone.
func snapshotEntry(ctx context.Context, repo store.Repository, transactionID int64, entry domain.CartEntry) (domain.TransactionItem, bool, error) {
	switch entry.Kind {
	case domain.CartKindProduct:
		product, err := lookup(repo.GetProduct(ctx, entry.ID))
		if err != nil || product == nil {
			return domain.TransactionItem{}, false, err
		}
		return productItem(transactionID, *product, entry.Quantity), true, nil
	case domain.CartKindCombo:
		combo, err := lookup(repo.GetCombo(ctx, entry.ID))
		if err != nil || combo == nil {
			return domain.TransactionItem{}, false, err
		}
		return comboItem(transactionID, *combo, entry.Quantity), true, nil
	}
	return domain.TransactionItem{}, false, nil
}

// moveComboStock shifts stock of every existing constituent by sign × item quantity × qty.
func moveComboStock(ctx context.Context, repo store.Repository, combo domain.Combo, qty int, sign int) error {
	requirements, err := expandCombo(combo, qty)
	if err != nil {
		return err
	}
	for _, requirement := range requirements {
		_, err := lookup(repo.AddProductStock(ctx, requirement.ProductID, sign*requirement.Quantity))
		if err != nil {
			return err
		}
	}
	return nil
}

func productItem(transactionID int64, product domain.Product, qty int) domain.TransactionItem {
	productID := product.ID
	return domain.TransactionItem{
		TransactionID:  transactionID,
		ProductID:      &productID,
		Name:           product.Name,
		Quantity:       qty,
		UnitPriceCents: product.PriceCents,
		LineTotalCents: pricing.LineTotal(product.PriceCents, qty),
	}
}

func comboItem(transactionID int64, combo domain.Combo, qty int) domain.TransactionItem {
	comboID := combo.ID
	return domain.TransactionItem{
		TransactionID:  transactionID,
		ComboID:        &comboID,
		Name:           combo.Name,
		Quantity:       qty,
		UnitPriceCents: combo.PriceCents,
		LineTotalCents: pricing.LineTotal(combo.PriceCents, qty),
	}
}

func (s *Service) dropCart(ctx context.Context, sessionID string) {
	if err := s.carts.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to clear cart", zap.String("session", sessionID), zap.Error(err))
	}
}
