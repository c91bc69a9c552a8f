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

const searchLimit = 20

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	product, err := productFromRequest(req)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", fmt.Sprint(created.ID), fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Quantity))
	return *created, nil
}

// UpdateProduct replaces every editable field, recomputes the sale price and
// reprices the combos that contain the product.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductRequest) (domain.Product, error) {
	product, err := productFromRequest(req)
	if err != nil {
		return domain.Product{}, err
	}

	var saved *domain.Product
	err = s.repo.WithinTx(ctx, func(tx store.Repository) error {
		existing, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		product.ID = existing.ID
		product.Photo = existing.Photo

		saved, err = tx.UpdateProduct(ctx, product)
		if err != nil {
			return err
		}
		return s.repriceCombos(ctx, tx, id)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", fmt.Sprint(saved.ID), fmt.Sprintf("price=%d,margin=%.2f,stock=%d", saved.PriceCents, saved.MarginPercent, saved.Quantity))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		if err := tx.DeleteProduct(ctx, id); err != nil {
			return err
		}
		return s.repriceCombos(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", fmt.Sprint(id), "")
	return nil
}

func (s *Service) SetProductPhoto(ctx context.Context, id int64, photo string) (domain.Product, error) {
	var saved *domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		product, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		product.Photo = photo
		saved, err = tx.UpdateProduct(ctx, *product)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

// AdjustStock adds or removes on-hand units. Removing more than on hand fails and changes nothing.
func (s *Service) AdjustStock(ctx context.Context, id int64, req domain.StockAdjustRequest) (domain.Product, error) {
	if req.Quantity < 1 || req.Quantity > domain.MaxQuantity {
		return domain.Product{}, store.Invalid("quantity must be between 1 and %d", domain.MaxQuantity)
	}

	delta := req.Quantity
	switch req.Action {
	case domain.StockActionAdd:
	case domain.StockActionRemove:
		delta = -req.Quantity
	default:
		return domain.Product{}, store.Invalid("action must be add or remove")
	}

	var adjusted *domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		var err error
		adjusted, err = tx.AddProductStock(ctx, id, delta)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", fmt.Sprint(id), fmt.Sprintf("action=%s,qty=%d,on_hand=%d", req.Action, req.Quantity, adjusted.Quantity))
	return *adjusted, nil
}

// SearchProducts matches names and reports stock minus what the session's own cart already holds.
func (s *Service) SearchProducts(ctx context.Context, sessionID string, term string) ([]domain.ProductAvailability, error) {
	products, err := s.repo.SearchProducts(ctx, term, searchLimit)
	if err != nil {
		return nil, err
	}

	held := map[int64]int{}
	if sessionID != "" {
		c, err := s.loadCart(ctx, sessionID)
		if err != nil {
			s.logger.Warn("cart unavailable for search", zap.String("session", sessionID), zap.Error(err))
		} else {
			for _, entry := range c.Entries() {
				if entry.Kind == domain.CartKindProduct {
					held[entry.ID] = entry.Quantity
				}
			}
		}
	}

	results := make([]domain.ProductAvailability, 0, len(products))
	for _, product := range products {
		available := product.Quantity - held[product.ID]
		results = append(results, domain.ProductAvailability{
			ID:         product.ID,
			Name:       product.Name,
			Available:  available,
			PriceCents: product.PriceCents,
		})
	}
	return results, nil
}

func productFromRequest(req domain.ProductRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, store.Invalid("name is required")
	}
	if req.Quantity < 0 || req.Quantity > domain.MaxQuantity {
		return domain.Product{}, store.Invalid("quantity must be between 0 and %d", domain.MaxQuantity)
	}
	if req.CostCents < 0 {
		return domain.Product{}, store.Invalid("cost must not be negative")
	}

	return domain.Product{
		Name:          name,
		Quantity:      req.Quantity,
		Category:      strings.TrimSpace(req.Category),
		CostCents:     req.CostCents,
		MarginPercent: req.MarginPercent,
		PriceCents:    pricing.SalePrice(req.CostCents, req.MarginPercent),
	}, nil
}
