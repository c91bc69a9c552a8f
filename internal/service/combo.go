package service

import (
	"context"
	"fmt"
	"strings"

	"loja/backend/internal/domain"
	"loja/backend/internal/pricing"
	"loja/backend/internal/store"
)

// expandCombo lists the stock each constituent product must cover for qty combos.
func expandCombo(combo domain.Combo, qty int) ([]pricing.Requirement, error) {
	requirements := make([]pricing.Requirement, 0, len(combo.Items))
	for _, item := range combo.Items {
		need, ok := mulQuantity(item.Quantity, qty)
		if !ok {
			return nil, store.Invalid("%d x combo %q exceeds the maximum quantity of %d", qty, combo.Name, domain.MaxQuantity)
		}
		requirements = append(requirements, pricing.Requirement{
			ProductID: item.ProductID,
			Quantity:  need,
		})
	}
	return requirements, nil
}

// mulQuantity multiplies two quantities, failing when the product leaves [0, MaxQuantity].
func mulQuantity(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a != 0 && b > domain.MaxQuantity/a {
		return 0, false
	}
	return a * b, true
}

func (s *Service) ListCombos(ctx context.Context) ([]domain.Combo, error) {
	return s.repo.ListCombos(ctx)
}

func (s *Service) GetCombo(ctx context.Context, id int64) (domain.ComboDetail, error) {
	combo, err := s.repo.GetCombo(ctx, id)
	if err != nil {
		return domain.ComboDetail{}, err
	}

	detail := domain.ComboDetail{Combo: *combo, Items: make([]domain.ComboItemView, 0, len(combo.Items))}
	for _, item := range combo.Items {
		product, err := lookup(s.repo.GetProduct(ctx, item.ProductID))
		if err != nil {
			return domain.ComboDetail{}, err
		}
		if product == nil {
			continue
		}
		detail.Items = append(detail.Items, domain.ComboItemView{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  item.Quantity,
		})
	}
	return detail, nil
}

func (s *Service) SearchCombos(ctx context.Context, term string) ([]domain.ComboSummary, error) {
	combos, err := s.repo.SearchCombos(ctx, term, searchLimit)
	if err != nil {
		return nil, err
	}
	results := make([]domain.ComboSummary, 0, len(combos))
	for _, combo := range combos {
		results = append(results, domain.ComboSummary{ID: combo.ID, Name: combo.Name, PriceCents: combo.PriceCents})
	}
	return results, nil
}

func (s *Service) CreateCombo(ctx context.Context, req domain.ComboRequest) (domain.Combo, error) {
	if err := validateComboRequest(req); err != nil {
		return domain.Combo{}, err
	}

	var created *domain.Combo
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		items, price, err := buildComboItems(ctx, tx, req.Items, req.ExtraFeeCents)
		if err != nil {
			return err
		}
		created, err = tx.CreateCombo(ctx, domain.Combo{
			Name:          strings.TrimSpace(req.Name),
			Note:          req.Note,
			ExtraFeeCents: req.ExtraFeeCents,
			PriceCents:    price,
			Items:         items,
		})
		return err
	})
	if err != nil {
		return domain.Combo{}, err
	}

	s.logAudit(ctx, "combo_create", "combo", fmt.Sprint(created.ID), fmt.Sprintf("items=%d,price=%d", len(created.Items), created.PriceCents))
	return *created, nil
}

// UpdateCombo replaces the combo's items and recomputes its price from current product prices.
func (s *Service) UpdateCombo(ctx context.Context, id int64, req domain.ComboRequest) (domain.Combo, error) {
	if err := validateComboRequest(req); err != nil {
		return domain.Combo{}, err
	}

	var saved *domain.Combo
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		if _, err := tx.GetCombo(ctx, id); err != nil {
			return err
		}
		items, price, err := buildComboItems(ctx, tx, req.Items, req.ExtraFeeCents)
		if err != nil {
			return err
		}
		saved, err = tx.UpdateCombo(ctx, domain.Combo{
			ID:            id,
			Name:          strings.TrimSpace(req.Name),
			Note:          req.Note,
			ExtraFeeCents: req.ExtraFeeCents,
			PriceCents:    price,
			Items:         items,
		})
		return err
	})
	if err != nil {
		return domain.Combo{}, err
	}

	s.logAudit(ctx, "combo_update", "combo", fmt.Sprint(saved.ID), fmt.Sprintf("items=%d,price=%d", len(saved.Items), saved.PriceCents))
	return *saved, nil
}

func (s *Service) DeleteCombo(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCombo(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "combo_delete", "combo", fmt.Sprint(id), "")
	return nil
}

// repriceCombos recomputes the price of every combo containing productID.
func (s *Service) repriceCombos(ctx context.Context, tx store.Repository, productID int64) error {
	combos, err := tx.ListCombosByProduct(ctx, productID)
	if err != nil {
		return err
	}
	for _, combo := range combos {
		lines, err := comboLines(ctx, tx, combo.Items)
		if err != nil {
			return err
		}
		price := pricing.ComboPrice(lines, combo.ExtraFeeCents)
		if price == combo.PriceCents {
			continue
		}
		combo.PriceCents = price
		if _, err := tx.UpdateCombo(ctx, combo); err != nil {
			return err
		}
	}
	return nil
}

func validateComboRequest(req domain.ComboRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return store.Invalid("name is required")
	}
	if req.ExtraFeeCents < 0 {
		return store.Invalid("extra fee must not be negative")
	}
	return nil
}

// buildComboItems merges duplicate products and drops entries with no quantity or no product.
func buildComboItems(ctx context.Context, repo store.Repository, requested []domain.ComboItemRequest, extraFeeCents int64) ([]domain.ComboItem, int64, error) {
	var items []domain.ComboItem
	index := make(map[int64]int, len(requested))
	for _, req := range requested {
		if req.Quantity < 1 {
			continue
		}
		if req.Quantity > domain.MaxQuantity {
			return nil, 0, store.Invalid("item quantity must not exceed %d", domain.MaxQuantity)
		}
		if i, ok := index[req.ProductID]; ok {
			if req.Quantity > domain.MaxQuantity-items[i].Quantity {
				return nil, 0, store.Invalid("item quantity must not exceed %d", domain.MaxQuantity)
			}
			items[i].Quantity += req.Quantity
			continue
		}
		product, err := lookup(repo.GetProduct(ctx, req.ProductID))
		if err != nil {
			return nil, 0, err
		}
		if product == nil {
			continue
		}
		index[req.ProductID] = len(items)
		items = append(items, domain.ComboItem{ProductID: product.ID, Quantity: req.Quantity})
	}

	lines, err := comboLines(ctx, repo, items)
	if err != nil {
		return nil, 0, err
	}
	return items, pricing.ComboPrice(lines, extraFeeCents), nil
}

func comboLines(ctx context.Context, repo store.Repository, items []domain.ComboItem) ([]pricing.ComboLine, error) {
	lines := make([]pricing.ComboLine, 0, len(items))
	for _, item := range items {
		product, err := lookup(repo.GetProduct(ctx, item.ProductID))
		if err != nil {
			return nil, err
		}
		if product == nil {
			continue
		}
		lines = append(lines, pricing.ComboLine{UnitPriceCents: product.PriceCents, Quantity: item.Quantity})
	}
	return lines, nil
}
