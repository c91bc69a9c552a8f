package service

import (
	"context"
	"fmt"
	"iter"

	"loja/backend/internal/cart"
	"loja/backend/internal/domain"
	"loja/backend/internal/pricing"
	"loja/backend/internal/store"
)

func (s *Service) loadCart(ctx context.Context, sessionID string) (*cart.Cart, error) {
	if err := requireSession(sessionID); err != nil {
		return nil, err
	}
	entries, err := s.carts.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart.New(entries), nil
}

// AddToCart runs the reservation check and only then merges the entry into the session cart.
func (s *Service) AddToCart(ctx context.Context, sessionID string, req domain.CartAddRequest) (domain.CartView, error) {
	if !cart.ValidKind(req.Kind) {
		return domain.CartView{}, store.Invalid("kind must be product or combo")
	}
	if req.Quantity < 1 || req.Quantity > domain.MaxQuantity {
		return domain.CartView{}, store.Invalid("quantity must be between 1 and %d", domain.MaxQuantity)
	}

	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	if err := checkReservation(ctx, s.repo, c, req.Kind, req.ID, req.Quantity); err != nil {
		return domain.CartView{}, err
	}

	c.Add(req.Kind, req.ID, req.Quantity)
	if err := s.carts.Save(ctx, sessionID, c.Entries()); err != nil {
		return domain.CartView{}, fmt.Errorf("save cart: %w", err)
	}
	return s.CartView(ctx, sessionID)
}

func (s *Service) RemoveFromCart(ctx context.Context, sessionID string, kind string, id int64) (domain.CartView, error) {
	c, err := s.loadCart(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	c.Remove(kind, id)
	if err := s.carts.Save(ctx, sessionID, c.Entries()); err != nil {
		return domain.CartView{}, fmt.Errorf("save cart: %w", err)
	}
	return s.CartView(ctx, sessionID)
}

func (s *Service) ClearCart(ctx context.Context, sessionID string) error {
	if err := requireSession(sessionID); err != nil {
		return err
	}
	return s.carts.Delete(ctx, sessionID)
}

// CartLines resolves each cart entry against the catalogue as it is iterated.
// Entries whose product or combo no longer exists are skipped.
func (s *Service) CartLines(ctx context.Context, sessionID string) iter.Seq2[domain.CartLine, error] {
	return func(yield func(domain.CartLine, error) bool) {
		c, err := s.loadCart(ctx, sessionID)
		if err != nil {
			yield(domain.CartLine{}, err)
			return
		}

		for _, entry := range c.Entries() {
			line, ok, err := s.resolveCartLine(ctx, entry)
			if err != nil {
				yield(domain.CartLine{}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

func (s *Service) CartView(ctx context.Context, sessionID string) (domain.CartView, error) {
	view := domain.CartView{Lines: []domain.CartLine{}}
	for line, err := range s.CartLines(ctx, sessionID) {
		if err != nil {
			return domain.CartView{}, err
		}
		view.Lines = append(view.Lines, line)
		view.TotalCents += line.LineTotalCents
	}
	return view, nil
}

func (s *Service) resolveCartLine(ctx context.Context, entry domain.CartEntry) (domain.CartLine, bool, error) {
	line := domain.CartLine{Kind: entry.Kind, ID: entry.ID, Quantity: entry.Quantity}

	switch entry.Kind {
	case domain.CartKindProduct:
		product, err := lookup(s.repo.GetProduct(ctx, entry.ID))
		if err != nil || product == nil {
			return line, false, err
		}
		available := product.Quantity - entry.Quantity
		line.Name = product.Name
		line.UnitPriceCents = product.PriceCents
		line.AvailableStock = &available
	case domain.CartKindCombo:
		combo, err := lookup(s.repo.GetCombo(ctx, entry.ID))
		if err != nil || combo == nil {
			return line, false, err
		}
		line.Name = combo.Name
		line.UnitPriceCents = combo.PriceCents
	default:
		return line, false, nil
	}

	line.LineTotalCents = pricing.LineTotal(line.UnitPriceCents, entry.Quantity)
	return line, true, nil
}
