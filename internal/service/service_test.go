package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"loja/backend/internal/cache"
	"loja/backend/internal/domain"
	"loja/backend/internal/store"
	"loja/backend/internal/store/memory"
)

var fixedNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *memory.Store
	customer domain.Customer
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	repo := memory.New()
	svc := New(repo, cache.NewMemoryCartStore(time.Hour), nil, opts)

	customer, err := svc.CreateCustomer(context.Background(), domain.CustomerRequest{Name: "Maria", Phone: "5551234"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	return fixture{svc: svc, repo: repo, customer: customer}
}

func (f fixture) product(t *testing.T, name string, qty int, costCents int64, margin float64) domain.Product {
	t.Helper()
	product, err := f.svc.CreateProduct(context.Background(), domain.ProductRequest{
		Name:          name,
		Quantity:      qty,
		Category:      "party",
		CostCents:     costCents,
		MarginPercent: margin,
	})
	if err != nil {
		t.Fatalf("create product %s failed: %v", name, err)
	}
	return product
}

func (f fixture) combo(t *testing.T, name string, feeCents int64, items ...domain.ComboItemRequest) domain.Combo {
	t.Helper()
	combo, err := f.svc.CreateCombo(context.Background(), domain.ComboRequest{Name: name, ExtraFeeCents: feeCents, Items: items})
	if err != nil {
		t.Fatalf("create combo %s failed: %v", name, err)
	}
	return combo
}

func (f fixture) add(t *testing.T, session string, kind string, id int64, qty int) {
	t.Helper()
	if _, err := f.svc.AddToCart(context.Background(), session, domain.CartAddRequest{Kind: kind, ID: id, Quantity: qty}); err != nil {
		t.Fatalf("add %s %d x%d failed: %v", kind, id, qty, err)
	}
}

func (f fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	product, err := f.svc.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %d failed: %v", id, err)
	}
	return product.Quantity
}

func (f fixture) sale() domain.FinalizeRequest {
	return domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindSale, PaymentMethod: "cash"}
}

func TestCreateAndUpdateProductDerivesPrice(t *testing.T) {
	f := newFixture(t, Options{})
	product := f.product(t, "Chair", 10, 1000, 50)
	if product.PriceCents != 1500 {
		t.Fatalf("expected price 1500, got %d", product.PriceCents)
	}

	updated, err := f.svc.UpdateProduct(context.Background(), product.ID, domain.ProductRequest{
		Name:          "Chair",
		Quantity:      10,
		CostCents:     2000,
		MarginPercent: 10,
	})
	if err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if updated.PriceCents != 2200 {
		t.Fatalf("expected recomputed price 2200, got %d", updated.PriceCents)
	}
}

func TestComboPriceFollowsProductPrices(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 10, 1000, 0)
	table := f.product(t, "Table", 5, 4000, 0)

	combo := f.combo(t, "Party set", 500,
		domain.ComboItemRequest{ProductID: chair.ID, Quantity: 4},
		domain.ComboItemRequest{ProductID: table.ID, Quantity: 1},
		domain.ComboItemRequest{ProductID: 999, Quantity: 3},
		domain.ComboItemRequest{ProductID: table.ID, Quantity: 0},
	)
	if combo.PriceCents != 8500 {
		t.Fatalf("expected combo price 8500, got %d", combo.PriceCents)
	}
	if len(combo.Items) != 2 {
		t.Fatalf("expected missing and zero-quantity items to be skipped, got %d items", len(combo.Items))
	}

	if _, err := f.svc.UpdateProduct(context.Background(), chair.ID, domain.ProductRequest{Name: "Chair", Quantity: 10, CostCents: 1500}); err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	detail, err := f.svc.GetCombo(context.Background(), combo.ID)
	if err != nil {
		t.Fatalf("get combo failed: %v", err)
	}
	if detail.Combo.PriceCents != 10500 {
		t.Fatalf("expected repriced combo 10500, got %d", detail.Combo.PriceCents)
	}
	if len(detail.Items) != 2 || detail.Items[0].Name != "Chair" {
		t.Fatalf("unexpected combo detail items: %+v", detail.Items)
	}
}

func TestUpdateComboReplacesItems(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 10, 1000, 0)
	lamp := f.product(t, "Lamp", 10, 300, 0)
	combo := f.combo(t, "Set", 0, domain.ComboItemRequest{ProductID: chair.ID, Quantity: 2})

	updated, err := f.svc.UpdateCombo(context.Background(), combo.ID, domain.ComboRequest{
		Name:          "Set",
		ExtraFeeCents: 100,
		Items: []domain.ComboItemRequest{
			{ProductID: lamp.ID, Quantity: 1},
			{ProductID: lamp.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("update combo failed: %v", err)
	}
	if len(updated.Items) != 1 || updated.Items[0].ProductID != lamp.ID || updated.Items[0].Quantity != 3 {
		t.Fatalf("expected a single merged lamp item, got %+v", updated.Items)
	}
	if updated.PriceCents != 1000 {
		t.Fatalf("expected price 1000, got %d", updated.PriceCents)
	}
}

func TestAddToCartChecksCumulativeQuantity(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)

	f.add(t, "s1", domain.CartKindProduct, chair.ID, 3)
	_, err := f.svc.AddToCart(context.Background(), "s1", domain.CartAddRequest{Kind: domain.CartKindProduct, ID: chair.ID, Quantity: 3})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) || stockErr.Product != "Chair" || stockErr.OnHand != 5 {
		t.Fatalf("expected stock error naming Chair with 5 on hand, got %v", err)
	}

	view, err := f.svc.CartView(context.Background(), "s1")
	if err != nil {
		t.Fatalf("cart view failed: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Quantity != 3 {
		t.Fatalf("expected cart unchanged at 3, got %+v", view.Lines)
	}

	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)
	if f.stock(t, chair.ID) != 5 {
		t.Fatalf("adding to cart must not change stock")
	}
}

func TestAddToCartIgnoresOtherSessions(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 2, 1000, 0)

	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)
	f.add(t, "s2", domain.CartKindProduct, chair.ID, 2)
}

func TestAddComboChecksEveryConstituent(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 8, 1000, 0)
	table := f.product(t, "Table", 1, 4000, 0)
	combo := f.combo(t, "Party set", 0,
		domain.ComboItemRequest{ProductID: chair.ID, Quantity: 4},
		domain.ComboItemRequest{ProductID: table.ID, Quantity: 1},
	)

	f.add(t, "s1", domain.CartKindCombo, combo.ID, 1)
	_, err := f.svc.AddToCart(context.Background(), "s1", domain.CartAddRequest{Kind: domain.CartKindCombo, ID: combo.ID, Quantity: 1})
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if stockErr.Product != "Table" || stockErr.Combo != "Party set" || stockErr.Requested != 2 {
		t.Fatalf("unexpected stock error: %+v", stockErr)
	}
}

func TestAddToCartValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.AddToCart(ctx, "s1", domain.CartAddRequest{Kind: domain.CartKindProduct, ID: 42, Quantity: 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.AddToCart(ctx, "s1", domain.CartAddRequest{Kind: domain.CartKindProduct, ID: 1, Quantity: 0}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
	if _, err := f.svc.AddToCart(ctx, "s1", domain.CartAddRequest{Kind: "service", ID: 1, Quantity: 1}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown kind, got %v", err)
	}
}

func TestCartLinesSkipDeletedItems(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)
	lamp := f.product(t, "Lamp", 5, 200, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)
	f.add(t, "s1", domain.CartKindProduct, lamp.ID, 1)

	if err := f.svc.DeleteProduct(context.Background(), lamp.ID); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}

	view, err := f.svc.CartView(context.Background(), "s1")
	if err != nil {
		t.Fatalf("cart view failed: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(view.Lines))
	}
	line := view.Lines[0]
	if line.LineTotalCents != 2000 || view.TotalCents != 2000 {
		t.Fatalf("unexpected totals: line=%d cart=%d", line.LineTotalCents, view.TotalCents)
	}
	if line.AvailableStock == nil || *line.AvailableStock != 3 {
		t.Fatalf("expected available stock 3, got %v", line.AvailableStock)
	}
}

func TestRemoveFromCartIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)

	for range 2 {
		view, err := f.svc.RemoveFromCart(context.Background(), "s1", domain.CartKindProduct, chair.ID)
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if len(view.Lines) != 0 {
			t.Fatalf("expected empty cart, got %+v", view.Lines)
		}
	}
}

func TestSearchProductsSubtractsOwnCart(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Folding chair", 5, 1000, 0)
	f.product(t, "Table", 5, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)

	results, err := f.svc.SearchProducts(context.Background(), "s1", "chair")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Available != 3 {
		t.Fatalf("expected one hit with 3 available, got %+v", results)
	}

	results, err = f.svc.SearchProducts(context.Background(), "s2", "CHAIR")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Available != 5 {
		t.Fatalf("expected other session to see 5 available, got %+v", results)
	}
}

func TestFinalizeSaleDecrementsStockAndClearsCart(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 10, 1000, 0)
	table := f.product(t, "Table", 3, 4000, 0)
	combo := f.combo(t, "Party set", 500,
		domain.ComboItemRequest{ProductID: chair.ID, Quantity: 4},
		domain.ComboItemRequest{ProductID: table.ID, Quantity: 1},
	)

	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)
	f.add(t, "s1", domain.CartKindCombo, combo.ID, 2)

	req := f.sale()
	req.ShippingCents = 1000
	req.ServiceCents = 200
	req.AssemblyCents = 300
	req.DiscountCents = 500
	tx, err := f.svc.Finalize(context.Background(), "s1", req)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if tx.Status != domain.StatusFinalized {
		t.Fatalf("expected finalized status, got %s", tx.Status)
	}
	if len(tx.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(tx.Items))
	}
	// 2×1000 + 2×8500 + 1000 + 200 + 300 − 500
	if tx.TotalCents != 20000 {
		t.Fatalf("expected total 20000, got %d", tx.TotalCents)
	}
	if tx.TotalCents != tx.ItemsTotalCents()+tx.ShippingCents+tx.ServiceCents+tx.AssemblyCents-tx.DiscountCents {
		t.Fatalf("total does not match lines and fees")
	}
	if got := f.stock(t, chair.ID); got != 0 {
		t.Fatalf("expected chair stock 0, got %d", got)
	}
	if got := f.stock(t, table.ID); got != 1 {
		t.Fatalf("expected table stock 1, got %d", got)
	}

	view, err := f.svc.CartView(context.Background(), "s1")
	if err != nil {
		t.Fatalf("cart view failed: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected cart cleared after finalize")
	}
}

func TestFinalizeRentalIsActiveWithDates(t *testing.T) {
	f := newFixture(t, Options{})
	tent := f.product(t, "Tent", 2, 10000, 0)
	f.add(t, "s1", domain.CartKindProduct, tent.ID, 1)

	tx, err := f.svc.Finalize(context.Background(), "s1", domain.FinalizeRequest{
		CustomerID:    f.customer.ID,
		Kind:          domain.KindRental,
		StartDate:     "2024-05-20",
		EndDate:       "2024-05-22",
		PaymentMethod: "pix",
	})
	if err != nil {
		t.Fatalf("finalize rental failed: %v", err)
	}
	if tx.Status != domain.StatusActive || tx.StartDate == nil || tx.StartDate.Day() != 20 {
		t.Fatalf("unexpected rental: %+v", tx)
	}
}

func TestFinalizeShortfallRollsBackEverything(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)
	lamp := f.product(t, "Lamp", 5, 200, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)
	f.add(t, "s1", domain.CartKindProduct, lamp.ID, 4)

	if _, err := f.svc.AdjustStock(context.Background(), lamp.ID, domain.StockAdjustRequest{Action: domain.StockActionRemove, Quantity: 3}); err != nil {
		t.Fatalf("adjust stock failed: %v", err)
	}

	_, err := f.svc.Finalize(context.Background(), "s1", f.sale())
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if got := f.stock(t, chair.ID); got != 5 {
		t.Fatalf("expected chair stock untouched at 5, got %d", got)
	}
	txs, err := f.svc.ListTransactions(context.Background(), store.TransactionFilter{})
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transaction after rollback, got %d", len(txs))
	}
	view, err := f.svc.CartView(context.Background(), "s1")
	if err != nil {
		t.Fatalf("cart view failed: %v", err)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("expected cart kept after failed finalize")
	}
}

func TestFinalizeValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.svc.Finalize(ctx, "s1", f.sale()); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}

	chair := f.product(t, "Chair", 5, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 1)

	cases := []struct {
		name string
		req  domain.FinalizeRequest
		want error
	}{
		{"quote kind", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindQuote, PaymentMethod: "cash"}, store.ErrInvalidInput},
		{"missing payment", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindSale}, store.ErrInvalidInput},
		{"bad date", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindRental, PaymentMethod: "cash", StartDate: "20/05/2024"}, store.ErrInvalidInput},
		{"negative fee", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindSale, PaymentMethod: "cash", ShippingCents: -1}, store.ErrInvalidInput},
		{"unknown customer", domain.FinalizeRequest{CustomerID: 404, Kind: domain.KindSale, PaymentMethod: "cash"}, store.ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := f.svc.Finalize(ctx, "s1", tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if got := f.stock(t, chair.ID); got != 5 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestConcurrentFinalizeNeverOversells(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 3, 1000, 0)

	const sessions = 6
	for i := range sessions {
		f.add(t, fmt.Sprintf("s%d", i), domain.CartKindProduct, chair.ID, 1)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := range sessions {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			_, err := f.svc.Finalize(context.Background(), session, f.sale())
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected finalize error: %v", err)
			}
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("expected exactly 3 successful sales, got %d", succeeded)
	}
	if got := f.stock(t, chair.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestSaveQuoteLeavesStockAlone(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)
	lamp := f.product(t, "Lamp", 5, 200, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 5)
	f.add(t, "s1", domain.CartKindProduct, lamp.ID, 1)
	if err := f.svc.DeleteProduct(context.Background(), lamp.ID); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}

	quote, err := f.svc.SaveQuote(context.Background(), "s1", domain.QuoteRequest{CustomerID: f.customer.ID, ShippingCents: 700})
	if err != nil {
		t.Fatalf("save quote failed: %v", err)
	}
	if quote.Kind != domain.KindQuote || quote.Status != domain.StatusQuote || quote.PaymentMethod != "N/A" {
		t.Fatalf("unexpected quote header: %+v", quote)
	}
	if len(quote.Items) != 1 || quote.TotalCents != 5700 {
		t.Fatalf("expected one line and total 5700, got %d lines total %d", len(quote.Items), quote.TotalCents)
	}
	if got := f.stock(t, chair.ID); got != 5 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestFinishRentalRestoresStockOnce(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 10, 1000, 0)
	table := f.product(t, "Table", 2, 4000, 0)
	combo := f.combo(t, "Party set", 0,
		domain.ComboItemRequest{ProductID: chair.ID, Quantity: 4},
		domain.ComboItemRequest{ProductID: table.ID, Quantity: 1},
	)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 1)
	f.add(t, "s1", domain.CartKindCombo, combo.ID, 2)

	rental, err := f.svc.Finalize(context.Background(), "s1", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindRental, PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if f.stock(t, chair.ID) != 1 || f.stock(t, table.ID) != 0 {
		t.Fatalf("unexpected stock after rental: chair=%d table=%d", f.stock(t, chair.ID), f.stock(t, table.ID))
	}

	finished, err := f.svc.FinishRental(context.Background(), rental.ID)
	if err != nil {
		t.Fatalf("finish rental failed: %v", err)
	}
	if finished.Status != domain.StatusFinalized {
		t.Fatalf("expected finalized status, got %s", finished.Status)
	}
	if f.stock(t, chair.ID) != 10 || f.stock(t, table.ID) != 2 {
		t.Fatalf("expected stock restored: chair=%d table=%d", f.stock(t, chair.ID), f.stock(t, table.ID))
	}

	if _, err := f.svc.FinishRental(context.Background(), rental.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected second finish to be rejected, got %v", err)
	}
	if f.stock(t, chair.ID) != 10 {
		t.Fatalf("second finish must not restore stock again")
	}
}

func TestFinishRentalLegacyRestoresEveryTime(t *testing.T) {
	f := newFixture(t, Options{LegacyRentalFinish: true})
	tent := f.product(t, "Tent", 3, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, tent.ID, 2)
	rental, err := f.svc.Finalize(context.Background(), "s1", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindRental, PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	for range 2 {
		if _, err := f.svc.FinishRental(context.Background(), rental.ID); err != nil {
			t.Fatalf("finish rental failed: %v", err)
		}
	}
	if got := f.stock(t, tent.ID); got != 5 {
		t.Fatalf("expected double restore to 5, got %d", got)
	}
}

func TestFinishRentalRejectsSale(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 3, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 1)
	sale, err := f.svc.Finalize(context.Background(), "s1", f.sale())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if _, err := f.svc.FinishRental(context.Background(), sale.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := f.svc.FinishRental(context.Background(), 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTransactionRecomputesTotal(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)
	sale, err := f.svc.Finalize(context.Background(), "s1", f.sale())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	updated, err := f.svc.UpdateTransaction(context.Background(), sale.ID, domain.TransactionUpdateRequest{
		CustomerID:    f.customer.ID,
		Kind:          domain.KindSale,
		Status:        domain.StatusFinalized,
		PaymentMethod: "card",
		ShippingCents: 300,
		DiscountCents: 100,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.TotalCents != 2200 || updated.PaymentMethod != "card" {
		t.Fatalf("unexpected update result: total=%d payment=%s", updated.TotalCents, updated.PaymentMethod)
	}
	if len(updated.Items) != 1 {
		t.Fatalf("expected lines kept")
	}
	if f.stock(t, chair.ID) != 3 {
		t.Fatalf("edit must not change stock")
	}
}

func TestDeleteTransactionKeepsStock(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 2)
	sale, err := f.svc.Finalize(context.Background(), "s1", f.sale())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if err := f.svc.DeleteTransaction(context.Background(), sale.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := f.svc.GetTransaction(context.Background(), sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if f.stock(t, chair.ID) != 3 {
		t.Fatalf("delete must not restore stock")
	}
}

func TestDeleteCustomerKeepsHistory(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 5, 1000, 0)
	f.add(t, "s1", domain.CartKindProduct, chair.ID, 1)
	sale, err := f.svc.Finalize(context.Background(), "s1", f.sale())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	history, err := f.svc.CustomerHistory(context.Background(), f.customer.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one history entry, got %d (%v)", len(history), err)
	}

	if err := f.svc.DeleteCustomer(context.Background(), f.customer.ID); err != nil {
		t.Fatalf("delete customer failed: %v", err)
	}
	kept, err := f.svc.GetTransaction(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("transaction should survive customer delete: %v", err)
	}
	if kept.CustomerID != f.customer.ID {
		t.Fatalf("expected orphaned customer id to be kept")
	}
}

func TestAdjustStock(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 2, 1000, 0)
	ctx := context.Background()

	product, err := f.svc.AdjustStock(ctx, chair.ID, domain.StockAdjustRequest{Action: domain.StockActionAdd, Quantity: 3})
	if err != nil || product.Quantity != 5 {
		t.Fatalf("expected 5 after add, got %d (%v)", product.Quantity, err)
	}
	if _, err := f.svc.AdjustStock(ctx, chair.ID, domain.StockAdjustRequest{Action: domain.StockActionRemove, Quantity: 6}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := f.svc.AdjustStock(ctx, chair.ID, domain.StockAdjustRequest{Action: "set", Quantity: 1}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := f.svc.AdjustStock(ctx, chair.ID, domain.StockAdjustRequest{Action: domain.StockActionAdd, Quantity: math.MaxInt}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for huge quantity, got %v", err)
	}
	if _, err := f.svc.AdjustStock(ctx, chair.ID, domain.StockAdjustRequest{Action: domain.StockActionAdd, Quantity: domain.MaxQuantity}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input when stock would pass the maximum, got %v", err)
	}
	if f.stock(t, chair.ID) != 5 {
		t.Fatalf("failed adjustments must not change stock")
	}
}

func TestMonthlyReportAndDashboard(t *testing.T) {
	f := newFixture(t, Options{})
	chair := f.product(t, "Chair", 20, 1000, 0)
	tent := f.product(t, "Tent", 5, 5000, 0)

	f.add(t, "s1", domain.CartKindProduct, chair.ID, 4)
	if _, err := f.svc.Finalize(context.Background(), "s1", f.sale()); err != nil {
		t.Fatalf("finalize sale failed: %v", err)
	}
	f.add(t, "s1", domain.CartKindProduct, tent.ID, 1)
	if _, err := f.svc.Finalize(context.Background(), "s1", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindRental, PaymentMethod: "cash"}); err != nil {
		t.Fatalf("finalize rental failed: %v", err)
	}
	f.add(t, "s1", domain.CartKindProduct, tent.ID, 4)
	if _, err := f.svc.SaveQuote(context.Background(), "s1", domain.QuoteRequest{CustomerID: f.customer.ID}); err != nil {
		t.Fatalf("save quote failed: %v", err)
	}

	report, err := f.svc.MonthlyReport(context.Background(), "")
	if err != nil {
		t.Fatalf("monthly report failed: %v", err)
	}
	if report.Month != "2024-05" || report.SalesCents != 4000 || report.RentalsCents != 5000 || report.TotalCents != 9000 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.TopItems) != 2 || report.TopItems[0].Name != "Tent" || report.TopItems[0].Quantity != 5 {
		t.Fatalf("expected quotes to count towards popular items, got %+v", report.TopItems)
	}

	empty, err := f.svc.MonthlyReport(context.Background(), "2024-04")
	if err != nil {
		t.Fatalf("monthly report failed: %v", err)
	}
	if empty.TotalCents != 0 || len(empty.TopItems) != 0 {
		t.Fatalf("expected empty April report, got %+v", empty)
	}
	if _, err := f.svc.MonthlyReport(context.Background(), "May"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid month error, got %v", err)
	}

	dashboard, err := f.svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if dashboard.ProductCount != 2 || dashboard.CustomerCount != 1 || dashboard.TransactionCount != 3 || dashboard.TotalCents != 9000 {
		t.Fatalf("unexpected dashboard: %+v", dashboard)
	}
}

func TestRentalAgendaOrdering(t *testing.T) {
	f := newFixture(t, Options{})
	tent := f.product(t, "Tent", 10, 1000, 0)

	var ids []int64
	for _, start := range []string{"2024-06-10", "2024-06-01", "2024-06-05"} {
		f.add(t, "s1", domain.CartKindProduct, tent.ID, 1)
		tx, err := f.svc.Finalize(context.Background(), "s1", domain.FinalizeRequest{CustomerID: f.customer.ID, Kind: domain.KindRental, PaymentMethod: "cash", StartDate: start})
		if err != nil {
			t.Fatalf("finalize failed: %v", err)
		}
		ids = append(ids, tx.ID)
	}
	if _, err := f.svc.FinishRental(context.Background(), ids[0]); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	agenda, err := f.svc.RentalAgenda(context.Background())
	if err != nil {
		t.Fatalf("agenda failed: %v", err)
	}
	if len(agenda.Active) != 2 || agenda.Active[0].ID != ids[1] || agenda.Active[1].ID != ids[2] {
		t.Fatalf("expected active rentals ordered by start date, got %+v", agenda.Active)
	}
	if len(agenda.Finalized) != 1 || agenda.Finalized[0].ID != ids[0] {
		t.Fatalf("unexpected finalized rentals: %+v", agenda.Finalized)
	}
}

func TestWipeClearsBusinessData(t *testing.T) {
	f := newFixture(t, Options{})
	f.product(t, "Chair", 1, 100, 0)

	f.add(t, "s1", domain.CartKindProduct, 1, 1)

	if err := f.svc.Wipe(context.Background()); err != nil {
		t.Fatalf("wipe failed: %v", err)
	}
	products, err := f.svc.ListProducts(context.Background())
	if err != nil || len(products) != 0 {
		t.Fatalf("expected no products after wipe, got %d (%v)", len(products), err)
	}

	// A product created after the wipe must not inherit the old cart entry.
	f.product(t, "Tent", 3, 100, 0)
	view, err := f.svc.CartView(context.Background(), "s1")
	if err != nil {
		t.Fatalf("cart view failed: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected carts dropped by wipe, got %+v", view.Lines)
	}
}

func TestCartQuantitiesAreBounded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	chair := f.product(t, "Chair", 5, 1000, 0)
	pair := f.combo(t, "Pair", 0, domain.ComboItemRequest{ProductID: chair.ID, Quantity: 2})

	cases := []domain.CartAddRequest{
		{Kind: domain.CartKindCombo, ID: pair.ID, Quantity: math.MaxInt},
		{Kind: domain.CartKindCombo, ID: pair.ID, Quantity: domain.MaxQuantity/2 + 1},
		{Kind: domain.CartKindProduct, ID: chair.ID, Quantity: math.MaxInt},
	}
	for _, req := range cases {
		if _, err := f.svc.AddToCart(ctx, "s1", req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("add %s x%d: expected invalid input, got %v", req.Kind, req.Quantity, err)
		}
	}

	f.add(t, "s1", domain.CartKindProduct, chair.ID, 1)
	_, err := f.svc.AddToCart(ctx, "s1", domain.CartAddRequest{Kind: domain.CartKindProduct, ID: chair.ID, Quantity: domain.MaxQuantity})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected cumulative quantity past the maximum to be rejected, got %v", err)
	}

	tx, err := f.svc.Finalize(ctx, "s1", f.sale())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if tx.TotalCents != 1000 || len(tx.Items) != 1 || tx.Items[0].Quantity != 1 {
		t.Fatalf("expected a single chair sold for 1000, got %+v", tx)
	}
	if got := f.stock(t, chair.ID); got != 4 {
		t.Fatalf("expected stock 4 after sale, got %d", got)
	}
}

func TestExpandComboRejectsOverflow(t *testing.T) {
	combo := domain.Combo{Name: "Pair", Items: []domain.ComboItem{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 3}}}

	requirements, err := expandCombo(combo, 4)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(requirements) != 2 || requirements[0].Quantity != 8 || requirements[1].Quantity != 12 {
		t.Fatalf("unexpected requirements %+v", requirements)
	}

	if _, err := expandCombo(combo, math.MaxInt); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, ok := mulQuantity(domain.MaxQuantity, 1); !ok {
		t.Fatalf("expected the maximum itself to be allowed")
	}
	if _, ok := mulQuantity(-1, 2); ok {
		t.Fatalf("expected negative factors to be rejected")
	}
}

func TestEmptyComboIsPricedByFeeAlone(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	chair := f.product(t, "Chair", 5, 1000, 0)
	setup := f.combo(t, "Setup fee", 700)
	if setup.PriceCents != 700 {
		t.Fatalf("expected empty combo priced at its fee, got %d", setup.PriceCents)
	}

	f.add(t, "s1", domain.CartKindCombo, setup.ID, 3)
	tx, err := f.svc.Finalize(ctx, "s1", f.sale())
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if tx.TotalCents != 2100 || len(tx.Items) != 1 {
		t.Fatalf("expected one line totalling 2100, got %+v", tx)
	}
	item := tx.Items[0]
	if item.ComboID == nil || *item.ComboID != setup.ID || item.ProductID != nil {
		t.Fatalf("expected a combo line for %d, got %+v", setup.ID, item)
	}
	if item.UnitPriceCents != 700 || item.Quantity != 3 || item.LineTotalCents != 2100 || item.Name != "Setup fee" {
		t.Fatalf("unexpected line snapshot %+v", item)
	}
	if got := f.stock(t, chair.ID); got != 5 {
		t.Fatalf("expected stock untouched by an empty combo, got %d", got)
	}
}
