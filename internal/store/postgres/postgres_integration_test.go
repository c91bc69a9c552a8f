//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:alpine",
		tcpostgres.WithDatabase("loja"),
		tcpostgres.WithUsername("loja"),
		tcpostgres.WithPassword("loja"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations must be re-runnable")
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	chair, err := s.CreateProduct(ctx, domain.Product{Name: "Chair", Quantity: 10, PriceCents: 1500})
	require.NoError(t, err)
	table, err := s.CreateProduct(ctx, domain.Product{Name: "Table", Quantity: 2, PriceCents: 5000})
	require.NoError(t, err)

	combo, err := s.CreateCombo(ctx, domain.Combo{
		Name:       "Party set",
		PriceCents: 11000,
		Items:      []domain.ComboItem{{ProductID: chair.ID, Quantity: 4}, {ProductID: table.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, combo.Items, 2)

	byProduct, err := s.ListCombosByProduct(ctx, table.ID)
	require.NoError(t, err)
	require.Len(t, byProduct, 1)
	assert.Equal(t, combo.ID, byProduct[0].ID)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var txID int64
	err = s.WithinTx(ctx, func(tx store.Repository) error {
		created, err := tx.CreateTransaction(ctx, domain.Transaction{
			CustomerID: 1, Kind: domain.KindRental, Status: domain.StatusActive, StartDate: &start, PaymentMethod: "pix",
		})
		if err != nil {
			return err
		}
		txID = created.ID
		if _, err := tx.CreateTransactionItem(ctx, domain.TransactionItem{
			TransactionID: created.ID, ComboID: &combo.ID, Name: combo.Name, Quantity: 1, UnitPriceCents: 11000, LineTotalCents: 11000,
		}); err != nil {
			return err
		}
		_, err = tx.AddProductStock(ctx, chair.ID, -4)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetTransaction(ctx, txID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.NotNil(t, got.StartDate)
	assert.True(t, start.Equal(*got.StartDate))
	assert.Nil(t, got.EndDate)

	stocked, err := s.GetProduct(ctx, chair.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stocked.Quantity)

	_, err = s.AddProductStock(ctx, table.ID, -3)
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.OnHand)

	snapshot, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Wipe(ctx))
	require.NoError(t, s.Restore(ctx, snapshot))

	restored, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Products, restored.Products)
	assert.Equal(t, snapshot.ComboItems, restored.ComboItems)
	assert.Equal(t, snapshot.TransactionItems, restored.TransactionItems)

	lamp, err := s.CreateProduct(ctx, domain.Product{Name: "Lamp"})
	require.NoError(t, err)
	assert.Equal(t, table.ID+1, lamp.ID)
}

func TestRestoreRejectsOrphans(t *testing.T) {
	s := setupStore(t)
	err := s.Restore(context.Background(), domain.Snapshot{
		ComboItems: []domain.ComboItem{{ID: 1, ComboID: 42, ProductID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestConcurrentStockTakeNeverOversells(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	product, err := s.CreateProduct(ctx, domain.Product{Name: "Tent", Quantity: 3})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 6)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.WithinTx(ctx, func(tx store.Repository) error {
				p, err := tx.GetProduct(ctx, product.ID)
				if err != nil {
					return err
				}
				if p.Quantity < 1 {
					return &store.StockError{ProductID: p.ID, Product: p.Name, OnHand: p.Quantity, Requested: 1}
				}
				_, err = tx.AddProductStock(ctx, p.ID, -1)
				return err
			})
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.LessOrEqual(t, succeeded, 3)

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3-succeeded, got.Quantity)
	assert.GreaterOrEqual(t, got.Quantity, 0)
}
