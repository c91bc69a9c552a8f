package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loja/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
)

// StockError reports which product could not cover a requested quantity.
type StockError struct {
	ProductID int64
	Product   string
	Combo     string
	OnHand    int
	Requested int
}

func (e *StockError) Error() string {
	if e.Combo != "" {
		return fmt.Sprintf("insufficient stock for %s in combo %s: %d on hand, %d requested", e.Product, e.Combo, e.OnHand, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for %s: %d on hand, %d requested", e.Product, e.OnHand, e.Requested)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// Invalid wraps ErrInvalidInput with a reason the caller can show.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

const (
	OrderNewest = "newest"
	OrderOldest = "oldest"
	// OrderStartDate sorts by start date ascending with undated rows last.
	OrderStartDate = "start_date"
)

type TransactionFilter struct {
	CustomerID int64
	Kind       string
	Status     string
	From       time.Time
	To         time.Time
	Order      string
	Limit      int
}

// Repository is the persistent record store. Implementations must make WithinTx atomic:
// if fn returns an error nothing it wrote is visible afterwards.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Repository) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, term string, limit int) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	// AddProductStock applies delta to on-hand stock and fails with a *StockError when the result would be negative.
	AddProductStock(ctx context.Context, id int64, delta int) (*domain.Product, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	ListCombos(ctx context.Context) ([]domain.Combo, error)
	SearchCombos(ctx context.Context, term string, limit int) ([]domain.Combo, error)
	GetCombo(ctx context.Context, id int64) (*domain.Combo, error)
	ListCombosByProduct(ctx context.Context, productID int64) ([]domain.Combo, error)
	CreateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error)
	// UpdateCombo replaces the header and every item of the combo.
	UpdateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error)
	DeleteCombo(ctx context.Context, id int64) error

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	CreateTransactionItem(ctx context.Context, item domain.TransactionItem) (*domain.TransactionItem, error)
	// UpdateTransaction rewrites header fields only and returns the transaction with its items.
	UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error

	Snapshot(ctx context.Context) (domain.Snapshot, error)
	// Restore replaces all business data with the snapshot, keeping its identities.
	Restore(ctx context.Context, snapshot domain.Snapshot) error
	Wipe(ctx context.Context) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
