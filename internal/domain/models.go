package domain

import (
	"math"
	"time"
)

// MaxQuantity bounds stock, cart and combo quantities. It matches the INTEGER stock column.
const MaxQuantity = math.MaxInt32

type Product struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Category      string  `json:"category"`
	CostCents     int64   `json:"cost_cents"`
	MarginPercent float64 `json:"margin_percent"`
	PriceCents    int64   `json:"price_cents"`
	Photo         string  `json:"photo,omitempty"`
}

type ProductRequest struct {
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Category      string  `json:"category"`
	CostCents     int64   `json:"cost_cents"`
	MarginPercent float64 `json:"margin_percent"`
}

type StockAdjustRequest struct {
	Action   string `json:"action"`
	Quantity int    `json:"quantity"`
}

// ProductAvailability is a search hit with stock already held by the caller's cart subtracted.
type ProductAvailability struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Available  int    `json:"available"`
	PriceCents int64  `json:"price_cents"`
}

type Customer struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	Coordinates string `json:"coordinates,omitempty"`
	Note        string `json:"note,omitempty"`
	Photo       string `json:"photo,omitempty"`
}

type CustomerRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Coordinates string `json:"coordinates"`
	Note        string `json:"note"`
}

type Combo struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Note          string      `json:"note,omitempty"`
	ExtraFeeCents int64       `json:"extra_fee_cents"`
	PriceCents    int64       `json:"price_cents"`
	Items         []ComboItem `json:"items,omitempty"`
}

type ComboItem struct {
	ID        int64 `json:"id"`
	ComboID   int64 `json:"combo_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type ComboItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type ComboRequest struct {
	Name          string             `json:"name"`
	Note          string             `json:"note"`
	ExtraFeeCents int64              `json:"extra_fee_cents"`
	Items         []ComboItemRequest `json:"items"`
}

type ComboItemView struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

type ComboDetail struct {
	Combo Combo           `json:"combo"`
	Items []ComboItemView `json:"items"`
}

type ComboSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type Transaction struct {
	ID            int64             `json:"id"`
	CustomerID    int64             `json:"customer_id"`
	Kind          string            `json:"kind"`
	CreatedAt     time.Time         `json:"created_at"`
	StartDate     *time.Time        `json:"start_date,omitempty"`
	EndDate       *time.Time        `json:"end_date,omitempty"`
	ShippingCents int64             `json:"shipping_cents"`
	DiscountCents int64             `json:"discount_cents"`
	ServiceCents  int64             `json:"service_cents"`
	AssemblyCents int64             `json:"assembly_cents"`
	PaymentMethod string            `json:"payment_method"`
	TotalCents    int64             `json:"total_cents"`
	Status        string            `json:"status"`
	Items         []TransactionItem `json:"items,omitempty"`
}

// ItemsTotalCents sums the snapshotted line totals.
func (t Transaction) ItemsTotalCents() int64 {
	var total int64
	for _, item := range t.Items {
		total += item.LineTotalCents
	}
	return total
}

type TransactionItem struct {
	ID             int64  `json:"id"`
	TransactionID  int64  `json:"transaction_id"`
	ProductID      *int64 `json:"product_id,omitempty"`
	ComboID        *int64 `json:"combo_id,omitempty"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type FinalizeRequest struct {
	CustomerID    int64  `json:"customer_id"`
	Kind          string `json:"kind"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	ShippingCents int64  `json:"shipping_cents"`
	DiscountCents int64  `json:"discount_cents"`
	ServiceCents  int64  `json:"service_cents"`
	AssemblyCents int64  `json:"assembly_cents"`
	PaymentMethod string `json:"payment_method"`
}

type QuoteRequest struct {
	CustomerID    int64 `json:"customer_id"`
	ShippingCents int64 `json:"shipping_cents"`
	DiscountCents int64 `json:"discount_cents"`
	ServiceCents  int64 `json:"service_cents"`
	AssemblyCents int64 `json:"assembly_cents"`
}

type TransactionUpdateRequest struct {
	CustomerID    int64  `json:"customer_id"`
	Kind          string `json:"kind"`
	PaymentMethod string `json:"payment_method"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	Status        string `json:"status"`
	ShippingCents int64  `json:"shipping_cents"`
	DiscountCents int64  `json:"discount_cents"`
	ServiceCents  int64  `json:"service_cents"`
	AssemblyCents int64  `json:"assembly_cents"`
}

type CartEntry struct {
	Kind     string `json:"kind"`
	ID       int64  `json:"id"`
	Quantity int    `json:"quantity"`
}

type CartAddRequest struct {
	Kind     string `json:"kind"`
	ID       int64  `json:"id"`
	Quantity int    `json:"quantity"`
}

// CartLine is a cart entry resolved against the current catalogue.
type CartLine struct {
	Kind           string `json:"kind"`
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
	AvailableStock *int   `json:"available_stock,omitempty"`
}

type CartView struct {
	Lines      []CartLine `json:"lines"`
	TotalCents int64      `json:"total_cents"`
}

type RentalAgenda struct {
	Active    []Transaction `json:"active"`
	Finalized []Transaction `json:"finalized"`
}

type Dashboard struct {
	Month            string `json:"month"`
	SalesCents       int64  `json:"sales_cents"`
	RentalsCents     int64  `json:"rentals_cents"`
	TotalCents       int64  `json:"total_cents"`
	ProductCount     int    `json:"product_count"`
	CustomerCount    int    `json:"customer_count"`
	TransactionCount int    `json:"transaction_count"`
}

type PopularItem struct {
	Name     string `json:"name" csv:"name"`
	Quantity int    `json:"quantity" csv:"quantity"`
}

type MonthlyReport struct {
	Month        string        `json:"month"`
	SalesCents   int64         `json:"sales_cents"`
	RentalsCents int64         `json:"rentals_cents"`
	TotalCents   int64         `json:"total_cents"`
	TopItems     []PopularItem `json:"top_items"`
}

// Snapshot is the full business dataset in dependency order, as written to backup files.
type Snapshot struct {
	CreatedAt        time.Time         `json:"created_at"`
	Products         []Product         `json:"products"`
	Customers        []Customer        `json:"customers"`
	Combos           []Combo           `json:"combos"`
	ComboItems       []ComboItem       `json:"combo_items"`
	Transactions     []Transaction     `json:"transactions"`
	TransactionItems []TransactionItem `json:"transaction_items"`
}

type BackupFile struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username  string
	Role      string
	SessionID string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	KindSale   = "sale"
	KindRental = "rental"
	KindQuote  = "quote"
)

const (
	StatusFinalized = "finalized"
	StatusActive    = "active"
	StatusQuote     = "quote"
)

const (
	CartKindProduct = "product"
	CartKindCombo   = "combo"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

const (
	StockActionAdd    = "add"
	StockActionRemove = "remove"
)
