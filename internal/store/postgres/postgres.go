package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

const maxTxAttempts = 3

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db   *sql.DB
	q    dbtx
	inTx bool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, q: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a serializable transaction. Serialization failures are retried
// a few times before being returned.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Repository) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&Store{db: s.db, q: pgTx, inTx: true}); err != nil {
		return err
	}
	return pgTx.Commit()
}

const productColumns = `id, name, quantity, category, cost_cents, margin_percent, price_cents, photo`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Quantity, &p.Category, &p.CostCents, &p.MarginPercent, &p.PriceCents, &p.Photo)
	return p, err
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY id DESC`)
}

func (s *Store) SearchProducts(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE name ILIKE $1
		ORDER BY name, id
		LIMIT $2
	`, likePattern(term), limit)
}

// GetProduct locks the row when called inside a unit of work.
func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO products (name, quantity, category, cost_cents, margin_percent, price_cents, photo)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, product.Name, product.Quantity, product.Category, product.CostCents, product.MarginPercent, product.PriceCents, product.Photo).Scan(&product.ID)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE products
		SET name = $2, quantity = $3, category = $4, cost_cents = $5, margin_percent = $6, price_cents = $7, photo = $8
		WHERE id = $1
	`, product.ID, product.Name, product.Quantity, product.Category, product.CostCents, product.MarginPercent, product.PriceCents, product.Photo)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) AddProductStock(ctx context.Context, id int64, delta int) (*domain.Product, error) {
	p, err := scanProduct(s.q.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2::bigint
		WHERE id = $1 AND quantity + $2::bigint BETWEEN 0 AND $3
		RETURNING `+productColumns, id, int64(delta), domain.MaxQuantity))
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var name string
	var onHand int
	err = s.q.QueryRowContext(ctx, `SELECT name, quantity FROM products WHERE id = $1`, id).Scan(&name, &onHand)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if delta > 0 {
		return nil, store.Invalid("stock of %s would exceed %d", name, domain.MaxQuantity)
	}
	return nil, &store.StockError{ProductID: id, Product: name, OnHand: onHand, Requested: -delta}
}

const customerColumns = `id, name, phone, address, coordinates, note, photo`

func scanCustomer(row interface{ Scan(...any) error }) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.Coordinates, &c.Note, &c.Photo)
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY lower(name), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := scanCustomer(s.q.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, address, coordinates, note, photo)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, customer.Name, customer.Phone, customer.Address, customer.Coordinates, customer.Note, customer.Photo).Scan(&customer.ID)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, coordinates = $5, note = $6, photo = $7
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.Coordinates, customer.Note, customer.Photo)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) queryCombos(ctx context.Context, query string, args ...any) ([]domain.Combo, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	combos := make([]domain.Combo, 0, 32)
	for rows.Next() {
		var c domain.Combo
		if err := rows.Scan(&c.ID, &c.Name, &c.Note, &c.ExtraFeeCents, &c.PriceCents); err != nil {
			_ = rows.Close()
			return nil, err
		}
		combos = append(combos, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(combos) == 0 {
		return combos, nil
	}
	ids := make([]int64, 0, len(combos))
	for _, c := range combos {
		ids = append(ids, c.ID)
	}
	items, err := s.comboItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range combos {
		combos[i].Items = items[combos[i].ID]
	}
	return combos, nil
}

func (s *Store) comboItems(ctx context.Context, comboIDs []int64) (map[int64][]domain.ComboItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, combo_id, product_id, quantity
		FROM combo_items
		WHERE combo_id = ANY($1)
		ORDER BY id
	`, comboIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[int64][]domain.ComboItem, len(comboIDs))
	for rows.Next() {
		var item domain.ComboItem
		if err := rows.Scan(&item.ID, &item.ComboID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items[item.ComboID] = append(items[item.ComboID], item)
	}
	return items, rows.Err()
}

const comboColumns = `id, name, note, extra_fee_cents, price_cents`

func (s *Store) ListCombos(ctx context.Context) ([]domain.Combo, error) {
	return s.queryCombos(ctx, `SELECT `+comboColumns+` FROM combos ORDER BY id DESC`)
}

func (s *Store) SearchCombos(ctx context.Context, term string, limit int) ([]domain.Combo, error) {
	if limit < 1 {
		limit = 50
	}
	return s.queryCombos(ctx, `
		SELECT `+comboColumns+`
		FROM combos
		WHERE name ILIKE $1
		ORDER BY name, id
		LIMIT $2
	`, likePattern(term), limit)
}

func (s *Store) GetCombo(ctx context.Context, id int64) (*domain.Combo, error) {
	combos, err := s.queryCombos(ctx, `SELECT `+comboColumns+` FROM combos WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(combos) == 0 {
		return nil, store.ErrNotFound
	}
	return &combos[0], nil
}

func (s *Store) ListCombosByProduct(ctx context.Context, productID int64) ([]domain.Combo, error) {
	return s.queryCombos(ctx, `
		SELECT `+comboColumns+`
		FROM combos
		WHERE id IN (SELECT combo_id FROM combo_items WHERE product_id = $1)
		ORDER BY id DESC
	`, productID)
}

func (s *Store) CreateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error) {
	if strings.TrimSpace(combo.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	var created *domain.Combo
	err := s.WithinTx(ctx, func(tx store.Repository) error {
		q := tx.(*Store).q
		if err := q.QueryRowContext(ctx, `
			INSERT INTO combos (name, note, extra_fee_cents, price_cents)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, combo.Name, combo.Note, combo.ExtraFeeCents, combo.PriceCents).Scan(&combo.ID); err != nil {
			return err
		}
		items, err := insertComboItems(ctx, q, combo.ID, combo.Items)
		if err != nil {
			return err
		}
		combo.Items = items
		created = &combo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error) {
	if strings.TrimSpace(combo.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	var updated *domain.Combo
	err := s.WithinTx(ctx, func(tx store.Repository) error {
		q := tx.(*Store).q
		res, err := q.ExecContext(ctx, `
			UPDATE combos
			SET name = $2, note = $3, extra_fee_cents = $4, price_cents = $5
			WHERE id = $1
		`, combo.ID, combo.Name, combo.Note, combo.ExtraFeeCents, combo.PriceCents)
		if err != nil {
			return err
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM combo_items WHERE combo_id = $1`, combo.ID); err != nil {
			return err
		}
		items, err := insertComboItems(ctx, q, combo.ID, combo.Items)
		if err != nil {
			return err
		}
		combo.Items = items
		updated = &combo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func insertComboItems(ctx context.Context, q dbtx, comboID int64, items []domain.ComboItem) ([]domain.ComboItem, error) {
	saved := make([]domain.ComboItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		item.ComboID = comboID
		if err := q.QueryRowContext(ctx, `
			INSERT INTO combo_items (combo_id, product_id, quantity)
			VALUES ($1,$2,$3)
			RETURNING id
		`, comboID, item.ProductID, item.Quantity).Scan(&item.ID); err != nil {
			return nil, err
		}
		saved = append(saved, item)
	}
	return saved, nil
}

func (s *Store) DeleteCombo(ctx context.Context, id int64) error {
	return s.WithinTx(ctx, func(tx store.Repository) error {
		q := tx.(*Store).q
		if _, err := q.ExecContext(ctx, `DELETE FROM combo_items WHERE combo_id = $1`, id); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM combos WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return expectAffected(res)
	})
}

const transactionColumns = `id, customer_id, kind, created_at, start_date, end_date, shipping_cents, discount_cents,
	service_cents, assembly_cents, payment_method, total_cents, status`

func scanTransaction(row interface{ Scan(...any) error }) (domain.Transaction, error) {
	var t domain.Transaction
	var startDate, endDate sql.NullTime
	err := row.Scan(&t.ID, &t.CustomerID, &t.Kind, &t.CreatedAt, &startDate, &endDate, &t.ShippingCents, &t.DiscountCents,
		&t.ServiceCents, &t.AssemblyCents, &t.PaymentMethod, &t.TotalCents, &t.Status)
	if err != nil {
		return t, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.StartDate = nullDate(startDate)
	t.EndDate = nullDate(endDate)
	return t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.Kind == "" || tx.Status == "" {
		return nil, store.ErrInvalidInput
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.Items = nil
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO transactions (customer_id, kind, created_at, start_date, end_date, shipping_cents, discount_cents,
			service_cents, assembly_cents, payment_method, total_cents, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, tx.CustomerID, tx.Kind, tx.CreatedAt, dateArg(tx.StartDate), dateArg(tx.EndDate), tx.ShippingCents, tx.DiscountCents,
		tx.ServiceCents, tx.AssemblyCents, tx.PaymentMethod, tx.TotalCents, tx.Status).Scan(&tx.ID)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) CreateTransactionItem(ctx context.Context, item domain.TransactionItem) (*domain.TransactionItem, error) {
	if (item.ProductID == nil) == (item.ComboID == nil) || item.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO transaction_items (transaction_id, product_id, combo_id, name, quantity, unit_price_cents, line_total_cents)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, item.TransactionID, item.ProductID, item.ComboID, item.Name, item.Quantity, item.UnitPriceCents, item.LineTotalCents).Scan(&item.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET customer_id = $2, kind = $3, start_date = $4, end_date = $5, shipping_cents = $6, discount_cents = $7,
			service_cents = $8, assembly_cents = $9, payment_method = $10, total_cents = $11, status = $12
		WHERE id = $1
	`, tx.ID, tx.CustomerID, tx.Kind, dateArg(tx.StartDate), dateArg(tx.EndDate), tx.ShippingCents, tx.DiscountCents,
		tx.ServiceCents, tx.AssemblyCents, tx.PaymentMethod, tx.TotalCents, tx.Status)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetTransaction(ctx, tx.ID)
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	return &txs[0], nil
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CustomerID != 0 {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	switch filter.Order {
	case store.OrderOldest:
		query += ` ORDER BY created_at, id`
	case store.OrderStartDate:
		query += ` ORDER BY start_date NULLS LAST, id`
	default:
		query += ` ORDER BY created_at DESC, id DESC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryTransactions(ctx, query, args...)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	txs := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(txs) == 0 {
		return txs, nil
	}
	ids := make([]int64, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID)
	}
	items, err := s.transactionItems(ctx, `WHERE transaction_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	byTx := make(map[int64][]domain.TransactionItem, len(txs))
	for _, item := range items {
		byTx[item.TransactionID] = append(byTx[item.TransactionID], item)
	}
	for i := range txs {
		txs[i].Items = byTx[txs[i].ID]
	}
	return txs, nil
}

func (s *Store) transactionItems(ctx context.Context, where string, args ...any) ([]domain.TransactionItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, transaction_id, product_id, combo_id, name, quantity, unit_price_cents, line_total_cents
		FROM transaction_items `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, 64)
	for rows.Next() {
		var item domain.TransactionItem
		var productID, comboID sql.NullInt64
		if err := rows.Scan(&item.ID, &item.TransactionID, &productID, &comboID, &item.Name, &item.Quantity, &item.UnitPriceCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		item.ProductID = nullID(productID)
		item.ComboID = nullID(comboID)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	return s.WithinTx(ctx, func(tx store.Repository) error {
		q := tx.(*Store).q
		if _, err := q.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, id); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return expectAffected(res)
	})
}

func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	snapshot := domain.Snapshot{CreatedAt: time.Now().UTC()}
	err := s.WithinTx(ctx, func(tx store.Repository) error {
		pg := tx.(*Store)
		var err error
		if snapshot.Products, err = pg.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`); err != nil {
			return err
		}
		if snapshot.Customers, err = pg.ListCustomers(ctx); err != nil {
			return err
		}
		combos, err := pg.queryCombos(ctx, `SELECT `+comboColumns+` FROM combos ORDER BY id`)
		if err != nil {
			return err
		}
		for _, combo := range combos {
			snapshot.ComboItems = append(snapshot.ComboItems, combo.Items...)
			combo.Items = nil
			snapshot.Combos = append(snapshot.Combos, combo)
		}
		txs, err := pg.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY id`)
		if err != nil {
			return err
		}
		for _, t := range txs {
			snapshot.TransactionItems = append(snapshot.TransactionItems, t.Items...)
			t.Items = nil
			snapshot.Transactions = append(snapshot.Transactions, t)
		}
		return nil
	})
	return snapshot, err
}

var businessTables = []string{"products", "customers", "combos", "combo_items", "transactions", "transaction_items"}

func (s *Store) Restore(ctx context.Context, snapshot domain.Snapshot) error {
	return s.WithinTx(ctx, func(tx store.Repository) error {
		q := tx.(*Store).q
		if err := truncate(ctx, q); err != nil {
			return err
		}

		for _, p := range snapshot.Products {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO products (`+productColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, p.ID, p.Name, p.Quantity, p.Category, p.CostCents, p.MarginPercent, p.PriceCents, p.Photo); err != nil {
				return restoreError("product", p.ID, err)
			}
		}
		for _, c := range snapshot.Customers {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO customers (`+customerColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, c.ID, c.Name, c.Phone, c.Address, c.Coordinates, c.Note, c.Photo); err != nil {
				return restoreError("customer", c.ID, err)
			}
		}
		for _, c := range snapshot.Combos {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO combos (`+comboColumns+`) VALUES ($1,$2,$3,$4,$5)
			`, c.ID, c.Name, c.Note, c.ExtraFeeCents, c.PriceCents); err != nil {
				return restoreError("combo", c.ID, err)
			}
		}
		for _, item := range snapshot.ComboItems {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO combo_items (id, combo_id, product_id, quantity) VALUES ($1,$2,$3,$4)
			`, item.ID, item.ComboID, item.ProductID, item.Quantity); err != nil {
				return restoreError("combo item", item.ID, err)
			}
		}
		for _, t := range snapshot.Transactions {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO transactions (`+transactionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			`, t.ID, t.CustomerID, t.Kind, t.CreatedAt, dateArg(t.StartDate), dateArg(t.EndDate), t.ShippingCents, t.DiscountCents,
				t.ServiceCents, t.AssemblyCents, t.PaymentMethod, t.TotalCents, t.Status); err != nil {
				return restoreError("transaction", t.ID, err)
			}
		}
		for _, item := range snapshot.TransactionItems {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO transaction_items (id, transaction_id, product_id, combo_id, name, quantity, unit_price_cents, line_total_cents)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, item.ID, item.TransactionID, item.ProductID, item.ComboID, item.Name, item.Quantity, item.UnitPriceCents, item.LineTotalCents); err != nil {
				return restoreError("transaction item", item.ID, err)
			}
		}

		for _, table := range businessTables {
			if _, err := q.ExecContext(ctx, fmt.Sprintf(
				`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)`, table,
			)); err != nil {
				return fmt.Errorf("reset %s sequence: %w", table, err)
			}
		}
		return nil
	})
}

func (s *Store) Wipe(ctx context.Context) error {
	return s.WithinTx(ctx, func(tx store.Repository) error {
		return truncate(ctx, tx.(*Store).q)
	})
}

func truncate(ctx context.Context, q dbtx) error {
	_, err := q.ExecContext(ctx, `TRUNCATE `+strings.Join(businessTables, ", ")+` RESTART IDENTITY`)
	return err
}

func restoreError(entity string, id int64, err error) error {
	if isForeignKeyViolation(err) || isUniqueViolation(err) || isCheckViolation(err) {
		return store.Invalid("%s %d: %v", entity, id, err)
	}
	return fmt.Errorf("restore %s %d: %w", entity, id, err)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid("user %s already exists", username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.q.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func likePattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(term)) + "%"
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullDate(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	d := time.Date(v.Time.Year(), v.Time.Month(), v.Time.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func nullID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

func isSerializationFailure(err error) bool {
	code := pgCode(err)
	return code == "40001" || code == "40P01"
}
