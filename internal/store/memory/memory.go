package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
)

type data struct {
	products     map[int64]domain.Product
	customers    map[int64]domain.Customer
	combos       map[int64]domain.Combo
	transactions map[int64]domain.Transaction

	productSeq         int64
	customerSeq        int64
	comboSeq           int64
	comboItemSeq       int64
	transactionSeq     int64
	transactionItemSeq int64
}

func newData() *data {
	return &data{
		products:     make(map[int64]domain.Product),
		customers:    make(map[int64]domain.Customer),
		combos:       make(map[int64]domain.Combo),
		transactions: make(map[int64]domain.Transaction),
	}
}

func (d *data) clone() *data {
	dup := *d
	dup.products = make(map[int64]domain.Product, len(d.products))
	for id, product := range d.products {
		dup.products[id] = product
	}
	dup.customers = make(map[int64]domain.Customer, len(d.customers))
	for id, customer := range d.customers {
		dup.customers[id] = customer
	}
	dup.combos = make(map[int64]domain.Combo, len(d.combos))
	for id, combo := range d.combos {
		dup.combos[id] = cloneCombo(combo)
	}
	dup.transactions = make(map[int64]domain.Transaction, len(d.transactions))
	for id, tx := range d.transactions {
		dup.transactions[id] = cloneTransaction(tx)
	}
	return &dup
}

type userBook struct {
	mu         sync.RWMutex
	byUsername map[string]domain.UserAccount
}

// Store keeps everything in process memory. Units of work run on a private copy of the
// data that replaces the shared state only when the unit of work succeeds.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    *data
	users   *userBook
	inTx    bool
}

func New() *Store {
	return &Store{
		data:  newData(),
		users: &userBook{byUsername: make(map[string]domain.UserAccount)},
	}
}

// WithinTx serializes units of work. fn must only use the repository it is given.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	working := s.data.clone()
	s.mu.RUnlock()

	child := &Store{data: working, users: s.users, inTx: true}
	if err := fn(child); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = child.data
	s.mu.Unlock()
	return nil
}

func (s *Store) view(fn func(d *data) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *Store) update(fn func(d *data) error) error {
	if !s.inTx {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.view(func(d *data) error {
		products = make([]domain.Product, 0, len(d.products))
		for _, product := range d.products {
			products = append(products, product)
		}
		return nil
	})
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return products, err
}

func (s *Store) SearchProducts(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	matched := slices.DeleteFunc(products, func(p domain.Product) bool {
		return !strings.Contains(strings.ToLower(p.Name), term)
	})
	slices.SortFunc(matched, func(a, b domain.Product) int {
		return cmp.Or(cmpString(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.view(func(d *data) error {
		found, ok := d.products[id]
		if !ok {
			return store.ErrNotFound
		}
		product = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	err := s.update(func(d *data) error {
		d.productSeq++
		product.ID = d.productSeq
		d.products[product.ID] = product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Quantity < 0 {
		return nil, store.ErrInvalidInput
	}
	err := s.update(func(d *data) error {
		if _, ok := d.products[product.ID]; !ok {
			return store.ErrNotFound
		}
		d.products[product.ID] = product
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	return s.update(func(d *data) error {
		if _, ok := d.products[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.products, id)
		return nil
	})
}

func (s *Store) AddProductStock(_ context.Context, id int64, delta int) (*domain.Product, error) {
	var product domain.Product
	err := s.update(func(d *data) error {
		found, ok := d.products[id]
		if !ok {
			return store.ErrNotFound
		}
		if found.Quantity+delta < 0 {
			return &store.StockError{ProductID: found.ID, Product: found.Name, OnHand: found.Quantity, Requested: -delta}
		}
		if delta > domain.MaxQuantity-found.Quantity {
			return store.Invalid("stock of %s would exceed %d", found.Name, domain.MaxQuantity)
		}
		found.Quantity += delta
		d.products[id] = found
		product = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := s.view(func(d *data) error {
		customers = make([]domain.Customer, 0, len(d.customers))
		for _, customer := range d.customers {
			customers = append(customers, customer)
		}
		return nil
	})
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmp.Or(cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.ID, b.ID))
	})
	return customers, err
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.view(func(d *data) error {
		found, ok := d.customers[id]
		if !ok {
			return store.ErrNotFound
		}
		customer = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.update(func(d *data) error {
		d.customerSeq++
		customer.ID = d.customerSeq
		d.customers[customer.ID] = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.update(func(d *data) error {
		if _, ok := d.customers[customer.ID]; !ok {
			return store.ErrNotFound
		}
		d.customers[customer.ID] = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// DeleteCustomer leaves the customer's transactions in place.
func (s *Store) DeleteCustomer(_ context.Context, id int64) error {
	return s.update(func(d *data) error {
		if _, ok := d.customers[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.customers, id)
		return nil
	})
}

func (s *Store) ListCombos(_ context.Context) ([]domain.Combo, error) {
	var combos []domain.Combo
	err := s.view(func(d *data) error {
		combos = make([]domain.Combo, 0, len(d.combos))
		for _, combo := range d.combos {
			combos = append(combos, cloneCombo(combo))
		}
		return nil
	})
	slices.SortFunc(combos, func(a, b domain.Combo) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return combos, err
}

func (s *Store) SearchCombos(ctx context.Context, term string, limit int) ([]domain.Combo, error) {
	combos, err := s.ListCombos(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	matched := slices.DeleteFunc(combos, func(c domain.Combo) bool {
		return !strings.Contains(strings.ToLower(c.Name), term)
	})
	slices.SortFunc(matched, func(a, b domain.Combo) int {
		return cmp.Or(cmpString(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) GetCombo(_ context.Context, id int64) (*domain.Combo, error) {
	var combo domain.Combo
	err := s.view(func(d *data) error {
		found, ok := d.combos[id]
		if !ok {
			return store.ErrNotFound
		}
		combo = cloneCombo(found)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &combo, nil
}

func (s *Store) ListCombosByProduct(ctx context.Context, productID int64) ([]domain.Combo, error) {
	combos, err := s.ListCombos(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(combos, func(c domain.Combo) bool {
		return !slices.ContainsFunc(c.Items, func(item domain.ComboItem) bool {
			return item.ProductID == productID
		})
	}), nil
}

func (s *Store) CreateCombo(_ context.Context, combo domain.Combo) (*domain.Combo, error) {
	if strings.TrimSpace(combo.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	combo = cloneCombo(combo)
	err := s.update(func(d *data) error {
		d.comboSeq++
		combo.ID = d.comboSeq
		if err := d.assignComboItems(&combo); err != nil {
			return err
		}
		d.combos[combo.ID] = combo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &combo, nil
}

func (s *Store) UpdateCombo(_ context.Context, combo domain.Combo) (*domain.Combo, error) {
	if strings.TrimSpace(combo.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	combo = cloneCombo(combo)
	err := s.update(func(d *data) error {
		if _, ok := d.combos[combo.ID]; !ok {
			return store.ErrNotFound
		}
		if err := d.assignComboItems(&combo); err != nil {
			return err
		}
		d.combos[combo.ID] = combo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &combo, nil
}

func (d *data) assignComboItems(combo *domain.Combo) error {
	for i := range combo.Items {
		if combo.Items[i].Quantity < 1 {
			return store.ErrInvalidInput
		}
		d.comboItemSeq++
		combo.Items[i].ID = d.comboItemSeq
		combo.Items[i].ComboID = combo.ID
	}
	return nil
}

// DeleteCombo removes the combo together with its items.
func (s *Store) DeleteCombo(_ context.Context, id int64) error {
	return s.update(func(d *data) error {
		if _, ok := d.combos[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.combos, id)
		return nil
	})
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.Kind == "" || tx.Status == "" {
		return nil, store.ErrInvalidInput
	}
	tx.Items = nil
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	err := s.update(func(d *data) error {
		d.transactionSeq++
		tx.ID = d.transactionSeq
		d.transactions[tx.ID] = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) CreateTransactionItem(_ context.Context, item domain.TransactionItem) (*domain.TransactionItem, error) {
	if (item.ProductID == nil) == (item.ComboID == nil) || item.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	err := s.update(func(d *data) error {
		tx, ok := d.transactions[item.TransactionID]
		if !ok {
			return store.ErrNotFound
		}
		d.transactionItemSeq++
		item.ID = d.transactionItemSeq
		tx.Items = append(tx.Items, item)
		d.transactions[tx.ID] = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	var updated domain.Transaction
	err := s.update(func(d *data) error {
		existing, ok := d.transactions[tx.ID]
		if !ok {
			return store.ErrNotFound
		}
		tx.Items = existing.Items
		tx.CreatedAt = existing.CreatedAt
		d.transactions[tx.ID] = tx
		updated = cloneTransaction(tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := s.view(func(d *data) error {
		found, ok := d.transactions[id]
		if !ok {
			return store.ErrNotFound
		}
		tx = cloneTransaction(found)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	err := s.view(func(d *data) error {
		for _, tx := range d.transactions {
			if filter.CustomerID != 0 && tx.CustomerID != filter.CustomerID {
				continue
			}
			if filter.Kind != "" && tx.Kind != filter.Kind {
				continue
			}
			if filter.Status != "" && tx.Status != filter.Status {
				continue
			}
			if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && !tx.CreatedAt.Before(filter.To) {
				continue
			}
			txs = append(txs, cloneTransaction(tx))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch filter.Order {
	case store.OrderOldest:
		slices.SortFunc(txs, func(a, b domain.Transaction) int {
			return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
		})
	case store.OrderStartDate:
		slices.SortFunc(txs, func(a, b domain.Transaction) int {
			return cmp.Or(compareStartDate(a.StartDate, b.StartDate), cmp.Compare(a.ID, b.ID))
		})
	default:
		slices.SortFunc(txs, func(a, b domain.Transaction) int {
			return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
		})
	}
	if filter.Limit > 0 && len(txs) > filter.Limit {
		txs = txs[:filter.Limit]
	}
	return txs, nil
}

// DeleteTransaction removes the transaction together with its items.
func (s *Store) DeleteTransaction(_ context.Context, id int64) error {
	return s.update(func(d *data) error {
		if _, ok := d.transactions[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.transactions, id)
		return nil
	})
}

func (s *Store) Snapshot(_ context.Context) (domain.Snapshot, error) {
	snapshot := domain.Snapshot{CreatedAt: time.Now().UTC()}
	err := s.view(func(d *data) error {
		for _, product := range d.products {
			snapshot.Products = append(snapshot.Products, product)
		}
		for _, customer := range d.customers {
			snapshot.Customers = append(snapshot.Customers, customer)
		}
		for _, combo := range d.combos {
			snapshot.ComboItems = append(snapshot.ComboItems, combo.Items...)
			combo.Items = nil
			snapshot.Combos = append(snapshot.Combos, combo)
		}
		for _, tx := range d.transactions {
			snapshot.TransactionItems = append(snapshot.TransactionItems, tx.Items...)
			tx.Items = nil
			snapshot.Transactions = append(snapshot.Transactions, tx)
		}
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	slices.SortFunc(snapshot.Products, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(snapshot.Customers, func(a, b domain.Customer) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(snapshot.Combos, func(a, b domain.Combo) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(snapshot.ComboItems, func(a, b domain.ComboItem) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(snapshot.Transactions, func(a, b domain.Transaction) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(snapshot.TransactionItems, func(a, b domain.TransactionItem) int { return cmp.Compare(a.ID, b.ID) })
	return snapshot, nil
}

func (s *Store) Restore(_ context.Context, snapshot domain.Snapshot) error {
	restored := newData()
	for _, product := range snapshot.Products {
		restored.products[product.ID] = product
		restored.productSeq = max(restored.productSeq, product.ID)
	}
	for _, customer := range snapshot.Customers {
		restored.customers[customer.ID] = customer
		restored.customerSeq = max(restored.customerSeq, customer.ID)
	}
	for _, combo := range snapshot.Combos {
		combo.Items = nil
		restored.combos[combo.ID] = combo
		restored.comboSeq = max(restored.comboSeq, combo.ID)
	}
	for _, item := range snapshot.ComboItems {
		combo, ok := restored.combos[item.ComboID]
		if !ok {
			return store.Invalid("combo item %d references missing combo %d", item.ID, item.ComboID)
		}
		combo.Items = append(combo.Items, item)
		restored.combos[combo.ID] = combo
		restored.comboItemSeq = max(restored.comboItemSeq, item.ID)
	}
	for _, tx := range snapshot.Transactions {
		tx.Items = nil
		restored.transactions[tx.ID] = tx
		restored.transactionSeq = max(restored.transactionSeq, tx.ID)
	}
	for _, item := range snapshot.TransactionItems {
		tx, ok := restored.transactions[item.TransactionID]
		if !ok {
			return store.Invalid("transaction item %d references missing transaction %d", item.ID, item.TransactionID)
		}
		tx.Items = append(tx.Items, item)
		restored.transactions[tx.ID] = tx
		restored.transactionItemSeq = max(restored.transactionItemSeq, item.ID)
	}

	return s.update(func(d *data) error {
		*d = *restored
		return nil
	})
}

func (s *Store) Wipe(_ context.Context) error {
	return s.update(func(d *data) error {
		*d = *newData()
		return nil
	})
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.users.mu.Lock()
	defer s.users.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users.byUsername[username]; exists {
		return store.Invalid("user %s already exists", username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users.byUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.users.mu.RLock()
	defer s.users.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users.byUsername))
	for _, user := range s.users.byUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.users.mu.Lock()
	defer s.users.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.users.byUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users.byUsername[username] = user
	return nil
}

func compareStartDate(a *time.Time, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneCombo(src domain.Combo) domain.Combo {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}
