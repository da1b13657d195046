package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	productsByID    map[string]domain.Product
	customersByID   map[string]domain.Customer
	billsByID       map[string]domain.Bill
	expensesByID    map[string]domain.Expense
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode. The
// password is read from SEED_OWNER_PASSWORD. If unset, a hardcoded dev
// default is used with a warning printed to stdout. These credentials are
// never used in production (the backend uses PostgreSQL when DATABASE_URL
// is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(ownerPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	return map[string]domain.UserAccount{
		"owner": {
			Username:  "owner",
			Password:  string(hash),
			ShopName:  "Demo Shop",
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Rice 5kg", PurchasePriceCents: 52000, RetailPriceCents: 64900, Stock: 40, CreatedAt: now, UpdatedAt: now},
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Cooking Oil 1L", PurchasePriceCents: 14500, RetailPriceCents: 18900, Stock: 60, CreatedAt: now, UpdatedAt: now},
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Sugar 1kg", PurchasePriceCents: 13800, RetailPriceCents: 17400, Stock: 55, CreatedAt: now, UpdatedAt: now},
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Instant Noodles", PurchasePriceCents: 2700, RetailPriceCents: 3500, Stock: 200, CreatedAt: now, UpdatedAt: now},
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Eggs Tray of 10", PurchasePriceCents: 22000, RetailPriceCents: 26500, Stock: 30, CreatedAt: now, UpdatedAt: now},
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Mineral Water 600ml", PurchasePriceCents: 2800, RetailPriceCents: 3900, Stock: 150, CreatedAt: now, UpdatedAt: now},
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Bath Soap", PurchasePriceCents: 5400, RetailPriceCents: 7400, Stock: 80, CreatedAt: now, UpdatedAt: now},
		{ID: xid.New("prod"), OwnerID: "owner", Name: "Tea Bags 25s", PurchasePriceCents: 7200, RetailPriceCents: 9800, Stock: 45, CreatedAt: now, UpdatedAt: now},
	}
	customers := []domain.Customer{
		{ID: xid.New("cust"), OwnerID: "owner", Name: "Maria Santos", Phone: "555-0101", Address: "12 Market St", CreditCents: 0, CreatedAt: now},
		{ID: xid.New("cust"), OwnerID: "owner", Name: "Ben Okafor", Phone: "555-0102", Address: "4 Harbor Rd", CreditCents: 12500, CreatedAt: now},
		{ID: xid.New("cust"), OwnerID: "owner", Name: "Lena Park", Phone: "555-0103", CreditCents: 0, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}

	return &Store{
		productsByID:    productMap,
		customersByID:   customerMap,
		billsByID:       make(map[string]domain.Bill),
		expensesByID:    make(map[string]domain.Expense),
		usersByUsername: seedUsers(),
	}
}

// New returns an empty store, used by tests that want full control over state.
func New() *Store {
	return &Store{
		productsByID:    make(map[string]domain.Product),
		customersByID:   make(map[string]domain.Customer),
		billsByID:       make(map[string]domain.Bill),
		expensesByID:    make(map[string]domain.Expense),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.OwnerID != ownerID {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, ownerID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.OwnerID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists || existing.OwnerID != product.OwnerID {
		return nil, store.ErrNotFound
	}
	if product.Name == "" {
		return nil, store.ErrValidation
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()

	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, ownerID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[productID]
	if !exists || product.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.productsByID, productID)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, ownerID string, productID string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[productID]
	if !exists || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	next := product.Stock + delta
	if next < 0 {
		return nil, &store.InsufficientStockError{
			ProductID: productID,
			Available: product.Stock,
			Requested: -delta,
		}
	}
	product.Stock = next
	product.UpdatedAt = time.Now().UTC()
	s.productsByID[productID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListCustomers(_ context.Context, ownerID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		if c.OwnerID != ownerID {
			continue
		}
		customers = append(customers, c)
	}

	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	return customers, nil
}

func (s *Store) GetCustomerByID(_ context.Context, ownerID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.OwnerID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customersByID[customer.ID]
	if !exists || existing.OwnerID != customer.OwnerID {
		return nil, store.ErrNotFound
	}
	if customer.Name == "" {
		return nil, store.ErrValidation
	}
	customer.CreatedAt = existing.CreatedAt

	s.customersByID[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, ownerID string, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.customersByID, customerID)
	return nil
}

func (s *Store) ApplyCreditPayment(_ context.Context, ownerID string, customerID string, amountCents int64) (*domain.Customer, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.OwnerID != ownerID {
		return nil, 0, store.ErrNotFound
	}
	if amountCents < 1 {
		return nil, 0, store.ErrValidation
	}

	// Payments above the outstanding credit are capped; the caller sees the
	// applied amount on the returned receipt.
	applied := amountCents
	if applied > customer.CreditCents {
		applied = customer.CreditCents
	}
	customer.CreditCents -= applied
	s.customersByID[customerID] = customer
	copyCustomer := customer
	return &copyCustomer, applied, nil
}

func (s *Store) ListBills(_ context.Context, ownerID string) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.billsByID))
	for _, b := range s.billsByID {
		if b.OwnerID != ownerID {
			continue
		}
		bills = append(bills, cloneBill(b))
	}

	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})

	return bills, nil
}

func (s *Store) GetBillByID(_ context.Context, ownerID string, billID string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.billsByID[billID]
	if !exists || bill.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyBill := cloneBill(bill)
	return &copyBill, nil
}

// CreateBill writes the bill, deducts stock for every item, and applies the
// customer ledger update as one step under the store lock. A stock check
// covering all items runs first, so a failed line leaves nothing changed.
func (s *Store) CreateBill(_ context.Context, bill domain.Bill, ledger *store.CustomerLedgerUpdate) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.OwnerID == "" || len(bill.Items) == 0 {
		return nil, store.ErrValidation
	}

	for _, item := range bill.Items {
		product, exists := s.productsByID[item.ProductID]
		if !exists || product.OwnerID != bill.OwnerID {
			return nil, store.ErrNotFound
		}
		if product.Stock < item.Qty {
			return nil, &store.InsufficientStockError{
				ProductID: item.ProductID,
				Available: product.Stock,
				Requested: item.Qty,
			}
		}
	}
	if ledger != nil {
		customer, exists := s.customersByID[ledger.CustomerID]
		if !exists || customer.OwnerID != bill.OwnerID {
			return nil, store.ErrNotFound
		}
	}

	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	now := time.Now().UTC()
	if bill.Date.IsZero() {
		bill.Date = now
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}

	for _, item := range bill.Items {
		product := s.productsByID[item.ProductID]
		product.Stock -= item.Qty
		product.UpdatedAt = now
		s.productsByID[item.ProductID] = product
	}

	if ledger != nil {
		customer := s.customersByID[ledger.CustomerID]
		customer.CreditCents += ledger.CreditDelta
		if ledger.ClampCreditZero && customer.CreditCents < 0 {
			customer.CreditCents = 0
		}
		customer.TotalSpentCents += ledger.SpentDelta
		customer.TotalBills += ledger.BillCountDelta
		s.customersByID[ledger.CustomerID] = customer
	}

	s.billsByID[bill.ID] = cloneBill(bill)
	created := cloneBill(bill)
	return &created, nil
}

// DeleteBill restores stock for items whose product still exists, then
// removes the bill. Missing products are skipped with a log line; customer
// ledger entries are intentionally left as they are.
func (s *Store) DeleteBill(_ context.Context, ownerID string, billID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, exists := s.billsByID[billID]
	if !exists || bill.OwnerID != ownerID {
		return store.ErrNotFound
	}

	now := time.Now().UTC()
	for _, item := range bill.Items {
		product, ok := s.productsByID[item.ProductID]
		if !ok || product.OwnerID != ownerID {
			log.Printf("[memory-store] bill %s: product %s gone, skipping stock restore", billID, item.ProductID)
			continue
		}
		product.Stock += item.Qty
		product.UpdatedAt = now
		s.productsByID[item.ProductID] = product
	}

	delete(s.billsByID, billID)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, ownerID string) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, len(s.expensesByID))
	for _, e := range s.expensesByID {
		if e.OwnerID != ownerID {
			continue
		}
		expenses = append(expenses, e)
	}

	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})

	return expenses, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.OwnerID == "" || expense.Title == "" || expense.AmountCents < 1 {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	now := time.Now().UTC()
	if expense.Date.IsZero() {
		expense.Date = now
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = now
	}

	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) SalesSummary(_ context.Context, ownerID string, from time.Time, to time.Time) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{}
	methodCount := map[string]int64{}

	for _, bill := range s.billsByID {
		if bill.OwnerID != ownerID {
			continue
		}
		if bill.Date.Before(from) || !bill.Date.Before(to) {
			continue
		}
		report.TotalSalesCents += bill.TotalCents
		report.SalesCount++
		methodCount[bill.PaymentMethod]++
	}
	for _, expense := range s.expensesByID {
		if expense.OwnerID != ownerID {
			continue
		}
		if expense.Date.Before(from) || !expense.Date.Before(to) {
			continue
		}
		report.TotalExpenseCents += expense.AmountCents
	}

	report.ProfitCents = report.TotalSalesCents - report.TotalExpenseCents
	report.TopPaymentMethod = topMethod(methodCount)
	return report, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func topMethod(counts map[string]int64) string {
	top := ""
	topCount := int64(0)
	for method, count := range counts {
		if count > topCount || (count == topCount && top != "" && method < top) {
			top = method
			topCount = count
		}
	}
	return top
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

func cloneBill(src domain.Bill) domain.Bill {
	dup := src
	items := make([]domain.BillItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
