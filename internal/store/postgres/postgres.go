package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
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

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, purchase_price_cents, retail_price_cents, stock, created_at, updated_at
		FROM products
		WHERE owner_id = $1
		ORDER BY lower(name)
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.PurchasePriceCents, &p.RetailPriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, ownerID string, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, purchase_price_cents, retail_price_cents, stock, created_at, updated_at
		FROM products
		WHERE owner_id = $1 AND id = $2
	`, ownerID, productID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.PurchasePriceCents, &p.RetailPriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, owner_id, name, purchase_price_cents, retail_price_cents, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.OwnerID, product.Name, product.PurchasePriceCents, product.RetailPriceCents, product.Stock, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrValidation
	}

	var updated domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, purchase_price_cents = $4, retail_price_cents = $5, stock = $6, updated_at = now()
		WHERE owner_id = $1 AND id = $2
		RETURNING id, owner_id, name, purchase_price_cents, retail_price_cents, stock, created_at, updated_at
	`, product.OwnerID, product.ID, product.Name, product.PurchasePriceCents, product.RetailPriceCents, product.Stock).Scan(
		&updated.ID,
		&updated.OwnerID,
		&updated.Name,
		&updated.PurchasePriceCents,
		&updated.RetailPriceCents,
		&updated.Stock,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	updated.UpdatedAt = updated.UpdatedAt.UTC()
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, ownerID string, productID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM products WHERE owner_id = $1 AND id = $2
	`, ownerID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AdjustStock applies a signed delta with a conditional update, so a
// concurrent sale can never drive stock below zero.
func (s *Store) AdjustStock(ctx context.Context, ownerID string, productID string, delta int) (*domain.Product, error) {
	var updated domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $3, updated_at = now()
		WHERE owner_id = $1 AND id = $2 AND stock + $3 >= 0
		RETURNING id, owner_id, name, purchase_price_cents, retail_price_cents, stock, created_at, updated_at
	`, ownerID, productID, delta).Scan(
		&updated.ID,
		&updated.OwnerID,
		&updated.Name,
		&updated.PurchasePriceCents,
		&updated.RetailPriceCents,
		&updated.Stock,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			product, lookupErr := s.GetProductByID(ctx, ownerID, productID)
			if lookupErr != nil {
				return nil, store.ErrNotFound
			}
			return nil, &store.InsufficientStockError{
				ProductID: productID,
				Available: product.Stock,
				Requested: -delta,
			}
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	updated.UpdatedAt = updated.UpdatedAt.UTC()
	return &updated, nil
}

func (s *Store) ListCustomers(ctx context.Context, ownerID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, phone, COALESCE(address,''), credit_cents, total_spent_cents, total_bills, created_at
		FROM customers
		WHERE owner_id = $1
		ORDER BY lower(name)
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Address, &c.CreditCents, &c.TotalSpentCents, &c.TotalBills, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, ownerID string, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, phone, COALESCE(address,''), credit_cents, total_spent_cents, total_bills, created_at
		FROM customers
		WHERE owner_id = $1 AND id = $2
	`, ownerID, customerID).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Address, &c.CreditCents, &c.TotalSpentCents, &c.TotalBills, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.OwnerID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, owner_id, name, phone, address, credit_cents, total_spent_cents, total_bills, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, customer.ID, customer.OwnerID, customer.Name, customer.Phone, nullIfEmpty(customer.Address), customer.CreditCents, customer.TotalSpentCents, customer.TotalBills, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrValidation
	}

	var updated domain.Customer
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $3, phone = $4, address = $5, credit_cents = $6
		WHERE owner_id = $1 AND id = $2
		RETURNING id, owner_id, name, phone, COALESCE(address,''), credit_cents, total_spent_cents, total_bills, created_at
	`, customer.OwnerID, customer.ID, customer.Name, customer.Phone, nullIfEmpty(customer.Address), customer.CreditCents).Scan(
		&updated.ID,
		&updated.OwnerID,
		&updated.Name,
		&updated.Phone,
		&updated.Address,
		&updated.CreditCents,
		&updated.TotalSpentCents,
		&updated.TotalBills,
		&updated.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, ownerID string, customerID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM customers WHERE owner_id = $1 AND id = $2
	`, ownerID, customerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ApplyCreditPayment locks the customer row, caps the payment at the
// outstanding credit, and returns the applied amount alongside the updated
// row.
func (s *Store) ApplyCreditPayment(ctx context.Context, ownerID string, customerID string, amountCents int64) (*domain.Customer, int64, error) {
	if amountCents < 1 {
		return nil, 0, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var c domain.Customer
	err = tx.QueryRowContext(ctx, `
		SELECT id, owner_id, name, phone, COALESCE(address,''), credit_cents, total_spent_cents, total_bills, created_at
		FROM customers
		WHERE owner_id = $1 AND id = $2
		FOR UPDATE
	`, ownerID, customerID).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Address, &c.CreditCents, &c.TotalSpentCents, &c.TotalBills, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, err
	}

	applied := amountCents
	if applied > c.CreditCents {
		applied = c.CreditCents
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE customers
		SET credit_cents = credit_cents - $3
		WHERE owner_id = $1 AND id = $2
	`, ownerID, customerID, applied)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	c.CreditCents -= applied
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, applied, nil
}

func (s *Store) ListBills(ctx context.Context, ownerID string) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, COALESCE(customer_id,''), customer_name, bill_date,
			total_cents, paid_amount_cents, payment_method, status, created_at
		FROM bills
		WHERE owner_id = $1
		ORDER BY bill_date DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 128)
	ids := make([]string, 0, 128)
	for rows.Next() {
		var b domain.Bill
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.CustomerID, &b.CustomerName, &b.Date, &b.TotalCents, &b.PaidAmountCents, &b.PaymentMethod, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Date = b.Date.UTC()
		b.CreatedAt = b.CreatedAt.UTC()
		bills = append(bills, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return bills, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT bill_id, product_id, product_name, qty, price_cents
		FROM bill_items
		WHERE bill_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemMap := make(map[string][]domain.BillItem, len(ids))
	for itemRows.Next() {
		var billID string
		var item domain.BillItem
		if err := itemRows.Scan(&billID, &item.ProductID, &item.ProductName, &item.Qty, &item.PriceCents); err != nil {
			return nil, err
		}
		itemMap[billID] = append(itemMap[billID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		bills[i].Items = itemMap[bills[i].ID]
	}
	return bills, nil
}

func (s *Store) GetBillByID(ctx context.Context, ownerID string, billID string) (*domain.Bill, error) {
	var b domain.Bill
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, COALESCE(customer_id,''), customer_name, bill_date,
			total_cents, paid_amount_cents, payment_method, status, created_at
		FROM bills
		WHERE owner_id = $1 AND id = $2
	`, ownerID, billID).Scan(&b.ID, &b.OwnerID, &b.CustomerID, &b.CustomerName, &b.Date, &b.TotalCents, &b.PaidAmountCents, &b.PaymentMethod, &b.Status, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b.Date = b.Date.UTC()
	b.CreatedAt = b.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, qty, price_cents
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY id ASC
	`, b.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0, 8)
	for rows.Next() {
		var item domain.BillItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Qty, &item.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.Items = items

	return &b, nil
}

// CreateBill writes the bill header, its items, the stock deductions, and
// the customer ledger update in a single serializable transaction. Stock is
// deducted with conditional updates so two concurrent bills cannot oversell
// the same product.
func (s *Store) CreateBill(ctx context.Context, bill domain.Bill, ledger *store.CustomerLedgerUpdate) (*domain.Bill, error) {
	if bill.OwnerID == "" || len(bill.Items) == 0 {
		return nil, store.ErrValidation
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range bill.Items {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $3, updated_at = now()
			WHERE owner_id = $1 AND id = $2 AND stock >= $3
		`, bill.OwnerID, item.ProductID, item.Qty)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			var available int
			lookupErr := tx.QueryRowContext(ctx, `
				SELECT stock FROM products WHERE owner_id = $1 AND id = $2
			`, bill.OwnerID, item.ProductID).Scan(&available)
			if lookupErr != nil {
				return nil, store.ErrNotFound
			}
			return nil, &store.InsufficientStockError{
				ProductID: item.ProductID,
				Available: available,
				Requested: item.Qty,
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bills (
			id, owner_id, customer_id, customer_name, bill_date,
			total_cents, paid_amount_cents, payment_method, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, bill.ID, bill.OwnerID, nullIfEmpty(bill.CustomerID), bill.CustomerName, bill.Date,
		bill.TotalCents, bill.PaidAmountCents, bill.PaymentMethod, bill.Status, bill.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range bill.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, product_id, product_name, qty, price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, bill.ID, item.ProductID, item.ProductName, item.Qty, item.PriceCents)
		if err != nil {
			return nil, err
		}
	}

	if ledger != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET credit_cents = CASE
					WHEN $4 AND credit_cents + $3 < 0 THEN 0
					ELSE credit_cents + $3
				END,
				total_spent_cents = total_spent_cents + $5,
				total_bills = total_bills + $6
			WHERE owner_id = $1 AND id = $2
		`, bill.OwnerID, ledger.CustomerID, ledger.CreditDelta, ledger.ClampCreditZero, ledger.SpentDelta, ledger.BillCountDelta)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := bill
	return &created, nil
}

// DeleteBill restores the sold quantities to stock and removes the bill and
// its items, all in one transaction. Items whose product no longer exists
// are skipped. Customer ledger entries are left untouched.
func (s *Store) DeleteBill(ctx context.Context, ownerID string, billID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT true FROM bills WHERE owner_id = $1 AND id = $2 FOR UPDATE
	`, ownerID, billID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM bill_items
		WHERE bill_id = $1
	`, billID)
	if err != nil {
		return err
	}
	type restoreLine struct {
		productID string
		qty       int
	}
	lines := make([]restoreLine, 0, 8)
	for itemRows.Next() {
		var line restoreLine
		if err := itemRows.Scan(&line.productID, &line.qty); err != nil {
			_ = itemRows.Close()
			return err
		}
		lines = append(lines, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return err
	}
	_ = itemRows.Close()

	for _, line := range lines {
		_, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $3, updated_at = now()
			WHERE owner_id = $1 AND id = $2
		`, ownerID, line.productID, line.qty)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id = $1`, billID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM bills WHERE owner_id = $1 AND id = $2`, ownerID, billID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListExpenses(ctx context.Context, ownerID string) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, amount_cents, expense_date, created_at
		FROM expenses
		WHERE owner_id = $1
		ORDER BY expense_date DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 64)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Title, &e.AmountCents, &e.Date, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Date = e.Date.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, owner_id, title, amount_cents, expense_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, expense.ID, expense.OwnerID, expense.Title, expense.AmountCents, expense.Date, expense.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) SalesSummary(ctx context.Context, ownerID string, from time.Time, to time.Time) (domain.SalesReport, error) {
	var report domain.SalesReport

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint
		FROM bills
		WHERE owner_id = $1
			AND bill_date >= $2
			AND bill_date < $3
	`, ownerID, from, to).Scan(&report.SalesCount, &report.TotalSalesCents)
	if err != nil {
		return report, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents),0)::bigint
		FROM expenses
		WHERE owner_id = $1
			AND expense_date >= $2
			AND expense_date < $3
	`, ownerID, from, to).Scan(&report.TotalExpenseCents)
	if err != nil {
		return report, err
	}

	var topMethod sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT payment_method
		FROM bills
		WHERE owner_id = $1
			AND bill_date >= $2
			AND bill_date < $3
		GROUP BY payment_method
		ORDER BY COUNT(*) DESC, payment_method ASC
		LIMIT 1
	`, ownerID, from, to).Scan(&topMethod)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return report, err
	}
	if topMethod.Valid {
		report.TopPaymentMethod = topMethod.String
	}

	report.ProfitCents = report.TotalSalesCents - report.TotalExpenseCents
	return report, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, shop_name, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.ShopName, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, COALESCE(shop_name,''), active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.ShopName, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
