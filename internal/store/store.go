package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotAuthenticated  = errors.New("not authenticated")
)

// InsufficientStockError reports which product line failed the stock check.
// It unwraps to ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: have %d, want %d", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// CustomerLedgerUpdate describes the credit and aggregate changes applied to
// a customer row as part of a bill write.
type CustomerLedgerUpdate struct {
	CustomerID      string
	CreditDelta     int64
	SpentDelta      int64
	BillCountDelta  int
	ClampCreditZero bool
}

type Repository interface {
	ListProducts(ctx context.Context, ownerID string) ([]domain.Product, error)
	GetProductByID(ctx context.Context, ownerID string, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, ownerID string, productID string) error
	AdjustStock(ctx context.Context, ownerID string, productID string, delta int) (*domain.Product, error)

	ListCustomers(ctx context.Context, ownerID string) ([]domain.Customer, error)
	GetCustomerByID(ctx context.Context, ownerID string, customerID string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, ownerID string, customerID string) error
	ApplyCreditPayment(ctx context.Context, ownerID string, customerID string, amountCents int64) (*domain.Customer, int64, error)

	ListBills(ctx context.Context, ownerID string) ([]domain.Bill, error)
	GetBillByID(ctx context.Context, ownerID string, billID string) (*domain.Bill, error)
	CreateBill(ctx context.Context, bill domain.Bill, ledger *CustomerLedgerUpdate) (*domain.Bill, error)
	DeleteBill(ctx context.Context, ownerID string, billID string) error

	ListExpenses(ctx context.Context, ownerID string) ([]domain.Expense, error)
	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)

	SalesSummary(ctx context.Context, ownerID string, from time.Time, to time.Time) (domain.SalesReport, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
