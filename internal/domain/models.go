package domain

import "time"

type Product struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"-"`
	Name               string    `json:"name"`
	PurchasePriceCents int64     `json:"purchase_price_cents"`
	RetailPriceCents   int64     `json:"retail_price_cents"`
	Stock              int       `json:"stock"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name               string `json:"name"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	RetailPriceCents   int64  `json:"retail_price_cents"`
	Stock              int    `json:"stock"`
}

type ProductUpdateRequest struct {
	Name               *string `json:"name,omitempty"`
	PurchasePriceCents *int64  `json:"purchase_price_cents,omitempty"`
	RetailPriceCents   *int64  `json:"retail_price_cents,omitempty"`
	Stock              *int    `json:"stock,omitempty"`
}

type RestockRequest struct {
	Qty int `json:"qty"`
}

type Customer struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"-"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Address         string    `json:"address,omitempty"`
	CreditCents     int64     `json:"credit_cents"`
	TotalSpentCents int64     `json:"total_spent_cents"`
	TotalBills      int       `json:"total_bills"`
	CreatedAt       time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Address     string `json:"address,omitempty"`
	CreditCents int64  `json:"credit_cents"`
}

type CustomerUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Address     *string `json:"address,omitempty"`
	CreditCents *int64  `json:"credit_cents,omitempty"`
}

// BillItem carries a snapshot of the product name and retail price at sale
// time. The snapshot is immutable; later product edits never touch it.
type BillItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	PriceCents  int64  `json:"price_cents"`
}

type Bill struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"-"`
	CustomerID      string     `json:"customer_id,omitempty"`
	CustomerName    string     `json:"customer_name"`
	Date            time.Time  `json:"date"`
	Items           []BillItem `json:"items"`
	TotalCents      int64      `json:"total_cents"`
	PaidAmountCents int64      `json:"paid_amount_cents"`
	PaymentMethod   string     `json:"payment_method"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

type CartItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	PriceCents  int64  `json:"price_cents"`
}

type BillCreateRequest struct {
	CustomerID      string     `json:"customer_id,omitempty"`
	PaymentMethod   string     `json:"payment_method"`
	PaidAmountCents int64      `json:"paid_amount_cents"`
	Items           []CartItem `json:"items"`
}

// BillCreateResponse carries exactly one of Bill or CreditPayment. A request
// with cart items produces a bill; a request with a customer, an empty cart,
// and a positive paid amount is treated as a credit payment and produces no
// bill record.
type BillCreateResponse struct {
	Bill          *Bill                `json:"bill,omitempty"`
	CreditPayment *CreditPaymentResult `json:"credit_payment,omitempty"`
	Receipt       Receipt              `json:"receipt"`
}

// CreditPaymentRequest is the credit-only path: no cart, no bill record.
type CreditPaymentRequest struct {
	PaidAmountCents int64 `json:"paid_amount_cents"`
}

type CreditPaymentResult struct {
	CustomerID           string    `json:"customer_id"`
	CustomerName         string    `json:"customer_name"`
	CreditBeforeCents    int64     `json:"credit_before_cents"`
	PaidAmountCents      int64     `json:"paid_amount_cents"`
	RemainingCreditCents int64     `json:"remaining_credit_cents"`
	PaidAt               time.Time `json:"paid_at"`
}

type CreditPaymentResponse struct {
	Payment CreditPaymentResult `json:"payment"`
	Receipt Receipt             `json:"receipt"`
}

type Expense struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"`
	Title       string    `json:"title"`
	AmountCents int64     `json:"amount_cents"`
	Date        time.Time `json:"date"`
	CreatedAt   time.Time `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Title       string `json:"title"`
	AmountCents int64  `json:"amount_cents"`
	Date        string `json:"date,omitempty"`
}

// Receipt is the stable textual contract handed to the UI: renderable as
// plain text for copy/share and as a printable document.
type Receipt struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type SalesReport struct {
	Period            string `json:"period"`
	From              string `json:"from"`
	To                string `json:"to"`
	TotalSalesCents   int64  `json:"total_sales_cents"`
	TotalExpenseCents int64  `json:"total_expense_cents"`
	ProfitCents       int64  `json:"profit_cents"`
	SalesCount        int64  `json:"sales_count"`
	TopPaymentMethod  string `json:"top_payment_method"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ShopName string `json:"shop_name,omitempty"`
}

// Actor is the authenticated shop owner; its username scopes every row.
type Actor struct {
	Username string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	ShopName  string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash    = "Cash"
	PaymentCredit  = "Credit"
	PaymentDigital = "Digital"
)

const (
	BillStatusPaid    = "paid"
	BillStatusPartial = "partial"
	BillStatusUnpaid  = "unpaid"
)

const WalkInCustomerName = "Walk-in Customer"

const (
	ReportPeriodDaily   = "daily"
	ReportPeriodWeekly  = "weekly"
	ReportPeriodMonthly = "monthly"
)
