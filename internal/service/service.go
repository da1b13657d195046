package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL < 1 {
		reportTTL = 60 * time.Second
	}

	return &Service{
		repo:      repo,
		reports:   reports,
		reportTTL: reportTTL,
	}
}

// ownerID resolves the authenticated shop owner. Every read and write is
// scoped to it.
func (s *Service) ownerID(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return "", store.ErrNotAuthenticated
	}
	return actor.Username, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, owner)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.PurchasePriceCents < 0 || req.RetailPriceCents < 1 || req.Stock < 0 {
		return domain.Product{}, store.ErrValidation
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:                 xid.New("prod"),
		OwnerID:            owner,
		Name:               req.Name,
		PurchasePriceCents: req.PurchasePriceCents,
		RetailPriceCents:   req.RetailPriceCents,
		Stock:              req.Stock,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, owner, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.PurchasePriceCents != nil {
		if *req.PurchasePriceCents < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.PurchasePriceCents = *req.PurchasePriceCents
	}
	if req.RetailPriceCents != nil {
		if *req.RetailPriceCents < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.RetailPriceCents = *req.RetailPriceCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.Stock = *req.Stock
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, owner, productID)
}

func (s *Service) RestockProduct(ctx context.Context, productID string, req domain.RestockRequest) (domain.Product, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if req.Qty < 1 {
		return domain.Product{}, fmt.Errorf("%w: restock qty must be positive", store.ErrValidation)
	}

	updated, err := s.repo.AdjustStock(ctx, owner, productID, req.Qty)
	if err != nil {
		return domain.Product{}, err
	}
	return *updated, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, owner)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || req.Phone == "" {
		return domain.Customer{}, fmt.Errorf("%w: name and phone are required", store.ErrValidation)
	}
	if req.CreditCents < 0 {
		return domain.Customer{}, store.ErrValidation
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:          xid.New("cust"),
		OwnerID:     owner,
		Name:        req.Name,
		Phone:       req.Phone,
		Address:     strings.TrimSpace(req.Address),
		CreditCents: req.CreditCents,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	existing, err := s.repo.GetCustomerByID(ctx, owner, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone == "" {
			return domain.Customer{}, store.ErrValidation
		}
		updated.Phone = phone
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.CreditCents != nil {
		if *req.CreditCents < 0 {
			return domain.Customer{}, store.ErrValidation
		}
		updated.CreditCents = *req.CreditCents
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, customerID string) error {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return err
	}
	return s.repo.DeleteCustomer(ctx, owner, customerID)
}

// ApplyCreditPayment reduces a customer's running credit. The amount is
// capped at the outstanding credit; the receipt shows the applied amount. No
// bill record is written and the customer's purchase aggregates are left
// untouched.
func (s *Service) ApplyCreditPayment(ctx context.Context, customerID string, req domain.CreditPaymentRequest) (domain.CreditPaymentResponse, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.CreditPaymentResponse{}, err
	}
	if req.PaidAmountCents < 1 {
		return domain.CreditPaymentResponse{}, fmt.Errorf("%w: paid amount must be positive", store.ErrValidation)
	}

	before, err := s.repo.GetCustomerByID(ctx, owner, customerID)
	if err != nil {
		return domain.CreditPaymentResponse{}, err
	}

	after, applied, err := s.repo.ApplyCreditPayment(ctx, owner, customerID, req.PaidAmountCents)
	if err != nil {
		return domain.CreditPaymentResponse{}, err
	}

	payment := domain.CreditPaymentResult{
		CustomerID:           after.ID,
		CustomerName:         after.Name,
		CreditBeforeCents:    before.CreditCents,
		PaidAmountCents:      applied,
		RemainingCreditCents: after.CreditCents,
		PaidAt:               time.Now().UTC(),
	}

	return domain.CreditPaymentResponse{
		Payment: payment,
		Receipt: buildCreditReceipt(payment),
	}, nil
}

func (s *Service) ListBills(ctx context.Context) ([]domain.Bill, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBills(ctx, owner)
}

func (s *Service) GetBill(ctx context.Context, billID string) (domain.Bill, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.Bill{}, err
	}
	bill, err := s.repo.GetBillByID(ctx, owner, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

// CreateBill handles the checkout flow. With cart items it snapshots product
// names and retail prices, deducts stock, writes the bill, and adjusts the
// customer's credit ledger. With an empty cart it falls through to a plain
// credit payment for the named customer.
//
// Credit math, all in cents: creditAmount = max(0, total-paid) is added to
// the customer's credit and marks the bill partial (unpaid when nothing was
// paid at all); creditReduction =
// max(0, paid-total) is subtracted, clamped at zero, and marks it paid. At
// most one of the two is positive.
func (s *Service) CreateBill(ctx context.Context, req domain.BillCreateRequest) (domain.BillCreateResponse, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.BillCreateResponse{}, err
	}

	if req.PaidAmountCents < 0 {
		return domain.BillCreateResponse{}, fmt.Errorf("%w: paid amount cannot be negative", store.ErrValidation)
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.BillCreateResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}

	items := normalizeItems(req.Items)

	if len(items) == 0 {
		if req.CustomerID == "" || req.PaidAmountCents < 1 {
			return domain.BillCreateResponse{}, fmt.Errorf("%w: bill requires cart items", store.ErrValidation)
		}
		resp, err := s.ApplyCreditPayment(ctx, req.CustomerID, domain.CreditPaymentRequest{PaidAmountCents: req.PaidAmountCents})
		if err != nil {
			return domain.BillCreateResponse{}, err
		}
		return domain.BillCreateResponse{
			CreditPayment: &resp.Payment,
			Receipt:       resp.Receipt,
		}, nil
	}

	if req.PaymentMethod == domain.PaymentCredit && req.CustomerID == "" {
		return domain.BillCreateResponse{}, fmt.Errorf("%w: credit sales require a customer", store.ErrValidation)
	}

	billItems := make([]domain.BillItem, 0, len(items))
	total := int64(0)
	for _, item := range items {
		product, err := s.repo.GetProductByID(ctx, owner, item.ProductID)
		if err != nil {
			return domain.BillCreateResponse{}, err
		}
		if product.Stock < item.Qty {
			return domain.BillCreateResponse{}, &store.InsufficientStockError{
				ProductID: product.ID,
				Available: product.Stock,
				Requested: item.Qty,
			}
		}
		billItems = append(billItems, domain.BillItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Qty:         item.Qty,
			PriceCents:  product.RetailPriceCents,
		})
		total += int64(item.Qty) * product.RetailPriceCents
	}

	customerName := domain.WalkInCustomerName
	var ledger *store.CustomerLedgerUpdate
	status := domain.BillStatusPaid
	paid := req.PaidAmountCents

	if req.CustomerID == "" {
		// Walk-in sales always settle in full.
		paid = total
	} else {
		customer, err := s.repo.GetCustomerByID(ctx, owner, req.CustomerID)
		if err != nil {
			return domain.BillCreateResponse{}, err
		}
		customerName = customer.Name

		creditAmount := total - paid
		if creditAmount < 0 {
			creditAmount = 0
		}
		creditReduction := paid - total
		if creditReduction < 0 {
			creditReduction = 0
		}

		ledger = &store.CustomerLedgerUpdate{
			CustomerID:     customer.ID,
			SpentDelta:     total,
			BillCountDelta: 1,
		}
		if creditAmount > 0 {
			ledger.CreditDelta = creditAmount
			status = domain.BillStatusPartial
			if paid == 0 {
				status = domain.BillStatusUnpaid
			}
		} else {
			ledger.CreditDelta = -creditReduction
			ledger.ClampCreditZero = true
		}
	}

	bill := domain.Bill{
		ID:              xid.New("bill"),
		OwnerID:         owner,
		CustomerID:      req.CustomerID,
		CustomerName:    customerName,
		Date:            time.Now().UTC(),
		Items:           billItems,
		TotalCents:      total,
		PaidAmountCents: paid,
		PaymentMethod:   req.PaymentMethod,
		Status:          status,
	}

	created, err := s.repo.CreateBill(ctx, bill, ledger)
	if err != nil {
		return domain.BillCreateResponse{}, err
	}

	return domain.BillCreateResponse{
		Bill:    created,
		Receipt: buildBillReceipt(*created),
	}, nil
}

// DeleteBill removes the bill and restores sold stock. Customer credit and
// purchase aggregates keep the values the bill gave them.
func (s *Service) DeleteBill(ctx context.Context, billID string) error {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteBill(ctx, owner, billID); err != nil {
		return err
	}
	log.Printf("[service] bill %s deleted, stock restored", billID)
	return nil
}

func (s *Service) BillReceipt(ctx context.Context, billID string) (domain.Receipt, error) {
	bill, err := s.GetBill(ctx, billID)
	if err != nil {
		return domain.Receipt{}, err
	}
	return buildBillReceipt(bill), nil
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, owner)
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.Expense{}, err
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.AmountCents < 1 {
		return domain.Expense{}, fmt.Errorf("%w: title and a positive amount are required", store.ErrValidation)
	}

	date := time.Now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return domain.Expense{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		date = parsed.UTC()
	}

	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		ID:          xid.New("exp"),
		OwnerID:     owner,
		Title:       req.Title,
		AmountCents: req.AmountCents,
		Date:        date,
	})
	if err != nil {
		return domain.Expense{}, err
	}
	return *created, nil
}

// SalesReport aggregates bills and expenses over the period window. Results
// are cached per owner and period for a short TTL.
func (s *Service) SalesReport(ctx context.Context, period string) (domain.SalesReport, error) {
	owner, err := s.ownerID(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}

	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		period = domain.ReportPeriodDaily
	}
	from, to, err := reportWindow(period, time.Now().UTC())
	if err != nil {
		return domain.SalesReport{}, err
	}

	cacheKey := "report:" + owner + ":" + period
	if cached, ok, err := s.reports.Get(ctx, cacheKey); err != nil {
		log.Printf("[service] WARN: report cache get failed key=%s: %v", cacheKey, err)
	} else if ok {
		return *cached, nil
	}

	report, err := s.repo.SalesSummary(ctx, owner, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}
	report.Period = period
	report.From = from.Format("2006-01-02")
	report.To = to.Add(-24 * time.Hour).Format("2006-01-02")

	if err := s.reports.Set(ctx, cacheKey, &report, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache set failed key=%s: %v", cacheKey, err)
	}
	return report, nil
}

func reportWindow(period string, now time.Time) (time.Time, time.Time, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case domain.ReportPeriodDaily:
		return day, day.Add(24 * time.Hour), nil
	case domain.ReportPeriodWeekly:
		return day.AddDate(0, 0, -6), day.Add(24 * time.Hour), nil
	case domain.ReportPeriodMonthly:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first, first.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown report period %q", store.ErrValidation, period)
	}
}

func normalizeItems(items []domain.CartItem) []domain.CartItem {
	agg := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Qty < 1 {
			continue
		}
		if _, seen := agg[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		agg[item.ProductID] += item.Qty
	}

	normalized := make([]domain.CartItem, 0, len(agg))
	for _, productID := range order {
		normalized = append(normalized, domain.CartItem{ProductID: productID, Qty: agg[productID]})
	}
	return normalized
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCredit, domain.PaymentDigital:
		return true
	default:
		return false
	}
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func buildBillReceipt(bill domain.Bill) domain.Receipt {
	lines := []string{
		"RECEIPT",
		"================",
		"Bill: " + bill.ID,
		"Date: " + bill.Date.Format("2006-01-02 15:04"),
		"Customer: " + bill.CustomerName,
		"----------------",
	}
	for _, item := range bill.Items {
		subtotal := int64(item.Qty) * item.PriceCents
		lines = append(lines, fmt.Sprintf("%s x%d - %s", item.ProductName, item.Qty, formatCents(subtotal)))
	}
	lines = append(lines,
		"----------------",
		"Total: "+formatCents(bill.TotalCents),
		"Paid: "+formatCents(bill.PaidAmountCents),
	)
	if credit := bill.TotalCents - bill.PaidAmountCents; credit > 0 {
		lines = append(lines, "Credit: "+formatCents(credit))
	}
	lines = append(lines,
		"Payment: "+bill.PaymentMethod,
		"Status: "+bill.Status,
		"================",
		"Thank you for your business!",
	)
	return domain.Receipt{
		Title: "Bill " + bill.ID,
		Text:  strings.Join(lines, "\n"),
	}
}

func buildCreditReceipt(payment domain.CreditPaymentResult) domain.Receipt {
	lines := []string{
		"CREDIT PAYMENT RECEIPT",
		"================",
		"Customer: " + payment.CustomerName,
		"Date: " + payment.PaidAt.Format("2006-01-02 15:04"),
		"----------------",
		"Credit before: " + formatCents(payment.CreditBeforeCents),
		"Paid: " + formatCents(payment.PaidAmountCents),
		"Remaining credit: " + formatCents(payment.RemainingCreditCents),
		"================",
		"Thank you for your business!",
	}
	return domain.Receipt{
		Title: "Credit payment " + payment.CustomerID,
		Text:  strings.Join(lines, "\n"),
	}
}
