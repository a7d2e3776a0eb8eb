package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	"github.com/smallbiznis/ledgerd/internal/invoice/format"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/ledgerd/internal/observability/metrics"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const billingPeriodKeyColumn = "billing_period_key"

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	LedgerSvc  ledgerdomain.Service
	Billing    *config.BillingConfigHolder `optional:"true"`
	Config     config.Config               `optional:"true"`
	Clock      clock.Clock                 `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	ledgerSvc      ledgerdomain.Service
	billing        *config.BillingConfigHolder
	clock          clock.Clock
	obsMetrics     *obsmetrics.Metrics
	postingTimeout time.Duration
}

func NewService(p Params) invoicedomain.Service {
	svc := &Service{
		db:             p.DB,
		log:            p.Log.Named("invoice.service"),
		genID:          p.GenID,
		ledgerSvc:      p.LedgerSvc,
		billing:        p.Billing,
		clock:          p.Clock,
		obsMetrics:     p.ObsMetrics,
		postingTimeout: p.Config.PostingTimeout,
	}
	if svc.clock == nil {
		svc.clock = clock.System()
	}
	if svc.billing == nil {
		svc.billing = config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	}
	return svc
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) CreateInvoice(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.CreateInvoiceResult, error) {
	billing := s.billing.Get()
	invoice, err := s.buildInvoice(req, billing)
	if err != nil {
		return nil, err
	}

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	numberedAt := invoice.CreatedAt
	if invoice.IssuedAt != nil {
		numberedAt = *invoice.IssuedAt
	}

	var result invoicedomain.CreateInvoiceResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if invoice.BillingPeriodKey != nil {
			existing, err := s.findByPeriodKey(ctx, tx, *invoice.BillingPeriodKey)
			if err != nil {
				return err
			}
			if existing != nil {
				result = invoicedomain.CreateInvoiceResult{Invoice: *existing, Replayed: true}
				return nil
			}
		}

		number, err := s.nextNumber(ctx, tx, format.InvoiceScheme(billing.Numbering), numberedAt)
		if err != nil {
			return err
		}
		invoice.Number = number

		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			return err
		}
		if len(invoice.Lines) > 0 {
			if err := tx.WithContext(ctx).Create(&invoice.Lines).Error; err != nil {
				return err
			}
		}
		if len(invoice.TaxLines) > 0 {
			if err := tx.WithContext(ctx).Create(&invoice.TaxLines).Error; err != nil {
				return err
			}
		}
		if len(invoice.Orders) > 0 {
			if err := tx.WithContext(ctx).Create(&invoice.Orders).Error; err != nil {
				return err
			}
		}
		result = invoicedomain.CreateInvoiceResult{Invoice: invoice}
		return nil
	})
	if err != nil {
		if invoice.BillingPeriodKey != nil && db.DuplicateKeyMentions(err, billingPeriodKeyColumn) {
			existing, findErr := s.findByPeriodKey(ctx, s.db, *invoice.BillingPeriodKey)
			if findErr != nil {
				return nil, db.WrapTimeout(findErr)
			}
			if existing != nil {
				result = invoicedomain.CreateInvoiceResult{Invoice: *existing, Replayed: true}
				err = nil
			}
		}
		if err != nil {
			return nil, db.WrapTimeout(err)
		}
	}

	if result.Replayed {
		if err := s.loadDetails(ctx, s.db, &result.Invoice); err != nil {
			return nil, db.WrapTimeout(err)
		}
		s.log.Warn("invoice replayed for billing period",
			zap.String("invoice_id", result.Invoice.ID.String()),
			zap.String("number", result.Invoice.Number),
		)
		s.obsMetrics.RecordReplay(ctx, "invoice.create")
	} else {
		s.log.Info("invoice created",
			zap.String("invoice_id", result.Invoice.ID.String()),
			zap.String("number", result.Invoice.Number),
			zap.String("customer_id", result.Invoice.CustomerID.String()),
			zap.String("status", string(result.Invoice.Status)),
			zap.String("grand_total", result.Invoice.GrandTotal.String()),
		)
		s.obsMetrics.RecordInvoice(ctx, string(result.Invoice.Status))
	}

	if req.PostToLedger && result.Invoice.Status.Billed() {
		posted, err := s.PostToLedger(ctx, result.Invoice.ID)
		if err != nil {
			return &result, err
		}
		entryID := posted.Entry.ID
		result.Invoice.LedgerEntryID = &entryID
	}

	return &result, nil
}

func (s *Service) buildInvoice(req invoicedomain.CreateInvoiceRequest, billing config.BillingConfig) (invoicedomain.Invoice, error) {
	if req.CustomerID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidCustomer
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidCurrency
	}

	billTo := strings.TrimSpace(req.Legal.BillToName)
	if billTo == "" {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidBillTo
	}
	regime := invoicedomain.TaxRegime(strings.ToLower(strings.TrimSpace(string(req.Legal.TaxRegime))))
	if regime == "" {
		regime = invoicedomain.TaxRegimeStandard
	}
	if !regime.Valid() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTaxRegime
	}
	if !validRate(req.Legal.VATRate) || !validRate(req.Legal.ExciseRate) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidTaxRate
	}

	status := invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if status == "" {
		status = invoicedomain.InvoiceStatusIssued
	}
	if status != invoicedomain.InvoiceStatusDraft && status != invoicedomain.InvoiceStatusIssued {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidStatus
	}

	now := s.now()
	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		Currency:       currency,
		Status:         status,
		BillToName:     billTo,
		BillToAddress:  strings.TrimSpace(req.Legal.BillToAddress),
		TaxID:          optionalString(req.Legal.TaxID),
		TaxRegime:      regime,
		VATRate:        req.Legal.VATRate,
		ExciseRate:     req.Legal.ExciseRate,
		RegionSnapshot: optionalString(req.Region),
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for k, v := range req.Metadata {
		invoice.Metadata[k] = v
	}

	if req.SubscriptionID != nil && *req.SubscriptionID != 0 {
		sub := *req.SubscriptionID
		invoice.SubscriptionID = &sub
	}
	if (req.PeriodStart == nil) != (req.PeriodEnd == nil) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidPeriod
	}
	if req.PeriodStart != nil {
		start := req.PeriodStart.UTC().Truncate(time.Microsecond)
		end := req.PeriodEnd.UTC().Truncate(time.Microsecond)
		if !end.After(start) {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvalidPeriod
		}
		if invoice.SubscriptionID == nil {
			return invoicedomain.Invoice{}, invoicedomain.ErrMissingSubscription
		}
		invoice.PeriodStart = &start
		invoice.PeriodEnd = &end
		key := ledgerdomain.PeriodKey(*invoice.SubscriptionID, start, end)
		invoice.BillingPeriodKey = &key
	}

	if status == invoicedomain.InvoiceStatusIssued {
		issuedAt := now
		if req.IssuedAt != nil {
			issuedAt = req.IssuedAt.UTC().Truncate(time.Microsecond)
		}
		invoice.IssuedAt = &issuedAt
	}
	if req.DueAt != nil {
		due := req.DueAt.UTC().Truncate(time.Microsecond)
		invoice.DueAt = &due
	} else if invoice.IssuedAt != nil {
		due := invoice.IssuedAt.AddDate(0, 0, billing.PaymentTermsDays)
		invoice.DueAt = &due
	}
	if invoice.DueAt != nil && invoice.IssuedAt != nil && invoice.DueAt.Before(*invoice.IssuedAt) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidDueDate
	}

	if len(req.Lines) == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidLines
	}
	subtotal := money.Zero()
	for i, input := range req.Lines {
		line, err := s.buildLine(invoice.ID, i+1, input, now)
		if err != nil {
			return invoicedomain.Invoice{}, err
		}
		subtotal = subtotal.Add(line.LineTotal)
		invoice.Lines = append(invoice.Lines, line)
	}
	if subtotal.IsNegative() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}

	excise := subtotal.Percent(invoice.ExciseRate)
	vat := money.Zero()
	if regime != invoicedomain.TaxRegimeExempt {
		vat = subtotal.Add(excise).Percent(invoice.VATRate)
	}
	invoice.Subtotal = subtotal
	invoice.ExciseAmount = excise
	invoice.VATAmount = vat
	invoice.TaxTotal = excise.Add(vat)
	invoice.GrandTotal = subtotal.Add(invoice.TaxTotal)

	if invoice.ExciseRate.IsPositive() {
		invoice.TaxLines = append(invoice.TaxLines, invoicedomain.InvoiceTaxLine{
			ID:        s.genID.Generate(),
			InvoiceID: invoice.ID,
			Kind:      invoicedomain.TaxKindExcise,
			Rate:      invoice.ExciseRate,
			Base:      subtotal,
			Amount:    excise,
			CreatedAt: now,
		})
	}
	if regime != invoicedomain.TaxRegimeExempt && invoice.VATRate.IsPositive() {
		invoice.TaxLines = append(invoice.TaxLines, invoicedomain.InvoiceTaxLine{
			ID:        s.genID.Generate(),
			InvoiceID: invoice.ID,
			Kind:      invoicedomain.TaxKindVAT,
			Rate:      invoice.VATRate,
			Base:      subtotal.Add(excise),
			Amount:    vat,
			CreatedAt: now,
		})
	}

	seen := make(map[snowflake.ID]struct{}, len(req.Orders))
	for _, link := range req.Orders {
		if link.OrderID == 0 {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvalidOrder
		}
		if link.AmountExclTax != nil && link.AmountExclTax.IsNegative() {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
		}
		if _, ok := seen[link.OrderID]; ok {
			continue
		}
		seen[link.OrderID] = struct{}{}
		invoice.Orders = append(invoice.Orders, invoicedomain.InvoiceOrder{
			ID:            s.genID.Generate(),
			InvoiceID:     invoice.ID,
			OrderID:       link.OrderID,
			AmountExclTax: quantizedOrNil(link.AmountExclTax),
			CreatedAt:     now,
		})
	}

	return invoice, nil
}

func (s *Service) buildLine(invoiceID snowflake.ID, position int, input invoicedomain.LineInput, now time.Time) (invoicedomain.InvoiceLine, error) {
	kind := invoicedomain.LineKind(strings.ToLower(strings.TrimSpace(string(input.Kind))))
	if !kind.Valid() {
		return invoicedomain.InvoiceLine{}, invoicedomain.ErrInvalidLineKind
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return invoicedomain.InvoiceLine{}, invoicedomain.ErrInvalidDescription
	}
	if !input.Quantity.IsPositive() {
		return invoicedomain.InvoiceLine{}, invoicedomain.ErrInvalidQuantity
	}
	unitPrice := money.Quantize(input.UnitPrice.Decimal())
	if unitPrice.IsNegative() && kind != invoicedomain.LineKindDiscount {
		return invoicedomain.InvoiceLine{}, invoicedomain.ErrInvalidUnitPrice
	}

	return invoicedomain.InvoiceLine{
		ID:          s.genID.Generate(),
		InvoiceID:   invoiceID,
		Position:    position,
		Kind:        kind,
		Description: description,
		Quantity:    input.Quantity,
		UnitPrice:   unitPrice,
		LineTotal:   unitPrice.MulDecimal(input.Quantity),
		OrderID:     nonZeroID(input.OrderID),
		OrderLineID: nonZeroID(input.OrderLineID),
		CreatedAt:   now,
	}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, invoiceID snowflake.ID, status invoicedomain.InvoiceStatus) (*invoicedomain.Invoice, error) {
	if invoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	status = invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, invoicedomain.ErrInvalidStatus
	}

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	var previous invoicedomain.InvoiceStatus
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		previous = invoice.Status
		if invoice.Status == status {
			return nil
		}
		if !invoice.Status.CanTransition(status) {
			return invoicedomain.ErrInvalidTransition
		}

		now := s.now()
		updates := map[string]any{
			"status":     status,
			"updated_at": now,
		}
		switch status {
		case invoicedomain.InvoiceStatusIssued:
			updates["issued_at"] = now
			if invoice.DueAt == nil {
				updates["due_at"] = now.AddDate(0, 0, s.billing.Get().PaymentTermsDays)
			}
		case invoicedomain.InvoiceStatusPaid:
			updates["paid_at"] = now
		case invoicedomain.InvoiceStatusCancelled:
			updates["cancelled_at"] = now
		}

		if err := tx.WithContext(ctx).
			Model(&invoicedomain.Invoice{}).
			Where("id = ?", invoiceID).
			Updates(updates).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, db.WrapTimeout(err)
	}

	if changed {
		s.log.Info("invoice status changed",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("previous_status", string(previous)),
			zap.String("status", string(status)),
		)
		s.obsMetrics.RecordInvoice(ctx, string(status))
	}

	return s.GetInvoice(ctx, invoiceID)
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	if invoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	var invoice invoicedomain.Invoice
	if err := s.db.WithContext(ctx).Take(&invoice, "id = ?", invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if err := s.loadDetails(ctx, s.db, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	limit := pagination.NormalizeLimit(req.PageSize)
	createdAt, id, ok, err := pagination.DecodeTimeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	stmt := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{})
	if req.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *req.CustomerID)
	}
	if req.Status != nil {
		stmt = stmt.Where("status = ?", *req.Status)
	}
	if ok {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var items []invoicedomain.Invoice
	if err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&items).Error; err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, limit, func(inv invoicedomain.Invoice) pagination.Cursor {
		return pagination.TimeCursor(inv.CreatedAt, int64(inv.ID))
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: items}, nil
}

func (s *Service) loadDetails(ctx context.Context, conn *gorm.DB, invoice *invoicedomain.Invoice) error {
	if err := conn.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("position asc").
		Find(&invoice.Lines).Error; err != nil {
		return err
	}
	if err := conn.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("id asc").
		Find(&invoice.TaxLines).Error; err != nil {
		return err
	}
	return conn.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("id asc").
		Find(&invoice.Orders).Error
}

func (s *Service) findByPeriodKey(ctx context.Context, conn *gorm.DB, key string) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := conn.WithContext(ctx).Where("billing_period_key = ?", key).Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&invoice, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}

func quantizedOrNil(m *money.Money) *money.Money {
	if m == nil {
		return nil
	}
	v := money.Quantize(m.Decimal())
	return &v
}

func nonZeroID(id *snowflake.ID) *snowflake.ID {
	if id == nil || *id == 0 {
		return nil
	}
	v := *id
	return &v
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
