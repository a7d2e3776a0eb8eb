package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/ledgerd/internal/ledger/service"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	svc    invoicedomain.Service
	ledger ledgerdomain.Service
	node   *snowflake.Node
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.InvoiceTaxLine{},
		&invoicedomain.InvoiceOrder{},
		&invoicedomain.ConsolidatedInvoice{},
		&invoicedomain.InvoiceSequence{},
		&ledgerdomain.BillingAccount{},
		&ledgerdomain.AccountEntry{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{PostingTimeout: 5 * time.Second}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Config: cfg,
		Clock:  fake,
	})

	svc := NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		LedgerSvc: ledgerSvc,
		Billing:   config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Config:    cfg,
		Clock:     fake,
	})

	return fixture{db: conn, svc: svc, ledger: ledgerSvc, node: node, clock: fake}
}

func basicRequest(customerID snowflake.ID) invoicedomain.CreateInvoiceRequest {
	return invoicedomain.CreateInvoiceRequest{
		CustomerID: customerID,
		Currency:   "usd",
		Legal: invoicedomain.LegalSnapshot{
			BillToName:    "Kivu Traders SARL",
			BillToAddress: "12 Av. du Lac, Goma",
			TaxID:         "A1234567X",
			VATRate:       decimal.NewFromInt(16),
			ExciseRate:    decimal.NewFromInt(10),
		},
		Lines: []invoicedomain.LineInput{
			{Kind: invoicedomain.LineKindEquipment, Description: "Router", Quantity: decimal.NewFromInt(3), UnitPrice: money.MustParse("12.50")},
			{Kind: invoicedomain.LineKindService, Description: "Installation", Quantity: decimal.NewFromInt(1), UnitPrice: money.MustParse("100.00")},
		},
	}
}

func (f fixture) create(t *testing.T, req invoicedomain.CreateInvoiceRequest) *invoicedomain.CreateInvoiceResult {
	t.Helper()
	res, err := f.svc.CreateInvoice(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestCreateInvoiceComputesTotalsFromLines(t *testing.T) {
	f := newFixture(t)

	res := f.create(t, basicRequest(f.node.Generate()))
	inv := res.Invoice

	assert.False(t, res.Replayed)
	assert.Equal(t, "USD", inv.Currency)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, inv.Status)
	assert.Equal(t, "INV-2025-000001", inv.Number)
	assert.Equal(t, "137.50", inv.Subtotal.String())
	assert.Equal(t, "13.75", inv.ExciseAmount.String())
	assert.Equal(t, "24.20", inv.VATAmount.String())
	assert.Equal(t, "37.95", inv.TaxTotal.String())
	assert.Equal(t, "175.45", inv.GrandTotal.String())
	require.NotNil(t, inv.IssuedAt)
	require.NotNil(t, inv.DueAt)
	assert.Equal(t, inv.IssuedAt.AddDate(0, 0, 15), *inv.DueAt)

	stored, err := f.svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
	assert.Equal(t, "37.50", stored.Lines[0].LineTotal.String())
	assert.Equal(t, 1, stored.Lines[0].Position)
	require.Len(t, stored.TaxLines, 2)
	assert.Equal(t, "175.45", stored.GrandTotal.String())
	assert.True(t, stored.VATRate.Equal(decimal.NewFromInt(16)))
}

func TestCreateInvoiceTaxRules(t *testing.T) {
	f := newFixture(t)

	req := basicRequest(f.node.Generate())
	req.Legal.TaxRegime = invoicedomain.TaxRegimeExempt
	inv := f.create(t, req).Invoice
	assert.Equal(t, "13.75", inv.ExciseAmount.String())
	assert.True(t, inv.VATAmount.IsZero())
	assert.Equal(t, "151.25", inv.GrandTotal.String())
	assert.Len(t, inv.TaxLines, 1)

	req = basicRequest(f.node.Generate())
	req.Legal.ExciseRate = decimal.Zero
	req.Lines = []invoicedomain.LineInput{
		{Kind: invoicedomain.LineKindProduct, Description: "Cable", Quantity: decimal.RequireFromString("1.5"), UnitPrice: money.MustParse("3.33")},
		{Kind: invoicedomain.LineKindDiscount, Description: "Promo", Quantity: decimal.NewFromInt(1), UnitPrice: money.MustParse("-1.00")},
	}
	inv = f.create(t, req).Invoice
	assert.Equal(t, "5.00", inv.Lines[0].LineTotal.String())
	assert.Equal(t, "4.00", inv.Subtotal.String())
	assert.Equal(t, "0.64", inv.VATAmount.String())
	assert.Equal(t, "4.64", inv.GrandTotal.String())
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	customer := f.node.Generate()
	sub := f.node.Generate()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	cases := []struct {
		name   string
		mutate func(*invoicedomain.CreateInvoiceRequest)
		want   error
	}{
		{"no customer", func(r *invoicedomain.CreateInvoiceRequest) { r.CustomerID = 0 }, invoicedomain.ErrInvalidCustomer},
		{"bad currency", func(r *invoicedomain.CreateInvoiceRequest) { r.Currency = "US" }, invoicedomain.ErrInvalidCurrency},
		{"no bill to", func(r *invoicedomain.CreateInvoiceRequest) { r.Legal.BillToName = " " }, invoicedomain.ErrInvalidBillTo},
		{"bad regime", func(r *invoicedomain.CreateInvoiceRequest) { r.Legal.TaxRegime = "reduced" }, invoicedomain.ErrInvalidTaxRegime},
		{"negative vat", func(r *invoicedomain.CreateInvoiceRequest) { r.Legal.VATRate = decimal.NewFromInt(-1) }, invoicedomain.ErrInvalidTaxRate},
		{"excise over 100", func(r *invoicedomain.CreateInvoiceRequest) { r.Legal.ExciseRate = decimal.NewFromInt(101) }, invoicedomain.ErrInvalidTaxRate},
		{"bad status", func(r *invoicedomain.CreateInvoiceRequest) { r.Status = invoicedomain.InvoiceStatusPaid }, invoicedomain.ErrInvalidStatus},
		{"no lines", func(r *invoicedomain.CreateInvoiceRequest) { r.Lines = nil }, invoicedomain.ErrInvalidLines},
		{"bad kind", func(r *invoicedomain.CreateInvoiceRequest) { r.Lines[0].Kind = "gift" }, invoicedomain.ErrInvalidLineKind},
		{"blank description", func(r *invoicedomain.CreateInvoiceRequest) { r.Lines[0].Description = "" }, invoicedomain.ErrInvalidDescription},
		{"zero quantity", func(r *invoicedomain.CreateInvoiceRequest) { r.Lines[0].Quantity = decimal.Zero }, invoicedomain.ErrInvalidQuantity},
		{"negative price", func(r *invoicedomain.CreateInvoiceRequest) { r.Lines[0].UnitPrice = money.MustParse("-1.00") }, invoicedomain.ErrInvalidUnitPrice},
		{"negative subtotal", func(r *invoicedomain.CreateInvoiceRequest) {
			r.Lines = append(r.Lines, invoicedomain.LineInput{Kind: invoicedomain.LineKindDiscount, Description: "x", Quantity: decimal.NewFromInt(1), UnitPrice: money.MustParse("-500.00")})
		}, invoicedomain.ErrInvalidAmount},
		{"half period", func(r *invoicedomain.CreateInvoiceRequest) {
			r.SubscriptionID = &sub
			r.PeriodStart = &start
		}, invoicedomain.ErrInvalidPeriod},
		{"inverted period", func(r *invoicedomain.CreateInvoiceRequest) {
			r.SubscriptionID = &sub
			r.PeriodStart = &end
			r.PeriodEnd = &start
		}, invoicedomain.ErrInvalidPeriod},
		{"period without subscription", func(r *invoicedomain.CreateInvoiceRequest) {
			r.PeriodStart = &start
			r.PeriodEnd = &end
		}, invoicedomain.ErrMissingSubscription},
		{"due before issue", func(r *invoicedomain.CreateInvoiceRequest) { r.DueAt = &start }, invoicedomain.ErrInvalidDueDate},
		{"zero order", func(r *invoicedomain.CreateInvoiceRequest) { r.Orders = []invoicedomain.OrderLink{{}} }, invoicedomain.ErrInvalidOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := basicRequest(customer)
			tc.mutate(&req)
			_, err := f.svc.CreateInvoice(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, invoicedomain.IsValidationError(err))
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInvoiceNumberingIsGapFreeUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	customer := f.node.Generate()

	const workers = 8
	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CreateInvoice(context.Background(), basicRequest(customer))
			if assert.NoError(t, err) {
				numbers <- res.Invoice.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	got := map[string]bool{}
	for n := range numbers {
		got[n] = true
	}
	require.Len(t, got, workers)
	for i := 1; i <= workers; i++ {
		assert.True(t, got[fmt.Sprintf("INV-2025-%06d", i)], "missing number %d", i)
	}

	req := basicRequest(customer)
	nextYear := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	req.IssuedAt = &nextYear
	inv := f.create(t, req).Invoice
	assert.Equal(t, "INV-2026-000001", inv.Number)
}

func TestCreateInvoiceIsIdempotentPerBillingPeriod(t *testing.T) {
	f := newFixture(t)
	customer := f.node.Generate()
	sub := f.node.Generate()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	req := basicRequest(customer)
	req.SubscriptionID = &sub
	req.PeriodStart = &start
	req.PeriodEnd = &end

	first := f.create(t, req)
	second := f.create(t, req)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Equal(t, first.Invoice.Number, second.Invoice.Number)
	assert.Len(t, second.Invoice.Lines, 2)

	const workers = 6
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CreateInvoice(context.Background(), req)
			if assert.NoError(t, err) {
				assert.True(t, res.Replayed)
				assert.Equal(t, first.Invoice.ID, res.Invoice.ID)
			}
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	other := f.create(t, basicRequest(customer)).Invoice
	assert.Equal(t, "INV-2025-000002", other.Number)
}

func TestBillingPeriodCommittedDuringCreateIsReplayed(t *testing.T) {
	f := newFixture(t)
	sub := f.node.Generate()
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	req := basicRequest(f.node.Generate())
	req.SubscriptionID = &sub
	req.PeriodStart = &start
	req.PeriodEnd = &end
	first := f.create(t, req)

	// The period lookup inside the transaction misses, so the insert trips
	// the billing period index and the numbered invoice is rolled back.
	require.NoError(t, db.HideNextRead(f.db, "invoices", "billing_period_key"))
	second := f.create(t, req)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Equal(t, first.Invoice.Number, second.Invoice.Number)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	next := f.create(t, basicRequest(f.node.Generate())).Invoice
	assert.Equal(t, "INV-2025-000002", next.Number)
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := basicRequest(f.node.Generate())
	req.Status = invoicedomain.InvoiceStatusDraft
	draft := f.create(t, req).Invoice
	assert.Nil(t, draft.IssuedAt)
	assert.Nil(t, draft.DueAt)

	f.clock.Advance(24 * time.Hour)
	issued, err := f.svc.UpdateStatus(ctx, draft.ID, invoicedomain.InvoiceStatusIssued)
	require.NoError(t, err)
	require.NotNil(t, issued.IssuedAt)
	require.NotNil(t, issued.DueAt)
	assert.True(t, f.clock.Now().AddDate(0, 0, 15).Equal(*issued.DueAt))
	assert.Equal(t, draft.GrandTotal.String(), issued.GrandTotal.String())

	again, err := f.svc.UpdateStatus(ctx, draft.ID, invoicedomain.InvoiceStatusIssued)
	require.NoError(t, err)
	require.NotNil(t, again.IssuedAt)
	assert.True(t, issued.IssuedAt.Equal(*again.IssuedAt))

	paid, err := f.svc.UpdateStatus(ctx, draft.ID, invoicedomain.InvoiceStatusPaid)
	require.NoError(t, err)
	assert.NotNil(t, paid.PaidAt)

	_, err = f.svc.UpdateStatus(ctx, draft.ID, invoicedomain.InvoiceStatusCancelled)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, draft.ID, "void")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)
	_, err = f.svc.UpdateStatus(ctx, f.node.Generate(), invoicedomain.InvoiceStatusPaid)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestConsolidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.node.Generate()

	a := f.create(t, basicRequest(customer)).Invoice
	b := f.create(t, basicRequest(customer)).Invoice

	consolidated, err := f.svc.Consolidate(ctx, invoicedomain.ConsolidateRequest{InvoiceIDs: []snowflake.ID{a.ID, b.ID, a.ID}})
	require.NoError(t, err)
	assert.Equal(t, "CINV-2025-000001", consolidated.Number)
	assert.Equal(t, "350.90", consolidated.GrandTotal.String())
	assert.Equal(t, 2, consolidated.ChildCount)

	child, err := f.svc.GetInvoice(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, child.ConsolidatedInvoiceID)
	assert.Equal(t, consolidated.ID, *child.ConsolidatedInvoiceID)
	assert.Equal(t, a.Number, child.Number)
	assert.Equal(t, a.GrandTotal.String(), child.GrandTotal.String())
	assert.True(t, a.UpdatedAt.Equal(child.UpdatedAt))

	loaded, err := f.svc.GetConsolidated(ctx, consolidated.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Children, 2)
	assert.Equal(t, a.ID, loaded.Children[0].ID)

	_, err = f.svc.Consolidate(ctx, invoicedomain.ConsolidateRequest{InvoiceIDs: []snowflake.ID{a.ID}})
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyConsolidated)

	draftReq := basicRequest(customer)
	draftReq.Status = invoicedomain.InvoiceStatusDraft
	draft := f.create(t, draftReq).Invoice
	c := f.create(t, basicRequest(customer)).Invoice
	_, err = f.svc.Consolidate(ctx, invoicedomain.ConsolidateRequest{InvoiceIDs: []snowflake.ID{c.ID, draft.ID}})
	assert.ErrorIs(t, err, invoicedomain.ErrNotConsolidatable)

	stranger := f.create(t, basicRequest(f.node.Generate())).Invoice
	_, err = f.svc.Consolidate(ctx, invoicedomain.ConsolidateRequest{InvoiceIDs: []snowflake.ID{c.ID, stranger.ID}})
	assert.ErrorIs(t, err, invoicedomain.ErrCustomerMismatch)

	cdfReq := basicRequest(customer)
	cdfReq.Currency = "CDF"
	cdf := f.create(t, cdfReq).Invoice
	_, err = f.svc.Consolidate(ctx, invoicedomain.ConsolidateRequest{InvoiceIDs: []snowflake.ID{c.ID, cdf.ID}})
	assert.ErrorIs(t, err, invoicedomain.ErrCurrencyMismatch)

	_, err = f.svc.Consolidate(ctx, invoicedomain.ConsolidateRequest{})
	assert.ErrorIs(t, err, invoicedomain.ErrEmptyConsolidation)
	_, err = f.svc.Consolidate(ctx, invoicedomain.ConsolidateRequest{InvoiceIDs: []snowflake.ID{c.ID, f.node.Generate()}})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	unchanged, err := f.svc.GetInvoice(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, unchanged.ConsolidatedInvoiceID)
}

func TestLinkAndDetachOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderA := f.node.Generate()
	orderB := f.node.Generate()

	req := basicRequest(f.node.Generate())
	req.Lines[0].OrderID = &orderA
	req.Orders = []invoicedomain.OrderLink{{OrderID: orderA}}
	inv := f.create(t, req).Invoice

	partial := money.MustParse("40.00")
	link, err := f.svc.LinkOrder(ctx, invoicedomain.LinkOrderRequest{InvoiceID: inv.ID, OrderID: orderB, AmountExclTax: &partial})
	require.NoError(t, err)
	assert.False(t, link.Replayed)
	require.NotNil(t, link.Link.AmountExclTax)
	assert.Equal(t, "40.00", link.Link.AmountExclTax.String())

	again, err := f.svc.LinkOrder(ctx, invoicedomain.LinkOrderRequest{InvoiceID: inv.ID, OrderID: orderB})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, link.Link.ID, again.Link.ID)

	replayA, err := f.svc.LinkOrder(ctx, invoicedomain.LinkOrderRequest{InvoiceID: inv.ID, OrderID: orderA})
	require.NoError(t, err)
	assert.True(t, replayA.Replayed)

	detached, err := f.svc.DetachOrder(ctx, orderA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detached.RemovedLinks)
	assert.Equal(t, int64(1), detached.ClearedLines)

	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, stored.Number)
	assert.Equal(t, inv.GrandTotal.String(), stored.GrandTotal.String())
	require.Len(t, stored.Orders, 1)
	assert.Equal(t, orderB, stored.Orders[0].OrderID)
	require.Len(t, stored.Lines, 2)
	assert.Nil(t, stored.Lines[0].OrderID)

	_, err = f.svc.LinkOrder(ctx, invoicedomain.LinkOrderRequest{InvoiceID: f.node.Generate(), OrderID: orderA})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	_, err = f.svc.DetachOrder(ctx, 0)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidOrder)
}

func TestOrderLinkedDuringLinkIsReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.node.Generate()
	inv := f.create(t, basicRequest(f.node.Generate())).Invoice

	link, err := f.svc.LinkOrder(ctx, invoicedomain.LinkOrderRequest{InvoiceID: inv.ID, OrderID: order})
	require.NoError(t, err)
	require.False(t, link.Replayed)

	require.NoError(t, db.HideNextRead(f.db, "invoice_orders", "order_id"))
	again, err := f.svc.LinkOrder(ctx, invoicedomain.LinkOrderRequest{InvoiceID: inv.ID, OrderID: order})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, link.Link.ID, again.Link.ID)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.InvoiceOrder{}).Where("invoice_id = ?", inv.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPostToLedgerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.node.Generate()

	account, err := f.ledger.EnsureAccount(ctx, nil, customer, "USD")
	require.NoError(t, err)

	req := basicRequest(customer)
	req.PostToLedger = true
	res := f.create(t, req)
	require.NotNil(t, res.Invoice.LedgerEntryID)

	balance, err := f.ledger.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "175.45", balance.String())

	posted, err := f.svc.PostToLedger(ctx, res.Invoice.ID)
	require.NoError(t, err)
	assert.True(t, posted.Replayed)
	assert.Equal(t, *res.Invoice.LedgerEntryID, posted.Entry.ID)

	balance, err = f.ledger.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "175.45", balance.String())

	draftReq := basicRequest(customer)
	draftReq.Status = invoicedomain.InvoiceStatusDraft
	draft := f.create(t, draftReq).Invoice
	_, err = f.svc.PostToLedger(ctx, draft.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotPostable)

	_, err = f.svc.PostToLedger(ctx, f.create(t, basicRequest(f.node.Generate())).Invoice.ID)
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestListInvoicesPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := f.node.Generate()

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.create(t, basicRequest(customer)).Invoice.ID)
	}
	f.create(t, basicRequest(f.node.Generate()))

	page, err := f.svc.List(ctx, invoicedomain.ListInvoiceRequest{CustomerID: &customer, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[2], page.Invoices[0].ID)

	next, err := f.svc.List(ctx, invoicedomain.ListInvoiceRequest{CustomerID: &customer, PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Invoices, 1)
	assert.False(t, next.HasMore)
	assert.Equal(t, ids[0], next.Invoices[0].ID)
}

func TestMarkOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dueSoon := f.clock.Now().Add(48 * time.Hour)
	req := basicRequest(f.node.Generate())
	req.DueAt = &dueSoon
	late := f.create(t, req).Invoice

	dueLater := f.clock.Now().Add(30 * 24 * time.Hour)
	req = basicRequest(f.node.Generate())
	req.DueAt = &dueLater
	current := f.create(t, req).Invoice

	req = basicRequest(f.node.Generate())
	req.Status = invoicedomain.InvoiceStatusDraft
	draft := f.create(t, req).Invoice

	n, err := f.svc.MarkOverdue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(72 * time.Hour)
	n, err = f.svc.MarkOverdue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetInvoice(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, got.Status)

	got, err = f.svc.GetInvoice(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, got.Status)

	got, err = f.svc.GetInvoice(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, got.Status)

	n, err = f.svc.MarkOverdue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	paid, err := f.svc.UpdateStatus(ctx, late.ID, invoicedomain.InvoiceStatusPaid)
	require.NoError(t, err)
	assert.NotNil(t, paid.PaidAt)
}
