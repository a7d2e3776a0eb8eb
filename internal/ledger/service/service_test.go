package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	svc     ledgerdomain.Service
	account *ledgerdomain.BillingAccount
	node    *snowflake.Node
	clock   *clock.FakeClock
}

func newFixture(t *testing.T, resolver ledgerdomain.SnapshotResolver) fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledgerdomain.BillingAccount{}, &ledgerdomain.AccountEntry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Config:   config.Config{PostingTimeout: 5 * time.Second},
		Clock:    fake,
		Resolver: resolver,
	})

	account, err := svc.EnsureAccount(context.Background(), nil, node.Generate(), "USD")
	require.NoError(t, err)

	return fixture{db: conn, svc: svc, account: account, node: node, clock: fake}
}

func (f fixture) post(t *testing.T, entryType ledgerdomain.EntryType, amount string) *ledgerdomain.PostEntryResult {
	t.Helper()
	res, err := f.svc.PostEntry(context.Background(), ledgerdomain.PostEntryRequest{
		AccountID:   f.account.ID,
		EntryType:   entryType,
		Amount:      money.MustParse(amount),
		Description: string(entryType),
	})
	require.NoError(t, err)
	return res
}

func TestBalanceScenarioInvoicePaymentCreditNote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.post(t, ledgerdomain.EntryTypeInvoice, "100.00")
	f.post(t, ledgerdomain.EntryTypePayment, "-100.00")

	balance, err := f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance.String())

	f.post(t, ledgerdomain.EntryTypeCreditNote, "-20.00")
	balance, err = f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "-20.00", balance.String())
}

func TestBalanceEqualsSumOfEntriesUnderConcurrency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	amounts := []string{"10.10", "0.01", "99.99", "-5.00", "12.34", "-0.33", "7.77", "-1.11"}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, amount := range amounts {
			wg.Add(1)
			go func(amount string) {
				defer wg.Done()
				entryType := ledgerdomain.EntryTypeAdjustment
				_, err := f.svc.PostEntry(ctx, ledgerdomain.PostEntryRequest{
					AccountID:   f.account.ID,
					EntryType:   entryType,
					Amount:      money.MustParse(amount),
					Description: "concurrent adjustment",
				})
				assert.NoError(t, err)
			}(amount)
		}
	}
	wg.Wait()

	var entries []ledgerdomain.AccountEntry
	require.NoError(t, f.db.Where("account_id = ?", f.account.ID).Find(&entries).Error)
	require.Len(t, entries, len(amounts)*4)

	expected := money.Zero()
	for _, e := range entries {
		expected = expected.Add(e.Amount)
	}

	balance, err := f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.True(t, expected.Equal(balance), "expected %s got %s", expected, balance)
	assert.Equal(t, "495.08", balance.String())
}

func TestPeriodUniquenessRejectsSecondInvoice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sub := f.node.Generate()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	req := ledgerdomain.PostEntryRequest{
		AccountID:      f.account.ID,
		EntryType:      ledgerdomain.EntryTypeInvoice,
		Amount:         money.MustParse("50.00"),
		Description:    "January subscription",
		SubscriptionID: &sub,
		PeriodStart:    &start,
		PeriodEnd:      &end,
	}
	_, err := f.svc.PostEntry(ctx, req)
	require.NoError(t, err)

	req.Amount = money.MustParse("75.00")
	_, err = f.svc.PostEntry(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicatePeriodInvoice)

	balance, err := f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance.String())

	// A different period for the same subscription is fine.
	nextEnd := end.AddDate(0, 1, 0)
	req.PeriodStart, req.PeriodEnd = &end, &nextEnd
	_, err = f.svc.PostEntry(ctx, req)
	require.NoError(t, err)
}

func TestPeriodUniquenessUnderConcurrentPosters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sub := f.node.Generate()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, dupErr int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PostEntry(ctx, ledgerdomain.PostEntryRequest{
				AccountID:      f.account.ID,
				EntryType:      ledgerdomain.EntryTypeInvoice,
				Amount:         money.MustParse("30.00"),
				Description:    "March subscription",
				SubscriptionID: &sub,
				PeriodStart:    &start,
				PeriodEnd:      &end,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ledgerdomain.ErrDuplicatePeriodInvoice):
				dupErr++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, dupErr)
}

func TestExternalRefReplaysExistingEntry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := ledgerdomain.PostEntryRequest{
		AccountID:   f.account.ID,
		EntryType:   ledgerdomain.EntryTypeInvoice,
		Amount:      money.MustParse("42.00"),
		Description: "additional equipment for survey 17",
		ExternalRef: "survey-17-equipment",
	}
	first, err := f.svc.PostEntry(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.PostEntry(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	req.StrictExternalRef = true
	_, err = f.svc.PostEntry(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateExternalRef)

	balance, err := f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "42.00", balance.String())
}

func TestExternalRefReusedForDifferentEntryIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	other, err := f.svc.EnsureAccount(ctx, nil, f.node.Generate(), "USD")
	require.NoError(t, err)

	req := ledgerdomain.PostEntryRequest{
		AccountID:   f.account.ID,
		EntryType:   ledgerdomain.EntryTypePayment,
		Amount:      money.MustParse("-30.00"),
		Description: "bank transfer",
		ExternalRef: "bank-5531",
	}
	_, err = f.svc.PostEntry(ctx, req)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(r *ledgerdomain.PostEntryRequest)
	}{
		{"other account", func(r *ledgerdomain.PostEntryRequest) { r.AccountID = other.ID }},
		{"other type", func(r *ledgerdomain.PostEntryRequest) { r.EntryType = ledgerdomain.EntryTypeCreditNote }},
		{"other amount", func(r *ledgerdomain.PostEntryRequest) { r.Amount = money.MustParse("-31.00") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changed := req
			tc.mutate(&changed)
			_, err := f.svc.PostEntry(ctx, changed)
			assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateExternalRef)
		})
	}

	// Same amount written differently is still the same posting.
	req.Amount = money.MustParse("-30")
	res, err := f.svc.PostEntry(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	balance, err := f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "-30.00", balance.String())
	balance, err = f.svc.GetBalance(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestExternalRefConcurrentRetriesPostOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan snowflake.ID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.PostEntry(ctx, ledgerdomain.PostEntryRequest{
				AccountID:   f.account.ID,
				EntryType:   ledgerdomain.EntryTypePayment,
				Amount:      money.MustParse("-12.50"),
				Description: "mobile money confirmation",
				ExternalRef: "pay-9931",
			})
			if assert.NoError(t, err) {
				ids <- res.Entry.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[snowflake.ID]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)

	balance, err := f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "-12.50", balance.String())
}

func TestExternalRefCommittedDuringPostIsReplayed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := ledgerdomain.PostEntryRequest{
		AccountID:   f.account.ID,
		EntryType:   ledgerdomain.EntryTypePayment,
		Amount:      money.MustParse("-18.00"),
		Description: "card settlement",
		ExternalRef: "card-7741",
	}
	first, err := f.svc.PostEntry(ctx, req)
	require.NoError(t, err)

	// The in-transaction lookup misses, so the insert trips the unique index
	// and the outcome is resolved after rollback.
	require.NoError(t, db.HideNextRead(f.db, "account_entries", "external_ref"))
	second, err := f.svc.PostEntry(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	require.NoError(t, db.HideNextRead(f.db, "account_entries", "external_ref"))
	strict := req
	strict.StrictExternalRef = true
	_, err = f.svc.PostEntry(ctx, strict)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateExternalRef)

	require.NoError(t, db.HideNextRead(f.db, "account_entries", "external_ref"))
	changed := req
	changed.Amount = money.MustParse("-19.00")
	_, err = f.svc.PostEntry(ctx, changed)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateExternalRef)

	balance, err := f.svc.GetBalance(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "-18.00", balance.String())
}

func TestPeriodCommittedDuringPostIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sub := f.node.Generate()
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	req := ledgerdomain.PostEntryRequest{
		AccountID:      f.account.ID,
		EntryType:      ledgerdomain.EntryTypeInvoice,
		Amount:         money.MustParse("40.00"),
		Description:    "May subscription",
		SubscriptionID: &sub,
		PeriodStart:    &start,
		PeriodEnd:      &end,
	}
	_, err := f.svc.PostEntry(ctx, req)
	require.NoError(t, err)

	require.NoError(t, db.HideNextRead(f.db, "account_entries", "invoice_period_key"))
	req.Description = "May subscription retry"
	_, err = f.svc.PostEntry(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicatePeriodInvoice)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.AccountEntry{}).Where("account_id = ?", f.account.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPostEntryValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sub := f.node.Generate()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		req  ledgerdomain.PostEntryRequest
		want error
	}{
		{"negative invoice", ledgerdomain.PostEntryRequest{AccountID: f.account.ID, EntryType: ledgerdomain.EntryTypeInvoice, Amount: money.MustParse("-1"), Description: "x"}, ledgerdomain.ErrInvalidAmount},
		{"positive payment", ledgerdomain.PostEntryRequest{AccountID: f.account.ID, EntryType: ledgerdomain.EntryTypePayment, Amount: money.MustParse("1"), Description: "x"}, ledgerdomain.ErrInvalidAmount},
		{"zero adjustment", ledgerdomain.PostEntryRequest{AccountID: f.account.ID, EntryType: ledgerdomain.EntryTypeAdjustment, Amount: money.Zero(), Description: "x"}, ledgerdomain.ErrInvalidAmount},
		{"unknown type", ledgerdomain.PostEntryRequest{AccountID: f.account.ID, EntryType: "refund", Amount: money.MustParse("1"), Description: "x"}, ledgerdomain.ErrInvalidEntryType},
		{"missing description", ledgerdomain.PostEntryRequest{AccountID: f.account.ID, EntryType: ledgerdomain.EntryTypeTax, Amount: money.MustParse("1")}, ledgerdomain.ErrInvalidDescription},
		{"inverted period", ledgerdomain.PostEntryRequest{AccountID: f.account.ID, EntryType: ledgerdomain.EntryTypeInvoice, Amount: money.MustParse("1"), Description: "x", SubscriptionID: &sub, PeriodStart: &start, PeriodEnd: &start}, ledgerdomain.ErrInvalidPeriod},
		{"period without subscription", ledgerdomain.PostEntryRequest{AccountID: f.account.ID, EntryType: ledgerdomain.EntryTypeInvoice, Amount: money.MustParse("1"), Description: "x", PeriodStart: &start, PeriodEnd: ptrTime(start.AddDate(0, 1, 0))}, ledgerdomain.ErrMissingSubscription},
		{"unknown account", ledgerdomain.PostEntryRequest{AccountID: f.node.Generate(), EntryType: ledgerdomain.EntryTypeTax, Amount: money.MustParse("1"), Description: "x"}, ledgerdomain.ErrAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PostEntry(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.AccountEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPostEntryTimeoutIsOutcomeUnknown(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.svc.PostEntry(ctx, ledgerdomain.PostEntryRequest{
		AccountID:   f.account.ID,
		EntryType:   ledgerdomain.EntryTypeInvoice,
		Amount:      money.MustParse("5.00"),
		Description: "late",
		ExternalRef: "late-1",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrOutcomeUnknown)
}

type resolverMock struct {
	mock.Mock
}

func (m *resolverMock) ResolveSnapshot(ctx context.Context, q ledgerdomain.SnapshotQuery) (ledgerdomain.Snapshot, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(ledgerdomain.Snapshot), args.Error(1)
}

func TestSnapshotsAreFrozenAtPostTime(t *testing.T) {
	resolver := &resolverMock{}
	f := newFixture(t, resolver)
	ctx := context.Background()

	region := "Kinshasa"
	agent := "agent-7"
	resolver.On("ResolveSnapshot", mock.Anything, mock.Anything).
		Return(ledgerdomain.Snapshot{Region: &region, SalesAgent: &agent}, nil).Once()

	resolved := f.post(t, ledgerdomain.EntryTypeInvoice, "10.00")
	require.NotNil(t, resolved.Entry.RegionSnapshot)
	assert.Equal(t, "Kinshasa", *resolved.Entry.RegionSnapshot)
	assert.Equal(t, ledgerdomain.SnapshotSourceResolved, resolved.Entry.SnapshotSource)

	explicit := "Lubumbashi"
	res, err := f.svc.PostEntry(ctx, ledgerdomain.PostEntryRequest{
		AccountID:      f.account.ID,
		EntryType:      ledgerdomain.EntryTypeInvoice,
		Amount:         money.MustParse("10.00"),
		Description:    "explicit snapshot",
		RegionSnapshot: &explicit,
	})
	require.NoError(t, err)
	assert.Equal(t, "Lubumbashi", *res.Entry.RegionSnapshot)
	assert.Nil(t, res.Entry.SalesAgentSnapshot)
	assert.Equal(t, ledgerdomain.SnapshotSourceRequest, res.Entry.SnapshotSource)

	stored, err := f.svc.GetEntry(ctx, resolved.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kinshasa", *stored.RegionSnapshot)
	assert.Equal(t, "agent-7", *stored.SalesAgentSnapshot)

	resolver.AssertExpectations(t)
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	again, err := f.svc.EnsureAccount(ctx, nil, f.account.CustomerID, "usd")
	require.NoError(t, err)
	assert.Equal(t, f.account.ID, again.ID)

	byCustomer, err := f.svc.GetAccountByCustomer(ctx, f.account.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, f.account.ID, byCustomer.ID)

	_, err = f.svc.EnsureAccount(ctx, nil, f.account.CustomerID, "dollars")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCurrency)
}

func ptrTime(t time.Time) *time.Time { return &t }
