package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/ledgerd/internal/observability/metrics"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	externalRefColumn      = "external_ref"
	invoicePeriodKeyColumn = "invoice_period_key"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config                 `optional:"true"`
	Clock      clock.Clock                   `optional:"true"`
	Resolver   ledgerdomain.SnapshotResolver `optional:"true"`
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
}

type Service struct {
	db                *gorm.DB
	log               *zap.Logger
	genID             *snowflake.Node
	clock             clock.Clock
	resolver          ledgerdomain.SnapshotResolver
	obsMetrics        *obsmetrics.Metrics
	postingTimeout    time.Duration
	strictExternalRef bool
}

func NewService(p Params) ledgerdomain.Service {
	svc := &Service{
		db:                p.DB,
		log:               p.Log.Named("ledger.service"),
		genID:             p.GenID,
		clock:             p.Clock,
		resolver:          p.Resolver,
		obsMetrics:        p.ObsMetrics,
		postingTimeout:    p.Config.PostingTimeout,
		strictExternalRef: p.Config.StrictExternalRef,
	}
	if svc.clock == nil {
		svc.clock = clock.System()
	}
	return svc
}

func (s *Service) PostEntry(ctx context.Context, req ledgerdomain.PostEntryRequest) (*ledgerdomain.PostEntryResult, error) {
	entry, err := s.buildEntry(req)
	if err != nil {
		return nil, err
	}
	strict := req.StrictExternalRef || s.strictExternalRef

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	// Snapshots are read before the transaction opens so collaborators never
	// run inside the posting lock.
	if err := s.applySnapshot(ctx, req, &entry); err != nil {
		return nil, db.WrapTimeout(err)
	}

	var result ledgerdomain.PostEntryResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account ledgerdomain.BillingAccount
		if err := tx.WithContext(ctx).Select("id").Take(&account, "id = ?", req.AccountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerdomain.ErrAccountNotFound
			}
			return err
		}

		if entry.ExternalRef != nil {
			existing, err := s.findByExternalRef(ctx, tx, *entry.ExternalRef)
			if err != nil {
				return err
			}
			if existing != nil {
				if strict || !s.samePosting(*existing, entry) {
					return ledgerdomain.ErrDuplicateExternalRef
				}
				result = ledgerdomain.PostEntryResult{Entry: *existing, Replayed: true}
				return nil
			}
		}

		if entry.InvoicePeriodKey != nil {
			var count int64
			if err := tx.WithContext(ctx).
				Model(&ledgerdomain.AccountEntry{}).
				Where("invoice_period_key = ?", *entry.InvoicePeriodKey).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ledgerdomain.ErrDuplicatePeriodInvoice
			}
		}

		if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
			return err
		}
		result = ledgerdomain.PostEntryResult{Entry: entry}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.resolveConflict(ctx, entry, strict, err)
		}
		if errors.Is(err, ledgerdomain.ErrDuplicatePeriodInvoice) {
			s.log.Warn("duplicate period invoice rejected",
				zap.String("account_id", req.AccountID.String()),
				zap.String("period_key", derefString(entry.InvoicePeriodKey)),
			)
		}
		return nil, db.WrapTimeout(err)
	}

	s.logPosted(ctx, result)
	return &result, nil
}

func (s *Service) buildEntry(req ledgerdomain.PostEntryRequest) (ledgerdomain.AccountEntry, error) {
	if req.AccountID == 0 {
		return ledgerdomain.AccountEntry{}, ledgerdomain.ErrInvalidAccount
	}
	entryType := ledgerdomain.EntryType(strings.ToLower(strings.TrimSpace(string(req.EntryType))))
	if !entryType.Valid() {
		return ledgerdomain.AccountEntry{}, ledgerdomain.ErrInvalidEntryType
	}
	amount := money.Quantize(req.Amount.Decimal())
	if err := entryType.CheckSign(amount); err != nil {
		return ledgerdomain.AccountEntry{}, err
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return ledgerdomain.AccountEntry{}, ledgerdomain.ErrInvalidDescription
	}

	entry := ledgerdomain.AccountEntry{
		ID:             s.genID.Generate(),
		AccountID:      req.AccountID,
		EntryType:      entryType,
		Amount:         amount,
		Description:    description,
		OrderID:        nonZeroID(req.OrderID),
		SubscriptionID: nonZeroID(req.SubscriptionID),
		PaymentID:      nonZeroID(req.PaymentID),
		SnapshotSource: ledgerdomain.SnapshotSourceNone,
		CreatedAt:      s.clock.Now().UTC().Truncate(time.Microsecond),
	}

	if ref := strings.TrimSpace(req.ExternalRef); ref != "" {
		entry.ExternalRef = &ref
	}

	if (req.PeriodStart == nil) != (req.PeriodEnd == nil) {
		return ledgerdomain.AccountEntry{}, ledgerdomain.ErrInvalidPeriod
	}
	if req.PeriodStart != nil {
		start := req.PeriodStart.UTC()
		end := req.PeriodEnd.UTC()
		if !end.After(start) {
			return ledgerdomain.AccountEntry{}, ledgerdomain.ErrInvalidPeriod
		}
		entry.PeriodStart = &start
		entry.PeriodEnd = &end

		if entryType == ledgerdomain.EntryTypeInvoice {
			if entry.SubscriptionID == nil {
				return ledgerdomain.AccountEntry{}, ledgerdomain.ErrMissingSubscription
			}
			key := ledgerdomain.PeriodKey(*entry.SubscriptionID, start, end)
			entry.InvoicePeriodKey = &key
		}
	}

	return entry, nil
}

func (s *Service) applySnapshot(ctx context.Context, req ledgerdomain.PostEntryRequest, entry *ledgerdomain.AccountEntry) error {
	region := trimmedOrNil(req.RegionSnapshot)
	agent := trimmedOrNil(req.SalesAgentSnapshot)
	if region != nil || agent != nil {
		entry.RegionSnapshot = region
		entry.SalesAgentSnapshot = agent
		entry.SnapshotSource = ledgerdomain.SnapshotSourceRequest
		return nil
	}
	if s.resolver == nil {
		return nil
	}

	snap, err := s.resolver.ResolveSnapshot(ctx, ledgerdomain.SnapshotQuery{
		AccountID:      entry.AccountID,
		OrderID:        entry.OrderID,
		SubscriptionID: entry.SubscriptionID,
	})
	if err != nil {
		return fmt.Errorf("resolve snapshot: %w", err)
	}
	entry.RegionSnapshot = trimmedOrNil(snap.Region)
	entry.SalesAgentSnapshot = trimmedOrNil(snap.SalesAgent)
	if entry.RegionSnapshot != nil || entry.SalesAgentSnapshot != nil {
		entry.SnapshotSource = ledgerdomain.SnapshotSourceResolved
	}
	return nil
}

// resolveConflict turns a unique-index violation raised by a concurrent
// poster into the same outcome the in-transaction checks would have given.
func (s *Service) resolveConflict(ctx context.Context, entry ledgerdomain.AccountEntry, strict bool, cause error) (*ledgerdomain.PostEntryResult, error) {
	if entry.InvoicePeriodKey != nil && db.DuplicateKeyMentions(cause, invoicePeriodKeyColumn) {
		return nil, ledgerdomain.ErrDuplicatePeriodInvoice
	}
	if entry.ExternalRef != nil {
		existing, err := s.findByExternalRef(ctx, s.db, *entry.ExternalRef)
		if err != nil {
			return nil, db.WrapTimeout(err)
		}
		if existing != nil {
			if strict || !s.samePosting(*existing, entry) {
				return nil, ledgerdomain.ErrDuplicateExternalRef
			}
			result := ledgerdomain.PostEntryResult{Entry: *existing, Replayed: true}
			s.logPosted(ctx, result)
			return &result, nil
		}
	}
	if entry.InvoicePeriodKey != nil {
		return nil, ledgerdomain.ErrDuplicatePeriodInvoice
	}
	s.log.Error("unexpected unique violation while posting", zap.Error(cause))
	return nil, cause
}

// samePosting reports whether a stored entry can stand in for a retry of
// entry. A ref reused for another account, type or amount is a caller bug.
func (s *Service) samePosting(existing, entry ledgerdomain.AccountEntry) bool {
	if existing.AccountID == entry.AccountID &&
		existing.EntryType == entry.EntryType &&
		existing.Amount.Equal(entry.Amount) {
		return true
	}
	s.log.Warn("external_ref reused for a different entry",
		zap.String("external_ref", derefString(entry.ExternalRef)),
		zap.String("existing_entry_id", existing.ID.String()),
		zap.String("existing_account_id", existing.AccountID.String()),
		zap.String("account_id", entry.AccountID.String()),
		zap.String("existing_amount", existing.Amount.String()),
		zap.String("amount", entry.Amount.String()),
	)
	return false
}

func (s *Service) logPosted(ctx context.Context, result ledgerdomain.PostEntryResult) {
	fields := []zap.Field{
		zap.String("entry_id", result.Entry.ID.String()),
		zap.String("account_id", result.Entry.AccountID.String()),
		zap.String("entry_type", string(result.Entry.EntryType)),
		zap.String("amount", result.Entry.Amount.String()),
	}
	if result.Replayed {
		s.log.Warn("ledger entry replayed", append(fields, zap.String("external_ref", derefString(result.Entry.ExternalRef)))...)
		s.obsMetrics.RecordReplay(ctx, "ledger.post_entry")
		return
	}
	s.log.Info("ledger entry posted", fields...)
	s.obsMetrics.RecordLedgerEntry(ctx, string(result.Entry.EntryType))
}

func (s *Service) findByExternalRef(ctx context.Context, conn *gorm.DB, ref string) (*ledgerdomain.AccountEntry, error) {
	var existing ledgerdomain.AccountEntry
	err := conn.WithContext(ctx).Where("external_ref = ?", ref).Take(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &existing, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (money.Money, error) {
	if accountID == 0 {
		return money.Zero(), ledgerdomain.ErrInvalidAccount
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return money.Zero(), err
	}

	var balance money.Money
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM account_entries WHERE account_id = ?`,
		accountID,
	).Row().Scan(&balance)
	if err != nil {
		return money.Zero(), err
	}
	return balance, nil
}

func (s *Service) GetEntry(ctx context.Context, entryID snowflake.ID) (*ledgerdomain.AccountEntry, error) {
	var entry ledgerdomain.AccountEntry
	if err := s.db.WithContext(ctx).Take(&entry, "id = ?", entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID snowflake.ID) (*ledgerdomain.BillingAccount, error) {
	var account ledgerdomain.BillingAccount
	if err := s.db.WithContext(ctx).Take(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) GetAccountByCustomer(ctx context.Context, customerID snowflake.ID) (*ledgerdomain.BillingAccount, error) {
	return s.accountByCustomer(ctx, s.db, customerID)
}

func (s *Service) accountByCustomer(ctx context.Context, conn *gorm.DB, customerID snowflake.ID) (*ledgerdomain.BillingAccount, error) {
	var account ledgerdomain.BillingAccount
	if err := conn.WithContext(ctx).Take(&account, "customer_id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) EnsureAccount(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, currency string) (*ledgerdomain.BillingAccount, error) {
	if customerID == 0 {
		return nil, ledgerdomain.ErrInvalidCustomer
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, ledgerdomain.ErrInvalidCurrency
	}
	if tx == nil {
		tx = s.db
	}

	account := ledgerdomain.BillingAccount{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Currency:   currency,
		CreatedAt:  s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "customer_id"}}, DoNothing: true}).
		Create(&account)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		s.log.Info("billing account provisioned",
			zap.String("customer_id", customerID.String()),
			zap.String("account_id", account.ID.String()),
		)
		return &account, nil
	}
	return s.accountByCustomer(ctx, tx, customerID)
}

func nonZeroID(id *snowflake.ID) *snowflake.ID {
	if id == nil || *id == 0 {
		return nil
	}
	v := *id
	return &v
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
