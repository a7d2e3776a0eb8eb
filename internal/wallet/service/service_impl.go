package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	obsmetrics "github.com/smallbiznis/ledgerd/internal/observability/metrics"
	walletdomain "github.com/smallbiznis/ledgerd/internal/wallet/domain"
	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"github.com/smallbiznis/ledgerd/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config       `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	obsMetrics     *obsmetrics.Metrics
	postingTimeout time.Duration
}

func NewService(p Params) walletdomain.Service {
	svc := &Service{
		db:             p.DB,
		log:            p.Log.Named("wallet.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		obsMetrics:     p.ObsMetrics,
		postingTimeout: p.Config.PostingTimeout,
	}
	if svc.clock == nil {
		svc.clock = clock.System()
	}
	return svc
}

// movement is the outcome of one locked read-compare-write.
type movement struct {
	applied bool
	balance money.Money
}

func (s *Service) Credit(ctx context.Context, req walletdomain.MovementRequest) (money.Money, error) {
	res, err := s.move(ctx, walletdomain.TransactionTypeCredit, req)
	if err != nil {
		return money.Zero(), err
	}
	if !res.applied {
		return money.Zero(), walletdomain.ErrDuplicateAttempt
	}
	return res.balance, nil
}

func (s *Service) Debit(ctx context.Context, req walletdomain.MovementRequest) (money.Money, error) {
	res, err := s.move(ctx, walletdomain.TransactionTypeDebit, req)
	if err != nil {
		return money.Zero(), err
	}
	return res.balance, nil
}

func (s *Service) CreditForAttempt(ctx context.Context, req walletdomain.MovementRequest) (*walletdomain.CreditForAttemptResult, error) {
	if strings.TrimSpace(req.PaymentAttemptID) == "" {
		return nil, walletdomain.ErrInvalidAttempt
	}
	res, err := s.move(ctx, walletdomain.TransactionTypeCredit, req)
	if err != nil {
		return nil, err
	}
	return &walletdomain.CreditForAttemptResult{Credited: res.applied, Balance: res.balance}, nil
}

func (s *Service) move(ctx context.Context, txType walletdomain.TransactionType, req walletdomain.MovementRequest) (movement, error) {
	if req.WalletID == 0 {
		return movement{}, walletdomain.ErrInvalidWallet
	}
	amount := money.Quantize(req.Amount.Decimal())
	if !amount.IsPositive() {
		return movement{}, walletdomain.ErrInvalidAmount
	}

	attemptID := strings.TrimSpace(req.PaymentAttemptID)
	var attemptRef, attemptKey *string
	if attemptID != "" {
		attemptRef = &attemptID
		if txType == walletdomain.TransactionTypeCredit {
			key := walletdomain.AttemptKey(req.WalletID, attemptID)
			attemptKey = &key
		}
	}

	ctx, cancel := db.WithPostingTimeout(ctx, s.postingTimeout)
	defer cancel()

	var res movement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, req.WalletID)
		if err != nil {
			return err
		}

		if attemptKey != nil {
			var count int64
			if err := tx.WithContext(ctx).
				Model(&walletdomain.WalletTransaction{}).
				Where("attempt_key = ?", *attemptKey).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				res = movement{applied: false, balance: wallet.Balance}
				return nil
			}
		}

		next := wallet.Balance.Add(amount)
		if txType == walletdomain.TransactionTypeDebit {
			if wallet.Balance.LessThan(amount) {
				return walletdomain.ErrInsufficientFunds
			}
			next = wallet.Balance.Sub(amount)
		}

		now := s.clock.Now().UTC().Truncate(time.Microsecond)
		if err := tx.WithContext(ctx).
			Model(&walletdomain.Wallet{}).
			Where("id = ?", wallet.ID).
			Updates(map[string]any{"balance": next, "updated_at": now}).Error; err != nil {
			return err
		}

		row := walletdomain.WalletTransaction{
			ID:               s.genID.Generate(),
			WalletID:         wallet.ID,
			Type:             txType,
			Amount:           amount,
			Note:             strings.TrimSpace(req.Note),
			OrderID:          req.OrderID,
			PaymentAttemptID: attemptRef,
			AttemptKey:       attemptKey,
			BalanceAfter:     next,
			CreatedAt:        now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}

		res = movement{applied: true, balance: next}
		return nil
	})
	if err != nil {
		if attemptKey != nil && db.IsDuplicateKeyErr(err) {
			// A concurrent credit for the same attempt committed first.
			wallet, getErr := s.GetWallet(ctx, req.WalletID)
			if getErr != nil {
				return movement{}, db.WrapTimeout(getErr)
			}
			res = movement{applied: false, balance: wallet.Balance}
		} else {
			if errors.Is(err, walletdomain.ErrInsufficientFunds) {
				s.log.Info("wallet debit rejected",
					zap.String("wallet_id", req.WalletID.String()),
					zap.String("amount", amount.String()),
				)
			}
			return movement{}, db.WrapTimeout(err)
		}
	}

	fields := []zap.Field{
		zap.String("wallet_id", req.WalletID.String()),
		zap.String("type", string(txType)),
		zap.String("amount", amount.String()),
		zap.String("balance", res.balance.String()),
	}
	if attemptRef != nil {
		fields = append(fields, zap.String("payment_attempt_id", *attemptRef))
	}
	if !res.applied {
		s.log.Warn("wallet credit already applied for attempt", fields...)
		s.obsMetrics.RecordReplay(ctx, "wallet.credit_for_attempt")
		return res, nil
	}
	s.log.Info("wallet balance moved", fields...)
	s.obsMetrics.RecordWalletTransaction(ctx, string(txType))
	return res, nil
}

func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, walletID snowflake.ID) (*walletdomain.Wallet, error) {
	var wallet walletdomain.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&wallet, "id = ?", walletID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, walletdomain.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) GetWallet(ctx context.Context, walletID snowflake.ID) (*walletdomain.Wallet, error) {
	var wallet walletdomain.Wallet
	if err := s.db.WithContext(ctx).Take(&wallet, "id = ?", walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, walletdomain.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) GetWalletByCustomer(ctx context.Context, customerID snowflake.ID) (*walletdomain.Wallet, error) {
	return s.walletByCustomer(ctx, s.db, customerID)
}

func (s *Service) walletByCustomer(ctx context.Context, conn *gorm.DB, customerID snowflake.ID) (*walletdomain.Wallet, error) {
	var wallet walletdomain.Wallet
	if err := conn.WithContext(ctx).Take(&wallet, "customer_id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, walletdomain.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) ListTransactions(ctx context.Context, req walletdomain.ListTransactionsRequest) (*walletdomain.ListTransactionsResponse, error) {
	if req.WalletID == 0 {
		return nil, walletdomain.ErrInvalidWallet
	}
	limit := pagination.NormalizeLimit(req.Limit)

	stmt := s.db.WithContext(ctx).Where("wallet_id = ?", req.WalletID)
	createdAt, id, ok, err := pagination.DecodeTimeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}
	if ok {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var rows []walletdomain.WalletTransaction
	if err := stmt.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}

	rows, info, err := pagination.BuildCursorPageInfo(rows, limit, func(r walletdomain.WalletTransaction) pagination.Cursor {
		return pagination.TimeCursor(r.CreatedAt, int64(r.ID))
	})
	if err != nil {
		return nil, err
	}
	return &walletdomain.ListTransactionsResponse{PageInfo: info, Transactions: rows}, nil
}

func (s *Service) EnsureWallet(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, currency string) (*walletdomain.Wallet, error) {
	if customerID == 0 {
		return nil, walletdomain.ErrInvalidCustomer
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, walletdomain.ErrInvalidCurrency
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	wallet := walletdomain.Wallet{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Balance:    money.Zero(),
		Currency:   currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "customer_id"}}, DoNothing: true}).
		Create(&wallet)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		s.log.Info("wallet provisioned",
			zap.String("customer_id", customerID.String()),
			zap.String("wallet_id", wallet.ID.String()),
		)
		return &wallet, nil
	}
	return s.walletByCustomer(ctx, tx, customerID)
}
