package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/internal/clock"
	"github.com/smallbiznis/ledgerd/internal/config"
	"github.com/smallbiznis/ledgerd/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	walletdomain "github.com/smallbiznis/ledgerd/internal/wallet/domain"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	LedgerSvc ledgerdomain.Service
	WalletSvc walletdomain.Service
	Config    config.Config `optional:"true"`
	Clock     clock.Clock   `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	repo            domain.Repository
	ledgerSvc       ledgerdomain.Service
	walletSvc       walletdomain.Service
	clock           clock.Clock
	defaultCurrency string
}

func New(p Params) domain.Service {
	svc := &Service{
		db:              p.DB,
		log:             p.Log.Named("customer.service"),
		genID:           p.GenID,
		repo:            p.Repo,
		ledgerSvc:       p.LedgerSvc,
		walletSvc:       p.WalletSvc,
		clock:           p.Clock,
		defaultCurrency: strings.ToUpper(strings.TrimSpace(p.Config.BaseCurrency)),
	}
	if svc.clock == nil {
		svc.clock = clock.System()
	}
	if svc.defaultCurrency == "" {
		svc.defaultCurrency = "USD"
	}
	return svc
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Provisioned, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Provisioned{}, domain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Provisioned{}, domain.ErrInvalidEmail
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return domain.Provisioned{}, domain.ErrInvalidCurrency
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	customer := domain.Customer{
		ID:         s.genID.Generate(),
		Name:       name,
		Email:      email,
		Currency:   currency,
		Region:     optionalString(req.Region),
		SalesAgent: optionalString(req.SalesAgent),
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var out domain.Provisioned
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &customer); err != nil {
			return err
		}
		provisioned, err := s.provision(ctx, tx, customer)
		if err != nil {
			return err
		}
		out = provisioned
		return nil
	})
	if err != nil {
		return domain.Provisioned{}, err
	}

	s.log.Info("customer created",
		zap.String("customer_id", customer.ID.String()),
		zap.String("billing_account_id", out.AccountID.String()),
		zap.String("wallet_id", out.WalletID.String()),
	)
	return out, nil
}

func (s *Service) Provision(ctx context.Context, customerID snowflake.ID) (domain.Provisioned, error) {
	if customerID == 0 {
		return domain.Provisioned{}, domain.ErrInvalidID
	}

	var out domain.Provisioned
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.repo.FindByID(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return domain.ErrNotFound
		}
		provisioned, err := s.provision(ctx, tx, *customer)
		if err != nil {
			return err
		}
		out = provisioned
		return nil
	})
	if err != nil {
		return domain.Provisioned{}, err
	}
	return out, nil
}

func (s *Service) provision(ctx context.Context, tx *gorm.DB, customer domain.Customer) (domain.Provisioned, error) {
	account, err := s.ledgerSvc.EnsureAccount(ctx, tx, customer.ID, customer.Currency)
	if err != nil {
		return domain.Provisioned{}, err
	}
	wallet, err := s.walletSvc.EnsureWallet(ctx, tx, customer.ID, customer.Currency)
	if err != nil {
		return domain.Provisioned{}, err
	}
	return domain.Provisioned{Customer: customer, AccountID: account.ID, WalletID: wallet.ID}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) (domain.ListCustomerResponse, error) {
	filter := domain.ListCustomerFilter{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Region:   strings.TrimSpace(req.Region),
	}
	limit := pagination.NormalizeLimit(req.PageSize)

	var after *domain.ListCursor
	createdAt, id, ok, err := pagination.DecodeTimeCursor(req.PageToken)
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}
	if ok {
		after = &domain.ListCursor{CreatedAt: createdAt, ID: snowflake.ID(id)}
	}

	items, err := s.repo.List(ctx, s.db, filter, after, limit+1)
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, limit, func(customer *domain.Customer) pagination.Cursor {
		return pagination.TimeCursor(customer.CreatedAt, int64(customer.ID))
	})
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}

	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		customers = append(customers, *item)
	}

	return domain.ListCustomerResponse{PageInfo: pageInfo, Customers: customers}, nil
}

func (s *Service) GetByID(ctx context.Context, rawID string) (domain.Customer, error) {
	id, err := s.parseID(rawID)
	if err != nil {
		return domain.Customer{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}

	return *item, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
