package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/ledgerd/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/ledgerd/internal/billingcycle/domain"
	customerdomain "github.com/smallbiznis/ledgerd/internal/customer/domain"
	fxratedomain "github.com/smallbiznis/ledgerd/internal/fxrate/domain"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/ledgerd/internal/ledger/domain"
	walletdomain "github.com/smallbiznis/ledgerd/internal/wallet/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&ledgerdomain.BillingAccount{},
		&ledgerdomain.AccountEntry{},
		&walletdomain.Wallet{},
		&walletdomain.WalletTransaction{},
		&invoicedomain.ConsolidatedInvoice{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.InvoiceTaxLine{},
		&invoicedomain.InvoiceOrder{},
		&invoicedomain.InvoiceSequence{},
		&fxratedomain.FxRate{},
		&billingcycledomain.Policy{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate creates the schema from the models. Used for sqlite and
// mysql, which the embedded SQL does not target.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Apply picks the migration strategy for the connected dialect.
func Apply(conn *gorm.DB) error {
	if conn.Dialector.Name() != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
