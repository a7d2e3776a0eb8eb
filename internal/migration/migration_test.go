package migration

import (
	"io/fs"
	"reflect"
	"strings"
	"testing"

	"github.com/smallbiznis/ledgerd/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestEmbeddedMigrationsCoverEveryTable(t *testing.T) {
	var all strings.Builder
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/"+e.Name())
		require.NoError(t, err)
		all.Write(body)
	}
	sql := all.String()

	conn, err := db.NewTest()
	require.NoError(t, err)
	for _, model := range Models() {
		stmt := conn.Model(model).Statement
		require.NoError(t, stmt.Parse(model))
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+stmt.Schema.Table+" (", stmt.Schema.Table)
	}

	for _, idx := range []string{
		"ux_account_entries_external_ref",
		"ux_account_entries_invoice_period_key",
		"ux_wallet_transactions_attempt_key",
		"ux_invoices_number",
		"ux_invoices_billing_period_key",
		"ux_invoice_orders_invoice_order",
		"ux_fx_rates_date_pair",
	} {
		assert.Contains(t, sql, idx)
	}
}

func TestAutoMigrateOnSQLite(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, Apply(conn))

	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model))
	}
	assert.True(t, conn.Migrator().HasIndex("invoices", "ux_invoices_billing_period_key"))
}

func TestIndexedStringColumnsAreSized(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	for _, model := range Models() {
		stmt := conn.Model(model).Statement
		require.NoError(t, stmt.Parse(model))
		for _, field := range stmt.Schema.Fields {
			name := stmt.Schema.Table + "." + field.DBName
			dataType := strings.ToLower(string(field.DataType))
			assert.NotEqual(t, "jsonb", dataType, name)

			if field.IndirectFieldType.Kind() != reflect.String {
				continue
			}
			_, indexed := field.TagSettings["INDEX"]
			_, unique := field.TagSettings["UNIQUEINDEX"]
			if !indexed && !unique && !field.PrimaryKey {
				continue
			}
			sized := field.Size > 0 || strings.HasPrefix(dataType, "varchar(")
			assert.True(t, sized, "%s is indexed and needs a bounded length", name)
		}
	}
}
