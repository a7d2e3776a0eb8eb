package format

import (
	"testing"
	"time"

	"github.com/smallbiznis/ledgerd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemeFormat(t *testing.T) {
	issued := time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)
	cfg := config.NumberingConfig{Prefix: "INV", ConsolidatedPrefix: "CINV", YearlyReset: true, Padding: 6}

	number, err := InvoiceScheme(cfg).Format(issued, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-2025-000042", number)
	assert.Equal(t, "INV:2025", InvoiceScheme(cfg).Scope(issued))

	number, err = ConsolidatedScheme(cfg).Format(issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "CINV-2025-000007", number)

	cfg.YearlyReset = false
	cfg.Padding = 0
	number, err = InvoiceScheme(cfg).Format(issued, 1234)
	require.NoError(t, err)
	assert.Equal(t, "INV-1234", number)
	assert.Equal(t, "INV", InvoiceScheme(cfg).Scope(issued))
}

func TestFormatInvoiceNumberRejectsBadInput(t *testing.T) {
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := FormatInvoiceNumber("", issued, 1)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("INV-{SEQ}", issued, 0)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("INV-{WEEK}-{SEQ}", issued, 1)
	assert.Error(t, err)

	_, err = Scheme{Padding: 4}.Format(issued, 1)
	assert.Error(t, err)

	number, err := FormatInvoiceNumber("{YY}{MM}{DD}-{SEQ4}", issued, 9)
	require.NoError(t, err)
	assert.Equal(t, "250101-0009", number)
}
