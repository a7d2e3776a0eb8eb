package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/ledgerd/internal/config"
)

var (
	seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)
)

// Scheme describes how numbers for one document family are built.
type Scheme struct {
	Prefix      string
	YearlyReset bool
	Padding     int
}

// InvoiceScheme returns the scheme for regular invoices.
func InvoiceScheme(cfg config.NumberingConfig) Scheme {
	return Scheme{Prefix: cfg.Prefix, YearlyReset: cfg.YearlyReset, Padding: cfg.Padding}
}

// ConsolidatedScheme returns the scheme for consolidated invoices.
func ConsolidatedScheme(cfg config.NumberingConfig) Scheme {
	return Scheme{Prefix: cfg.ConsolidatedPrefix, YearlyReset: cfg.YearlyReset, Padding: cfg.Padding}
}

// Template renders the scheme as a number template.
func (s Scheme) Template() string {
	seq := "{SEQ}"
	if s.Padding > 0 {
		seq = fmt.Sprintf("{SEQ%d}", s.Padding)
	}
	if s.YearlyReset {
		return "{PREFIX}-{YYYY}-" + seq
	}
	return "{PREFIX}-" + seq
}

// Scope names the counter a number is drawn from. Yearly schemes get one
// counter per calendar year of issuedAt.
func (s Scheme) Scope(issuedAt time.Time) string {
	if s.YearlyReset {
		return s.Prefix + ":" + issuedAt.UTC().Format("2006")
	}
	return s.Prefix
}

// Format renders the number for seq under the scheme.
func (s Scheme) Format(issuedAt time.Time, seq int64) (string, error) {
	if strings.TrimSpace(s.Prefix) == "" {
		return "", fmt.Errorf("invoice number prefix is empty")
	}
	return FormatInvoiceNumber(strings.ReplaceAll(s.Template(), "{PREFIX}", s.Prefix), issuedAt, seq)
}

// FormatInvoiceNumber formats a human-readable invoice number
// based on a template, invoice issue time, and monotonic sequence.
func FormatInvoiceNumber(
	template string,
	issuedAt time.Time,
	seq int64,
) (string, error) {

	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}

	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	issuedAt = issuedAt.UTC()
	out := template

	// Date tokens
	out = strings.ReplaceAll(out, "{YYYY}", issuedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", issuedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", issuedAt.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", issuedAt.Format("02"))

	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}

		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}

		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}

	return out, nil
}
