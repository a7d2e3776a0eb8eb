package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AgingBucket groups overdue invoices by days past due. MaxDays nil means
// open ended.
type AgingBucket struct {
	Label   string `mapstructure:"label" json:"label"`
	MinDays int    `mapstructure:"minDays" json:"min_days"`
	MaxDays *int   `mapstructure:"maxDays" json:"max_days,omitempty"`
}

// Contains reports whether days falls inside the bucket.
func (b AgingBucket) Contains(days int) bool {
	if days < b.MinDays {
		return false
	}
	return b.MaxDays == nil || days <= *b.MaxDays
}

type NumberingConfig struct {
	Prefix             string `mapstructure:"prefix"`
	ConsolidatedPrefix string `mapstructure:"consolidatedPrefix"`
	YearlyReset        bool   `mapstructure:"yearlyReset"`
	Padding            int    `mapstructure:"padding"`
}

type CycleDefaults struct {
	AnchorDay                 int  `mapstructure:"anchorDay"`
	PrebillLeadDays           int  `mapstructure:"prebillLeadDays"`
	CutoffDaysBeforeAnchor    int  `mapstructure:"cutoffDaysBeforeAnchor"`
	AutoSuspendOnCutoff       bool `mapstructure:"autoSuspendOnCutoff"`
	AutoApplyWallet           bool `mapstructure:"autoApplyWallet"`
	AlignFirstCycleToAnchor   bool `mapstructure:"alignFirstCycleToAnchor"`
	FirstCycleIncludedInOrder bool `mapstructure:"firstCycleIncludedInOrder"`
}

type BillingConfig struct {
	AgingBuckets       []AgingBucket   `mapstructure:"agingBuckets"`
	Numbering          NumberingConfig `mapstructure:"numbering"`
	PaymentTermsDays   int             `mapstructure:"paymentTermsDays"`
	Cycle              CycleDefaults   `mapstructure:"cycle"`
	PolicyRefreshEvery time.Duration   `mapstructure:"policyRefreshEvery"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		AgingBuckets: []AgingBucket{
			{Label: "0-30", MinDays: 0, MaxDays: intPtr(30)},
			{Label: "31-60", MinDays: 31, MaxDays: intPtr(60)},
			{Label: "61-90", MinDays: 61, MaxDays: intPtr(90)},
			{Label: "90+", MinDays: 91, MaxDays: nil},
		},
		Numbering: NumberingConfig{
			Prefix:             "INV",
			ConsolidatedPrefix: "CINV",
			YearlyReset:        true,
			Padding:            6,
		},
		PaymentTermsDays: 15,
		Cycle: CycleDefaults{
			AnchorDay:              1,
			PrebillLeadDays:        5,
			CutoffDaysBeforeAnchor: 0,
			AutoApplyWallet:        true,
		},
		PolicyRefreshEvery: time.Minute,
	}
}

func intPtr(v int) *int { return &v }

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg. Used by tests
// and tools that do not read billing.yml.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("billing.config")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/ledgerd")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEDGERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setBillingDefaults(v, DefaultBillingConfig())

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		log.Info("billing.yml not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeBillingConfig(v)
		if err != nil {
			log.Warn("invalid billing config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func setBillingDefaults(v *viper.Viper, defaults BillingConfig) {
	buckets := make([]map[string]any, 0, len(defaults.AgingBuckets))
	for _, b := range defaults.AgingBuckets {
		entry := map[string]any{"label": b.Label, "minDays": b.MinDays}
		if b.MaxDays != nil {
			entry["maxDays"] = *b.MaxDays
		}
		buckets = append(buckets, entry)
	}
	v.SetDefault("billing.agingBuckets", buckets)
	v.SetDefault("billing.numbering.prefix", defaults.Numbering.Prefix)
	v.SetDefault("billing.numbering.consolidatedPrefix", defaults.Numbering.ConsolidatedPrefix)
	v.SetDefault("billing.numbering.yearlyReset", defaults.Numbering.YearlyReset)
	v.SetDefault("billing.numbering.padding", defaults.Numbering.Padding)
	v.SetDefault("billing.paymentTermsDays", defaults.PaymentTermsDays)
	v.SetDefault("billing.cycle.anchorDay", defaults.Cycle.AnchorDay)
	v.SetDefault("billing.cycle.prebillLeadDays", defaults.Cycle.PrebillLeadDays)
	v.SetDefault("billing.cycle.cutoffDaysBeforeAnchor", defaults.Cycle.CutoffDaysBeforeAnchor)
	v.SetDefault("billing.cycle.autoSuspendOnCutoff", defaults.Cycle.AutoSuspendOnCutoff)
	v.SetDefault("billing.cycle.autoApplyWallet", defaults.Cycle.AutoApplyWallet)
	v.SetDefault("billing.cycle.alignFirstCycleToAnchor", defaults.Cycle.AlignFirstCycleToAnchor)
	v.SetDefault("billing.cycle.firstCycleIncludedInOrder", defaults.Cycle.FirstCycleIncludedInOrder)
	v.SetDefault("billing.policyRefreshEvery", defaults.PolicyRefreshEvery)
}

func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return BillingConfig{}, err
	}
	if err := ValidateBillingConfig(cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg, nil
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if len(cfg.AgingBuckets) == 0 {
		return errors.New("billing.agingBuckets cannot be empty")
	}
	for i, b := range cfg.AgingBuckets {
		if strings.TrimSpace(b.Label) == "" {
			return fmt.Errorf("billing.agingBuckets[%d]: label is required", i)
		}
		if b.MaxDays != nil && *b.MaxDays < b.MinDays {
			return fmt.Errorf("billing.agingBuckets[%d]: maxDays below minDays", i)
		}
	}
	if strings.TrimSpace(cfg.Numbering.Prefix) == "" {
		return errors.New("billing.numbering.prefix is required")
	}
	if strings.TrimSpace(cfg.Numbering.ConsolidatedPrefix) == "" {
		return errors.New("billing.numbering.consolidatedPrefix is required")
	}
	if cfg.Numbering.Padding < 1 || cfg.Numbering.Padding > 12 {
		return errors.New("billing.numbering.padding must be between 1 and 12")
	}
	if cfg.PaymentTermsDays < 0 {
		return errors.New("billing.paymentTermsDays cannot be negative")
	}
	if cfg.PolicyRefreshEvery < 0 {
		return errors.New("billing.policyRefreshEvery cannot be negative")
	}
	return nil
}
