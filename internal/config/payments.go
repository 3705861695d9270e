package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PaymentsConfig holds payment settings that can change without a restart.
type PaymentsConfig struct {
	DefaultCurrency string `mapstructure:"defaultCurrency"`
	// ZeroDecimalCurrencies are charged in whole units; every other
	// currency is converted to hundredths.
	ZeroDecimalCurrencies []string        `mapstructure:"zeroDecimalCurrencies"`
	RateLimit             RateLimitConfig `mapstructure:"rateLimit"`
	SlowQueryThreshold    time.Duration   `mapstructure:"slowQueryThreshold"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`
	Burst   int     `mapstructure:"burst"`
}

func DefaultPaymentsConfig() PaymentsConfig {
	return PaymentsConfig{
		DefaultCurrency: "PYG",
		ZeroDecimalCurrencies: []string{
			"BIF", "CLP", "DJF", "GNF", "JPY", "KMF", "KRW", "MGA",
			"PYG", "RWF", "UGX", "VND", "VUV", "XAF", "XOF", "XPF",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    0.2,
			Burst:   5,
		},
		SlowQueryThreshold: 250 * time.Millisecond,
	}
}

// IsZeroDecimal reports whether currency has no minor unit.
func (c PaymentsConfig) IsZeroDecimal(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, code := range c.ZeroDecimalCurrencies {
		if strings.EqualFold(code, currency) {
			return true
		}
	}
	return false
}

type PaymentsConfigHolder struct {
	current atomic.Value // holds PaymentsConfig
}

// StaticPaymentsConfig wraps cfg in a holder that never reloads.
func StaticPaymentsConfig(cfg PaymentsConfig) *PaymentsConfigHolder {
	holder := &PaymentsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPaymentsConfigHolder(log *zap.Logger) (*PaymentsConfigHolder, error) {
	log = log.Named("config.payments")
	v := viper.New()

	v.SetConfigName("payments")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/vetclinic")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VETCLINIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPaymentsConfig()
	v.SetDefault("payments.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("payments.zeroDecimalCurrencies", defaults.ZeroDecimalCurrencies)
	v.SetDefault("payments.rateLimit.enabled", defaults.RateLimit.Enabled)
	v.SetDefault("payments.rateLimit.rate", defaults.RateLimit.Rate)
	v.SetDefault("payments.rateLimit.burst", defaults.RateLimit.Burst)
	v.SetDefault("payments.slowQueryThreshold", defaults.SlowQueryThreshold)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg PaymentsConfig
	if err := v.UnmarshalKey("payments", &cfg); err != nil {
		return nil, err
	}
	if err := validatePaymentsConfig(cfg); err != nil {
		return nil, err
	}

	holder := StaticPaymentsConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PaymentsConfig
		if err := v.UnmarshalKey("payments", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validatePaymentsConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PaymentsConfigHolder) Get() PaymentsConfig {
	if h == nil {
		return DefaultPaymentsConfig()
	}
	return h.current.Load().(PaymentsConfig)
}

func validatePaymentsConfig(cfg PaymentsConfig) error {
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		return errors.New("payments.defaultCurrency cannot be empty")
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.Rate <= 0 || cfg.RateLimit.Burst <= 0) {
		return errors.New("payments.rateLimit rate and burst must be positive")
	}
	return nil
}
