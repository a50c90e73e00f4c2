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

// Policy holds the ledger rules that operators may tune without a redeploy.
type Policy struct {
	Currency          string         `mapstructure:"currency"`
	MinorUnitsPerUnit int64          `mapstructure:"minorUnitsPerUnit"`
	Timezone          string         `mapstructure:"timezone"`
	FeeGraceDays      int            `mapstructure:"feeGraceDays"`
	PayoutGraceDays   int            `mapstructure:"payoutGraceDays"`
	Reminders         ReminderPolicy `mapstructure:"reminders"`
	Batch             BatchPolicy    `mapstructure:"batch"`
}

type ReminderPolicy struct {
	WarningAfterDays    int      `mapstructure:"warningAfterDays"`
	SuspensionAfterDays int      `mapstructure:"suspensionAfterDays"`
	Kinds               []string `mapstructure:"kinds"`
}

type BatchPolicy struct {
	OverdueSweep int `mapstructure:"overdueSweep"`
	Reminders    int `mapstructure:"reminders"`
	Dispatch     int `mapstructure:"dispatch"`
}

func DefaultPolicy() Policy {
	return Policy{
		Currency:          "CHF",
		MinorUnitsPerUnit: 100,
		Timezone:          "Europe/Zurich",
		FeeGraceDays:      10,
		PayoutGraceDays:   10,
		Reminders: ReminderPolicy{
			WarningAfterDays:    15,
			SuspensionAfterDays: 15,
			Kinds:               []string{"monthly_fee"},
		},
		Batch: BatchPolicy{
			OverdueSweep: 100,
			Reminders:    50,
			Dispatch:     100,
		},
	}
}

// Location resolves the billing time zone, falling back to UTC.
func (p Policy) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(p.Timezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func (p Policy) WarningAfter() time.Duration {
	return time.Duration(p.Reminders.WarningAfterDays) * 24 * time.Hour
}

func (p Policy) SuspensionAfter() time.Duration {
	return time.Duration(p.Reminders.SuspensionAfterDays) * 24 * time.Hour
}

// Escalates reports whether overdue obligations of kind go through reminders.
func (p Policy) Escalates(kind string) bool {
	for _, k := range p.Reminders.Kinds {
		if strings.EqualFold(strings.TrimSpace(k), kind) {
			return true
		}
	}
	return false
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/instructorledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("ledger.currency", defaults.Currency)
	v.SetDefault("ledger.minorUnitsPerUnit", defaults.MinorUnitsPerUnit)
	v.SetDefault("ledger.timezone", defaults.Timezone)
	v.SetDefault("ledger.feeGraceDays", defaults.FeeGraceDays)
	v.SetDefault("ledger.payoutGraceDays", defaults.PayoutGraceDays)
	v.SetDefault("ledger.reminders.warningAfterDays", defaults.Reminders.WarningAfterDays)
	v.SetDefault("ledger.reminders.suspensionAfterDays", defaults.Reminders.SuspensionAfterDays)
	v.SetDefault("ledger.reminders.kinds", defaults.Reminders.Kinds)
	v.SetDefault("ledger.batch.overdueSweep", defaults.Batch.OverdueSweep)
	v.SetDefault("ledger.batch.reminders", defaults.Batch.Reminders)
	v.SetDefault("ledger.batch.dispatch", defaults.Batch.Dispatch)

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fromFile = false
	}

	var policy Policy
	if err := v.UnmarshalKey("ledger", &policy); err != nil {
		return nil, err
	}
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fromFile {
		log.Info("ledger policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("ledger", &updated); err != nil {
			log.Warn("ledger policy reload failed", zap.Error(err))
			return
		}
		if err := ValidatePolicy(updated); err != nil {
			log.Warn("invalid ledger policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("ledger policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	if p, ok := h.current.Load().(Policy); ok {
		return p
	}
	return DefaultPolicy()
}

func ValidatePolicy(p Policy) error {
	if strings.TrimSpace(p.Currency) == "" {
		return errors.New("ledger.currency cannot be empty")
	}
	if p.MinorUnitsPerUnit <= 0 {
		return errors.New("ledger.minorUnitsPerUnit must be positive")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(p.Timezone)); err != nil {
		return fmt.Errorf("ledger.timezone: %w", err)
	}
	if p.FeeGraceDays < 0 || p.PayoutGraceDays < 0 {
		return errors.New("ledger grace days cannot be negative")
	}
	if p.Reminders.WarningAfterDays <= 0 || p.Reminders.SuspensionAfterDays <= 0 {
		return errors.New("ledger.reminders intervals must be positive")
	}
	return nil
}
