package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanLimit is the raw per-plan allowance as configured.
type PlanLimit struct {
	Plan               string  `mapstructure:"plan"`
	MonthlyMinuteLimit int64   `mapstructure:"monthlyMinuteLimit"`
	DailyMinuteLimit   int64   `mapstructure:"dailyMinuteLimit"`
	WarningThreshold   float64 `mapstructure:"warningThreshold"`
	OverageRate        float64 `mapstructure:"overageRate"`
}

// BillingRates holds the per-minute prices applied at ingest and invoicing.
type BillingRates struct {
	AssistantRatePerMinute float64 `mapstructure:"assistantRatePerMinute"`
	WorkflowRatePerMinute  float64 `mapstructure:"workflowRatePerMinute"`
	Currency               string  `mapstructure:"currency"`
}

// PlanConfig is the hot-reloadable plan and pricing table.
type PlanConfig struct {
	Plans []PlanLimit  `mapstructure:"plans"`
	Rates BillingRates `mapstructure:"rates"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Plans: []PlanLimit{
			{Plan: "free", MonthlyMinuteLimit: 100, DailyMinuteLimit: 30, WarningThreshold: 0.8, OverageRate: 0.15},
			{Plan: "starter", MonthlyMinuteLimit: 500, DailyMinuteLimit: 100, WarningThreshold: 0.8, OverageRate: 0.10},
			{Plan: "growth", MonthlyMinuteLimit: 2000, DailyMinuteLimit: 400, WarningThreshold: 0.85, OverageRate: 0.08},
			{Plan: "scale", MonthlyMinuteLimit: 10000, DailyMinuteLimit: 2000, WarningThreshold: 0.9, OverageRate: 0.05},
		},
		Rates: BillingRates{
			AssistantRatePerMinute: 0.05,
			WorkflowRatePerMinute:  0.03,
			Currency:               "USD",
		},
	}
}

// PlanConfigHolder serves the current plan table and swaps it atomically
// when the config file changes on disk.
type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

func NewPlanConfigHolder() (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/voxmeter/config") // Volume-mounted config
	v.AddConfigPath("/etc/voxmeter")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("VOXMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PlanConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultPlanConfig())
		return holder, nil
	}

	var cfg PlanConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[plan-config] reload failed: %v", err)
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Printf("[plan-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPlanConfigHolder returns a holder pinned to the given table.
// Used by tests and by callers that manage config themselves.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

func validatePlanConfig(cfg PlanConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("billing.plans cannot be empty")
	}
	for _, plan := range cfg.Plans {
		if strings.TrimSpace(plan.Plan) == "" {
			return errors.New("billing.plans entries require a plan name")
		}
		if plan.MonthlyMinuteLimit <= 0 {
			return errors.New("billing.plans monthlyMinuteLimit must be positive")
		}
		if plan.WarningThreshold <= 0 || plan.WarningThreshold > 1 {
			return errors.New("billing.plans warningThreshold must be in (0,1]")
		}
	}
	if cfg.Rates.AssistantRatePerMinute < 0 || cfg.Rates.WorkflowRatePerMinute < 0 {
		return errors.New("billing.rates must not be negative")
	}
	return nil
}
