// Package config holds the exposure engine settings and loads them from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every switch of the trade and netted exposure calculators.
type Config struct {
	// BaseCurrency is the reporting currency of the valuation cube.
	BaseCurrency string `yaml:"base_currency"`

	// Quantile is the PFE confidence level, e.g. 0.95.
	Quantile float64 `yaml:"quantile"`

	// CalcType selects lagged collateral simulation or the no-lag approximation.
	CalcType CalculationType `yaml:"calc_type"`

	// MultiPath keeps per-sample exposures in the trade exposure cube.
	// When false only expectations are stored (one sample).
	MultiPath bool `yaml:"multi_path"`

	// ExerciseNextBreak zeroes trade values after the first mutual break date.
	ExerciseNextBreak bool `yaml:"exercise_next_break"`

	// ContinueOnError zeroes a trade whose break schedule cannot be read
	// instead of failing the whole build.
	ContinueOnError bool `yaml:"continue_on_error"`

	// FlipViewXVA measures exposure from the counterparty's side.
	FlipViewXVA bool `yaml:"flip_view_xva"`

	// ExposureProfilesUseCloseOutValues builds EPE/ENE from close-out values.
	ExposureProfilesUseCloseOutValues bool `yaml:"exposure_profiles_use_close_out_values"`

	// FullInitialCollateralisation assumes t=0 collateral equals t=0 NPV.
	FullInitialCollateralisation bool `yaml:"full_initial_collateralisation"`

	// ApplyInitialMargin enables dynamic initial margin reduction globally.
	// Each CSA must also enable it.
	ApplyInitialMargin bool `yaml:"apply_initial_margin"`

	// MarginalAllocation allocates netting set exposure back to trades.
	MarginalAllocation bool `yaml:"marginal_allocation"`

	// MarginalAllocationLimit is the netting set value below which exposure
	// is split equally across trades instead of pro rata.
	MarginalAllocationLimit float64 `yaml:"marginal_allocation_limit"`

	// FirstMporCollateralAdjustment carries the t=0 VM shortfall through the first MPoR.
	FirstMporCollateralAdjustment bool `yaml:"first_mpor_collateral_adjustment"`

	// MporCashFlowMode decides which MPoR cash flows count towards exposure.
	MporCashFlowMode MporCashFlowMode `yaml:"mpor_cash_flow_mode"`

	// Workers is the number of netting sets processed concurrently. 0 and 1 run sequentially.
	Workers int `yaml:"workers"`

	Log Log `yaml:"log"`
}

// Log configures the zerolog logger.
type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig provides production-ready default values.
var DefaultConfig = Config{
	BaseCurrency:            "EUR",
	Quantile:                0.95,
	CalcType:                CalcLag,
	MultiPath:               false,
	MarginalAllocationLimit: 1.0,
	MporCashFlowMode:        MporNonePay,
	Workers:                 1,
	Log:                     Log{Level: "info"},
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.BaseCurrency == "" {
		return fmt.Errorf("config: base_currency is required")
	}
	if c.Quantile <= 0 || c.Quantile >= 1 {
		return fmt.Errorf("config: quantile %v must be in (0, 1)", c.Quantile)
	}
	if c.MarginalAllocationLimit < 0 {
		return fmt.Errorf("config: marginal_allocation_limit %v must not be negative", c.MarginalAllocationLimit)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers %d must not be negative", c.Workers)
	}
	if _, err := ParseCalculationType(c.CalcType.String()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseMporCashFlowMode(c.MporCashFlowMode.String()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load reads a YAML file on top of DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	c := DefaultConfig
	if err := yaml.NewDecoder(file).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
