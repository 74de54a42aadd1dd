package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/action"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/balance"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/dynerr"
	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/router"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DYNAMICS_"

// #region config
// Config is the complete runtime configuration.
type Config struct {
	DBPath    string          `yaml:"db_path" validate:"required"`
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string          `yaml:"log_format" validate:"oneof=text json"`
	Potential PotentialConfig `yaml:"potential"`
	Balance   BalanceConfig   `yaml:"balance"`
	Action    ActionConfig    `yaml:"action"`
	Router    RouterConfig    `yaml:"router"`
	Report    ReportConfig    `yaml:"report"`
}

// PotentialConfig holds the fit smoothing constant.
type PotentialConfig struct {
	Alpha float64 `yaml:"alpha" validate:"gt=0"`
}

// BalanceConfig mirrors balance.Config.
type BalanceConfig struct {
	Beta          float64 `yaml:"beta" validate:"gt=0"`
	Alpha         float64 `yaml:"alpha" validate:"gt=0"`
	Chi2Threshold float64 `yaml:"chi2_threshold" validate:"gt=0"`
	TopK          int     `yaml:"top_k" validate:"gte=0"`
}

// ActionConfig mirrors action.Config.
type ActionConfig struct {
	ActionLow   float64 `yaml:"action_low" validate:"gt=0,lte=1"`
	DeltaVLow   float64 `yaml:"delta_v_low" validate:"gt=0"`
	MinOutgoing int     `yaml:"min_outgoing" validate:"gt=0"`
}

// RouterConfig mirrors router.Config.
type RouterConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	PartialWeight float64       `yaml:"partial_weight" validate:"gte=0,lte=1"`
}

// ReportConfig controls where reports go.
type ReportConfig struct {
	OutputPath string `yaml:"output_path" validate:"required"`
	Domain     string `yaml:"domain"`
}

// #endregion config

// #region defaults
// Default returns the built-in configuration.
func Default() Config {
	b := balance.DefaultConfig()
	a := action.DefaultConfig()
	r := router.DefaultConfig()
	return Config{
		DBPath:    "dynamics.db",
		LogLevel:  "info",
		LogFormat: "text",
		Potential: PotentialConfig{Alpha: b.Alpha},
		Balance: BalanceConfig{
			Beta:          b.Beta,
			Alpha:         b.Alpha,
			Chi2Threshold: b.Chi2Threshold,
			TopK:          b.TopK,
		},
		Action: ActionConfig{
			ActionLow:   a.ActionLow,
			DeltaVLow:   a.DeltaVLow,
			MinOutgoing: a.MinOutgoing,
		},
		Router: RouterConfig{
			CacheTTL:      r.CacheTTL,
			PartialWeight: r.PartialWeight,
		},
		Report: ReportConfig{OutputPath: "dynamics_report.json"},
	}
}

// #endregion defaults

// #region load
// Load reads configuration from defaults, then the YAML file at path (if
// non-empty), then DYNAMICS_* environment variables, and validates the result.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, dynerr.Wrap(dynerr.ConfigError, "load config", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, dynerr.Wrap(dynerr.ConfigError, "load config", fmt.Errorf("parse %s: %w", path, err))
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// #endregion load

// #region env
type envBinding struct {
	key string
	set func(*Config, string) error
}

func envBindings() []envBinding {
	str := func(dst func(*Config) *string) func(*Config, string) error {
		return func(c *Config, v string) error { *dst(c) = v; return nil }
	}
	num := func(dst func(*Config) *float64) func(*Config, string) error {
		return func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*dst(c) = f
			return nil
		}
	}
	integer := func(dst func(*Config) *int) func(*Config, string) error {
		return func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst(c) = n
			return nil
		}
	}
	return []envBinding{
		{"DB_PATH", str(func(c *Config) *string { return &c.DBPath })},
		{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
		{"LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
		{"REPORT_PATH", str(func(c *Config) *string { return &c.Report.OutputPath })},
		{"REPORT_DOMAIN", str(func(c *Config) *string { return &c.Report.Domain })},
		{"ALPHA", func(c *Config, v string) error {
			// one smoothing constant drives both the fit and the test
			if err := num(func(c *Config) *float64 { return &c.Potential.Alpha })(c, v); err != nil {
				return err
			}
			c.Balance.Alpha = c.Potential.Alpha
			return nil
		}},
		{"BETA", num(func(c *Config) *float64 { return &c.Balance.Beta })},
		{"CHI2_THRESHOLD", num(func(c *Config) *float64 { return &c.Balance.Chi2Threshold })},
		{"TOP_K", integer(func(c *Config) *int { return &c.Balance.TopK })},
		{"ACTION_LOW", num(func(c *Config) *float64 { return &c.Action.ActionLow })},
		{"DELTA_V_LOW", num(func(c *Config) *float64 { return &c.Action.DeltaVLow })},
		{"MIN_OUTGOING", integer(func(c *Config) *int { return &c.Action.MinOutgoing })},
		{"PARTIAL_WEIGHT", num(func(c *Config) *float64 { return &c.Router.PartialWeight })},
		{"CACHE_TTL", func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			c.Router.CacheTTL = d
			return nil
		}},
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings() {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			return dynerr.Config("load config", "%s%s=%q: %v", EnvPrefix, b.key, v, err)
		}
	}
	return nil
}

// #endregion env

// #region validate
// Validate checks every field constraint and reports all violations at once.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dynerr.Wrap(dynerr.ConfigError, "validate config", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return dynerr.Config("validate config", "%s", strings.Join(msgs, "; "))
}

// #endregion validate

// #region conversions
// BalanceConfig returns the balance verifier settings.
func (c Config) BalanceConfig() balance.Config {
	return balance.Config{
		Beta:          c.Balance.Beta,
		Alpha:         c.Balance.Alpha,
		Chi2Threshold: c.Balance.Chi2Threshold,
		TopK:          c.Balance.TopK,
	}
}

// ActionConfig returns the trap detector settings.
func (c Config) ActionConfig() action.Config {
	return action.Config{
		ActionLow:   c.Action.ActionLow,
		DeltaVLow:   c.Action.DeltaVLow,
		MinOutgoing: c.Action.MinOutgoing,
	}
}

// RouterConfig returns the router settings with the default phase sets.
func (c Config) RouterConfig() router.Config {
	r := router.DefaultConfig()
	r.CacheTTL = c.Router.CacheTTL
	r.PartialWeight = c.Router.PartialWeight
	return r
}

// #endregion conversions
