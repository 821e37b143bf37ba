package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"aftershock-omori/internal/logging"
	"aftershock-omori/internal/omori"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Output    OutputConfig    `mapstructure:"output"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Fit       FitConfig       `mapstructure:"fit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	USGS      USGSConfig      `mapstructure:"usgs"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// CatalogConfig names the catalogs available to the CLI.
type CatalogConfig struct {
	// Presets maps a short name to a catalog CSV path.
	Presets map[string]string `mapstructure:"presets"`
	// Default is the preset analysed when neither --file nor --preset is given.
	Default string `mapstructure:"default"`
	// WatchFiles are re-analysed on every scheduler tick.
	WatchFiles []string `mapstructure:"watch_files"`
}

// OutputConfig selects where and which report artifacts are written.
type OutputConfig struct {
	Dir     string `mapstructure:"dir"`
	PNG     bool   `mapstructure:"png"`
	Summary bool   `mapstructure:"summary"`
	CSV     bool   `mapstructure:"csv"`
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
}

// AggregateConfig tunes daily binning.
type AggregateConfig struct {
	FillGaps bool `mapstructure:"fill_gaps"`
}

// FitConfig tunes the Omori regression.
type FitConfig struct {
	Domain         string        `mapstructure:"domain"`
	KFactor        float64       `mapstructure:"k_factor"`
	InitialC       float64       `mapstructure:"initial_c"`
	InitialP       float64       `mapstructure:"initial_p"`
	MinBins        int           `mapstructure:"min_bins"`
	MaxEvaluations int           `mapstructure:"max_evaluations"`
	FTol           float64       `mapstructure:"ftol"`
	XTol           float64       `mapstructure:"xtol"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Options converts the section into optimizer options.
func (f FitConfig) Options() (omori.Options, error) {
	domain, err := omori.ParseDomain(f.Domain)
	if err != nil {
		return omori.Options{}, err
	}
	return omori.Options{
		KFactor:        f.KFactor,
		InitialC:       f.InitialC,
		InitialP:       f.InitialP,
		MinBins:        f.MinBins,
		MaxEvaluations: f.MaxEvaluations,
		FTol:           f.FTol,
		XTol:           f.XTol,
		Domain:         domain,
	}, nil
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// SchedulerConfig governs the watch cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Workers         int           `mapstructure:"workers"`
}

// USGSConfig covers the FDSN event service.
type USGSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Name           string        `mapstructure:"name"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Lookback       time.Duration `mapstructure:"lookback"`
	MinMagnitude   float64       `mapstructure:"min_magnitude"`
	Latitude       *float64      `mapstructure:"latitude"`
	Longitude      *float64      `mapstructure:"longitude"`
	MaxRadiusKm    float64       `mapstructure:"max_radius_km"`
}

// AlertingConfig defines rate-excess thresholds and routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	ExcessRatio float64        `mapstructure:"excess_ratio"`
	MinCount    int            `mapstructure:"min_count"`
	Cooldown    time.Duration  `mapstructure:"cooldown"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OMORI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "omori")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("catalog.presets", map[string]string{})
	v.SetDefault("catalog.watch_files", []string{})

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.png", true)
	v.SetDefault("output.summary", true)
	v.SetDefault("output.csv", true)
	v.SetDefault("output.width", 960)
	v.SetDefault("output.height", 720)

	v.SetDefault("aggregate.fill_gaps", true)

	v.SetDefault("fit.domain", string(omori.DomainPositive))
	v.SetDefault("fit.k_factor", 2.0)
	v.SetDefault("fit.initial_c", 0.1)
	v.SetDefault("fit.initial_p", 1.0)
	v.SetDefault("fit.min_bins", omori.MinBins)
	v.SetDefault("fit.max_evaluations", 10000)
	v.SetDefault("fit.ftol", 1.49012e-8)
	v.SetDefault("fit.xtol", 1.49012e-8)
	v.SetDefault("fit.timeout", "30s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.ensure_schema", true)

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f6d6f72))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("usgs.enabled", false)
	v.SetDefault("usgs.name", "usgs")
	v.SetDefault("usgs.base_url", "https://earthquake.usgs.gov/fdsnws/event/1")
	v.SetDefault("usgs.request_timeout", "30s")
	v.SetDefault("usgs.user_agent", "omori/1.0")
	v.SetDefault("usgs.lookback", "720h")
	v.SetDefault("usgs.min_magnitude", 2.5)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.excess_ratio", 2.0)
	v.SetDefault("alerting.min_count", 10)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if _, err := c.Fit.Options(); err != nil {
		return fmt.Errorf("fit.domain: %w", err)
	}
	if c.Fit.MinBins < omori.MinBins {
		return fmt.Errorf("fit.min_bins must be at least %d", omori.MinBins)
	}
	if c.Fit.MaxEvaluations <= 0 {
		return fmt.Errorf("fit.max_evaluations must be greater than zero")
	}
	if c.Fit.KFactor <= 0 {
		return fmt.Errorf("fit.k_factor must be greater than zero")
	}
	if c.Fit.Timeout < 0 {
		return fmt.Errorf("fit.timeout cannot be negative")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		return fmt.Errorf("output.width and output.height must be greater than zero")
	}
	if c.Catalog.Default != "" {
		if _, ok := c.Catalog.Presets[c.Catalog.Default]; !ok {
			return fmt.Errorf("catalog.default %q is not a configured preset", c.Catalog.Default)
		}
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.USGS.Enabled && c.USGS.Lookback <= 0 {
		return fmt.Errorf("usgs.lookback must be greater than zero")
	}
	if (c.USGS.Latitude == nil) != (c.USGS.Longitude == nil) {
		return fmt.Errorf("usgs.latitude and usgs.longitude must be set together")
	}
	if c.Alerting.ExcessRatio <= 1 {
		return fmt.Errorf("alerting.excess_ratio must be greater than one")
	}
	if c.Alerting.MinCount < 0 {
		return fmt.Errorf("alerting.min_count cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

// ResolvePreset returns the catalog path for a preset name.
func (c *Config) ResolvePreset(name string) (string, error) {
	if path, ok := c.Catalog.Presets[name]; ok {
		return path, nil
	}
	names := c.PresetNames()
	if len(names) == 0 {
		return "", fmt.Errorf("unknown preset %q: no presets configured", name)
	}
	return "", fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(names, ", "))
}

// PresetNames lists configured presets in sorted order.
func (c *Config) PresetNames() []string {
	names := make([]string, 0, len(c.Catalog.Presets))
	for name := range c.Catalog.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
