// Package config loads and validates the crawler service configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Stop      StopConfig      `mapstructure:"stop"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// HTTPConfig controls the operational HTTP server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DBConfig selects and tunes the persistence provider.
type DBConfig struct {
	Provider        string        `mapstructure:"provider"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ScraperConfig controls the report site client.
type ScraperConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	ReportPath  string        `mapstructure:"report_path"`
	ListingPath string        `mapstructure:"listing_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// PlannerConfig controls candidate selection and crawl timing.
type PlannerConfig struct {
	RecentWindowDays   int   `mapstructure:"recent_window_days"`
	FallbackAmount     int   `mapstructure:"fallback_amount"`
	FallbackStartID    int64 `mapstructure:"fallback_start_id"`
	LookaheadAmount    int   `mapstructure:"lookahead_amount"`
	OffsetMinutesMin   int   `mapstructure:"offset_minutes_min"`
	OffsetMinutesMax   int   `mapstructure:"offset_minutes_max"`
	DurationMinutesMin int   `mapstructure:"duration_minutes_min"`
	DurationMinutesMax int   `mapstructure:"duration_minutes_max"`
}

// StopConfig selects the stop condition policy.
type StopConfig struct {
	Policy           string `mapstructure:"policy"`
	PositionDecimals int    `mapstructure:"position_decimals"`
}

// SchedulerConfig bounds the randomized delay before a planned crawl.
type SchedulerConfig struct {
	OffsetMinutesMin int `mapstructure:"offset_minutes_min"`
	OffsetMinutesMax int `mapstructure:"offset_minutes_max"`
	// ScheduleOnStart arms one planner run right after startup.
	ScheduleOnStart bool `mapstructure:"schedule_on_start"`
}

// PublisherConfig selects the post-processing trigger provider.
type PublisherConfig struct {
	Provider         string `mapstructure:"provider"`
	ProjectID        string `mapstructure:"project_id"`
	PostProcessTopic string `mapstructure:"post_process_topic"`
}

// ArchiveConfig selects the listing snapshot archive provider.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// Load reads configuration from the optional file path and REPORTIT_*
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REPORTIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("db.provider", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", time.Hour)

	v.SetDefault("scraper.base_url", "")
	v.SetDefault("scraper.report_path", "/report")
	v.SetDefault("scraper.listing_path", "/json/reports")
	v.SetDefault("scraper.timeout", 30*time.Second)
	v.SetDefault("scraper.user_agent", "reportit-crawler/1.0")

	v.SetDefault("planner.recent_window_days", 14)
	v.SetDefault("planner.fallback_amount", 40)
	v.SetDefault("planner.fallback_start_id", 1)
	v.SetDefault("planner.lookahead_amount", 10)
	v.SetDefault("planner.offset_minutes_min", 2)
	v.SetDefault("planner.offset_minutes_max", 10)
	v.SetDefault("planner.duration_minutes_min", 20)
	v.SetDefault("planner.duration_minutes_max", 60)

	v.SetDefault("stop.policy", "listing")
	v.SetDefault("stop.position_decimals", 5)

	v.SetDefault("scheduler.offset_minutes_min", 5)
	v.SetDefault("scheduler.offset_minutes_max", 120)
	v.SetDefault("scheduler.schedule_on_start", false)

	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.post_process_topic", "reportit-post-process")

	v.SetDefault("archive.provider", "memory")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "listing-snapshots")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db provider %q", c.DB.Provider)
	}

	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url is required")
	}

	if c.Planner.OffsetMinutesMin > c.Planner.OffsetMinutesMax {
		return fmt.Errorf("planner.offset_minutes_min exceeds planner.offset_minutes_max")
	}
	if c.Planner.DurationMinutesMin > c.Planner.DurationMinutesMax {
		return fmt.Errorf("planner.duration_minutes_min exceeds planner.duration_minutes_max")
	}
	if c.Planner.LookaheadAmount < 0 {
		return fmt.Errorf("planner.lookahead_amount must not be negative")
	}
	if c.Scheduler.OffsetMinutesMin > c.Scheduler.OffsetMinutesMax {
		return fmt.Errorf("scheduler.offset_minutes_min exceeds scheduler.offset_minutes_max")
	}

	switch c.Stop.Policy {
	case "listing", "position":
	default:
		return fmt.Errorf("unknown stop policy %q", c.Stop.Policy)
	}
	if c.Stop.PositionDecimals <= 0 {
		return fmt.Errorf("stop.position_decimals must be positive")
	}

	switch c.Publisher.Provider {
	case "pubsub":
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id is required for the pubsub provider")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("unknown publisher provider %q", c.Publisher.Provider)
	}

	switch c.Archive.Provider {
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs provider")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("unknown archive provider %q", c.Archive.Provider)
	}

	return nil
}
