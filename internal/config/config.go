package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"conti/internal/log"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type Config struct {
	// HTTP Server
	Port string

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP change events; disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Recurring scheduler
	SchedulerInterval  time.Duration
	UpcomingWindowDays int

	// Fallback categories used when a deletion has no explicit target
	FallbackIncomeCategoryID  string
	FallbackExpenseCategoryID string

	// Logging
	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"port":                         "8081",
	"data_backend":                 BackendSQLite,
	"sqlite_db_path":               "./data/conti.db",
	"amqp_url":                     "",
	"amqp_exchange":                "conti",
	"amqp_queue":                   "ledger_events",
	"scheduler_interval":           "1h",
	"upcoming_window_days":         7,
	"fallback_income_category_id":  "",
	"fallback_expense_category_id": "",
	"log_level":                    "info",
	"log_format":                   "json",
}

// Load reads the configuration from the environment. Values that do not
// parse fall back to their defaults.
func Load() *Config {
	return fromViper(newViper())
}

// LoadFile reads path (any format viper understands) and lets environment
// variables override it.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return fromViper(v), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// Keys map to upper-case variables: sqlite_db_path reads SQLITE_DB_PATH.
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:         v.GetString("port"),
		DataBackend:  v.GetString("data_backend"),
		SQLiteDBPath: v.GetString("sqlite_db_path"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		SchedulerInterval:  getDuration(v, "scheduler_interval"),
		UpcomingWindowDays: getInt(v, "upcoming_window_days"),

		FallbackIncomeCategoryID:  v.GetString("fallback_income_category_id"),
		FallbackExpenseCategoryID: v.GetString("fallback_expense_category_id"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}
}

// EventsEnabled reports whether ledger events are published to AMQP.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendMemory, BackendSQLite}
	if !slices.Contains(validBackends, c.DataBackend) {
		problems = append(problems, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			problems = append(problems, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					problems = append(problems, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SchedulerInterval < time.Second {
		problems = append(problems, fmt.Sprintf("invalid scheduler interval %v: must be at least 1 second", c.SchedulerInterval))
	} else if c.SchedulerInterval > 24*time.Hour {
		problems = append(problems, fmt.Sprintf("invalid scheduler interval %v: must be at most 24 hours", c.SchedulerInterval))
	}

	if c.UpcomingWindowDays < 1 || c.UpcomingWindowDays > 366 {
		problems = append(problems, fmt.Sprintf("invalid upcoming window %d: must be between 1 and 366 days", c.UpcomingWindowDays))
	}

	if c.FallbackIncomeCategoryID != "" && c.FallbackIncomeCategoryID == c.FallbackExpenseCategoryID {
		problems = append(problems, fmt.Sprintf("fallback category '%s' cannot serve both income and expense", c.FallbackIncomeCategoryID))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be 'json' or 'text'", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func getInt(v *viper.Viper, key string) int {
	if i, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
		return i
	}
	return defaults[key].(int)
}

func getDuration(v *viper.Viper, key string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key))); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaults[key].(string))
	return d
}
