package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults and
// validates the result. Every unparseable variable is reported, not just the
// first one.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// loadStruct populates tagged fields of v, recursing into nested sections.
// Tags: env (variable), envAlt (fallback variable), default, and
// unit:"bytes" for sizes written as 512KB, 50MB or plain bytes.
func loadStruct(v reflect.Value) error {
	t := v.Type()
	var errs []error

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != timeType {
			if err := loadStruct(fieldVal); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		value := lookupEnv(name, field.Tag.Get("envAlt"))
		if value == "" {
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		var err error
		if field.Tag.Get("unit") == "bytes" {
			err = setByteSize(fieldVal, value)
		} else {
			err = setField(fieldVal, value)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, value, err))
		}
	}

	return errors.Join(errs...)
}

func lookupEnv(name, alt string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if alt != "" {
		return os.Getenv(alt)
	}
	return ""
}

// setField parses value into field according to its kind.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

var byteUnits = []struct {
	suffix string
	size   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// setByteSize parses sizes like "50MB" (binary multiples) into an integer
// field.
func setByteSize(field reflect.Value, value string) error {
	s := strings.ToUpper(strings.TrimSpace(value))
	mult := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.size
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid size (use bytes or a KB, MB, GB suffix)")
	}
	field.SetInt(n * mult)
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string
	errs = append(errs, c.Database.problems()...)
	errs = append(errs, c.Server.problems()...)
	errs = append(errs, c.Import.problems()...)

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("METRICS_PATH (%q) must start with /", c.Metrics.Path))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (d *DatabaseConfig) problems() []string {
	var errs []string
	switch strings.ToLower(d.Driver) {
	case DriverPostgres:
		if d.URL == "" {
			errs = append(errs, "DATABASE_URL is required when DB_DRIVER is postgres")
		}
		if d.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if d.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if d.MaxConns < d.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", d.MaxConns, d.MinConns))
		}
	case DriverSQLite:
		if d.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when DB_DRIVER is sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, sqlite", d.Driver))
	}
	return errs
}

func (s *ServerConfig) problems() []string {
	var errs []string
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", s.Port))
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	return errs
}

func (im *ImportConfig) problems() []string {
	positive := []struct {
		name string
		ok   bool
	}{
		{"IMPORT_MAX_FILE_SIZE", im.MaxFileSize > 0},
		{"IMPORT_MAX_CONCURRENT", im.MaxConcurrent > 0},
		{"IMPORT_BATCH_SIZE", im.BatchSize > 0},
		{"IMPORT_MAX_WAIT_TIME", im.MaxWaitTime > 0},
		{"IMPORT_TIMEOUT", im.Timeout > 0},
		{"IMPORT_PREVIEW_ROWS", im.PreviewRows > 0},
	}
	var errs []string
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, p.name+" must be positive")
		}
	}
	if im.AbortMinAttempts < 0 {
		errs = append(errs, "IMPORT_ABORT_MIN_ATTEMPTS must be non-negative")
	}
	for _, r := range []struct {
		name string
		rate float64
	}{
		{"IMPORT_ABORT_FAILURE_RATE", im.AbortFailureRate},
		{"IMPORT_HIGH_FAILURE_RATE", im.HighFailureRate},
	} {
		if r.rate <= 0 || r.rate > 1 {
			errs = append(errs, fmt.Sprintf("%s (%g) must be in (0, 1]", r.name, r.rate))
		}
	}
	return errs
}

// String returns the configuration for logging with the database URL and API
// keys masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {Driver: %q, URL: [MASKED], SQLitePath: %q, MaxConns: %d, MinConns: %d}, ",
		c.Database.Driver, c.Database.SQLitePath, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {MaxFileSize: %d, MaxConcurrent: %d, BatchSize: %d, AbortFailureRate: %g}, ",
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.BatchSize, c.Import.AbortFailureRate)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
