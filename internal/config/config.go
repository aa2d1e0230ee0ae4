// Package config provides functionality for managing configuration options
// for the server using command-line flags, environment variables and an
// optional JSON file.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Options holds the configuration values for the server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn"`

	// RedisAddr is the address of the Redis instance holding one-time codes.
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	LogLevel string `json:"log_level"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	// CookieSecure marks the session cookie Secure.
	CookieSecure bool `json:"cookie_secure"`

	CodeTTL          time.Duration `json:"-"`
	ResendCooldown   time.Duration `json:"-"`
	MaxCodeAttempts  int           `json:"max_code_attempts"`
	MaxLoginFailures int           `json:"max_login_failures"`
	LockoutDuration  time.Duration `json:"-"`
	SessionTTL       time.Duration `json:"-"`
	CleanupInterval  time.Duration `json:"-"`
}

// fileDurations are the duration fields as they appear in the JSON file,
// e.g. "10m".
type fileDurations struct {
	CodeTTL         string `json:"code_ttl"`
	ResendCooldown  string `json:"resend_cooldown"`
	LockoutDuration string `json:"lockout_duration"`
	SessionTTL      string `json:"session_ttl"`
	CleanupInterval string `json:"cleanup_interval"`
}

// Parse parses the process flags and environment. It exits on invalid input.
func Parse() *Options {
	opts, err := ParseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}

// ParseArgs builds Options from args and getenv. Precedence, lowest first:
// defaults, flags, config file, environment.
func ParseArgs(args []string, getenv func(string) string) (*Options, error) {
	options := &Options{}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&options.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&options.RedisAddr, "r", "localhost:6379", "redis address")
	fs.StringVar(&options.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&options.RedisDB, "redis-db", 0, "redis database number")
	fs.StringVar(&options.LogLevel, "l", "info", "log level")
	fs.StringVar(&options.Config, "config", "config.json", "path to config file")
	fs.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	fs.StringVar(&options.TLSCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&options.TLSKey, "tls-key", "", "TLS key file")
	fs.BoolVar(&options.CookieSecure, "cookie-secure", false, "mark the session cookie Secure")
	fs.DurationVar(&options.CodeTTL, "code-ttl", 10*time.Minute, "one-time code lifetime")
	fs.DurationVar(&options.ResendCooldown, "resend-cooldown", 60*time.Second, "minimum interval between codes")
	fs.IntVar(&options.MaxCodeAttempts, "max-code-attempts", 5, "wrong guesses before a code is destroyed")
	fs.IntVar(&options.MaxLoginFailures, "max-login-failures", 5, "failed logins before lockout")
	fs.DurationVar(&options.LockoutDuration, "lockout", 15*time.Minute, "account lockout duration")
	fs.DurationVar(&options.SessionTTL, "session-ttl", 7*24*time.Hour, "session lifetime")
	fs.DurationVar(&options.CleanupInterval, "cleanup-interval", time.Hour, "expired session cleanup interval")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override flags with environment variables if set
	if configPath := getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}
	if options.Config != "" {
		if err := loadFile(options.Config, options); err != nil {
			return nil, err
		}
	}

	if serverAddress := getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Port = serverAddress
	}
	if dsn := getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if addr := getenv("REDIS_ADDR"); addr != "" {
		options.RedisAddr = addr
	}
	if pw := getenv("REDIS_PASSWORD"); pw != "" {
		options.RedisPassword = pw
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		options.LogLevel = level
	}
	if v := getenv("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		options.CookieSecure = b
	}
	if v := getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SESSION_TTL: %w", err)
		}
		options.SessionTTL = d
	}

	if (options.TLSCert == "") != (options.TLSKey == "") {
		return nil, errors.New("tls-cert and tls-key must be set together")
	}
	return options, nil
}

// loadFile applies the JSON file at path. A missing file is not an error.
func loadFile(path string, options *Options) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, options); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}

	var durations fileDurations
	if err := json.Unmarshal(data, &durations); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{durations.CodeTTL, &options.CodeTTL},
		{durations.ResendCooldown, &options.ResendCooldown},
		{durations.LockoutDuration, &options.LockoutDuration},
		{durations.SessionTTL, &options.SessionTTL},
		{durations.CleanupInterval, &options.CleanupInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("error while parsing config file: %w", err)
		}
		*d.dst = v
	}
	return nil
}
