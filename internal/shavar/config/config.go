package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// ClientName identifies this client to the update servers.
	ClientName string `koanf:"client_name" validate:"required"`

	// AppVersion is reported alongside the client name.
	AppVersion string `koanf:"app_version" validate:"required"`

	// ProtocolVersion is the protocol revision spoken with the servers.
	ProtocolVersion string `koanf:"protocol_version" validate:"required"`

	// Key is an optional client API key appended to every request URL.
	Key string `koanf:"key"`

	// AdditionalQuery is an optional raw query fragment appended to every
	// request URL, including redirect fetches.
	AdditionalQuery string `koanf:"additional_query"`

	// URLPrefix is the primary update server, scheme plus host plus an
	// optional path, without a trailing slash.
	URLPrefix string `koanf:"url_prefix" validate:"required,url_prefix"`

	// Backup prefixes are consulted once per update cycle when the primary
	// fails, keyed by how it failed. Empty disables that fallback.
	BackupConnectURLPrefix string `koanf:"backup_connect_url_prefix" validate:"omitempty,url_prefix"`
	BackupHTTPURLPrefix    string `koanf:"backup_http_url_prefix" validate:"omitempty,url_prefix"`
	BackupNetworkURLPrefix string `koanf:"backup_network_url_prefix" validate:"omitempty,url_prefix"`

	// UpdateIntervalSec is the base seconds between update cycles.
	UpdateIntervalSec int `koanf:"update_interval_sec" validate:"required,gte=60"`

	// RequestTimeoutSec bounds each individual HTTP request.
	RequestTimeoutSec int `koanf:"request_timeout_sec" validate:"required,gte=1"`

	// DBPath is where the chunk database lives.
	DBPath string `koanf:"db_path" validate:"required"`

	// CacheSize is the host lookup cache capacity; 0 disables it.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`

	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`
}

// DEFAULT_APP_CONFIG defines the default settings for the update daemon.
// The server endpoints have no usable default and must come from the
// environment.
var DEFAULT_APP_CONFIG = AppConfig{
	ClientName:        "shavard",
	AppVersion:        "1.0",
	ProtocolVersion:   "2.2",
	UpdateIntervalSec: 1800,
	RequestTimeoutSec: 30,
	DBPath:            "/var/lib/shavard/chunks.db",
	CacheSize:         1000,
	Env:               "prod",
	LogLevel:          "info",
}

// validURLPrefix accepts an http or https URL with a host and without a
// trailing slash, the shape the request builder concatenates paths onto.
func validURLPrefix(fl validator.FieldLevel) bool {
	prefix := fl.Field().String()
	if strings.HasSuffix(prefix, "/") {
		return false
	}
	u, err := url.Parse(prefix)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// envLoader is a function that loads environment variables with the prefix
// "SHAVAR_". It transforms the keys to lowercase and removes the prefix,
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "SHAVAR_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "SHAVAR_"))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads default configuration values into the provided Koanf
// instance using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "url_prefix" validation with the
// provided validator.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("url_prefix", validURLPrefix)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
