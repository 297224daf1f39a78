package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command-line overrides. A nil field means the flag
// was not provided and must not override lower layers.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	BackendURL *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments (without the program name)
// into CLIFlags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("agentwire", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "shorthand for --config")
	port := fs.String("port", "", "HTTP listen port")
	fs.StringVar(port, "p", "", "shorthand for --port")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	backendURL := fs.String("backend-url", "", "agent backend base URL")
	dsn := fs.String("dsn", "", "PostgreSQL DSN")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	provided := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { provided[f.Name] = true })

	var flags CLIFlags
	if provided["config"] || provided["c"] {
		flags.ConfigPath = configPath
	}
	if provided["port"] || provided["p"] {
		flags.Port = port
	}
	if provided["log-level"] {
		flags.LogLevel = logLevel
	}
	if provided["backend-url"] {
		flags.BackendURL = backendURL
	}
	if provided["dsn"] {
		flags.DSN = dsn
	}
	if provided["nats-url"] {
		flags.NatsURL = natsURL
	}
	return flags, nil
}

// applyCLI overlays set flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.BackendURL != nil {
		cfg.Backend.URL = *flags.BackendURL
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// LoadWithCLI returns a Config using the hierarchy:
// defaults < YAML < ENV < CLI. The second return value is the YAML
// path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}
