package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/istopwg/ippinfra/internal/proxy"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "unknown"
)

// ConfigFile represents the YAML configuration file structure
type ConfigFile struct {
	PrinterURI string `yaml:"printer_uri"`
	DeviceURI  string `yaml:"device_uri"`
	Format     string `yaml:"format"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TLSVerify  bool   `yaml:"tls_verify"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func main() {
	// Command line flags
	var (
		configPath   = flag.String("config", "", "path to config file")
		deviceURI    = flag.String("d", "", "output device URI (socket://, ipp://, ipps://)")
		outputFormat = flag.String("m", "", "preferred output format override")
		username     = flag.String("u", "", "requesting-user-name for all requests")
		password     = flag.String("p", "", "authentication password (prefer IPPPROXY_PASSWORD)")
		tlsVerify    = flag.Bool("tls-verify", false, "verify TLS certificates")
		logLevel     = flag.String("log-level", "", "log level: trace, debug, info, warn, error")
		logFormat    = flag.String("log-format", "", "log format: json, console")
		showVersion  = flag.Bool("version", false, "show version and exit")
		verbose      = flag.Bool("v", false, "shorthand for -log-level trace")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("ippproxy version %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	// Start with defaults
	config := proxy.DefaultConfig()
	config.Password = os.Getenv("IPPPROXY_PASSWORD")

	level := "info"
	format := "json"

	// Load config file if given
	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load config file: %v\n", err)
			os.Exit(1)
		}
		applyFileConfig(&config, cfg)
		if cfg.LogLevel != "" {
			level = cfg.LogLevel
		}
		if cfg.LogFormat != "" {
			format = cfg.LogFormat
		}
	}

	// Apply command line overrides
	if flag.NArg() > 0 {
		config.PrinterURI = flag.Arg(0)
	}
	if *deviceURI != "" {
		config.DeviceURI = *deviceURI
	}
	if *outputFormat != "" {
		config.OutputFormat = *outputFormat
	}
	if *username != "" {
		config.Username = *username
	}
	if *password != "" {
		config.Password = *password
	}
	if *tlsVerify {
		config.TLSVerify = true
	}
	if *logLevel != "" {
		level = *logLevel
	}
	if *logFormat != "" {
		format = *logFormat
	}
	if *verbose {
		level = "trace"
	}

	if config.PrinterURI == "" || config.DeviceURI == "" {
		usage()
		os.Exit(1)
	}

	// Set up logging
	zerolog.SetGlobalLevel(parseLogLevel(level))

	var log zerolog.Logger
	if format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	p, err := proxy.New(config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		log.Error().Err(err).Msg("proxy failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: ippproxy [options] printer-uri")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
}

func loadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

func applyFileConfig(config *proxy.Config, cfg *ConfigFile) {
	if cfg.PrinterURI != "" {
		config.PrinterURI = cfg.PrinterURI
	}
	if cfg.DeviceURI != "" {
		config.DeviceURI = cfg.DeviceURI
	}
	if cfg.Format != "" {
		config.OutputFormat = cfg.Format
	}
	if cfg.Username != "" {
		config.Username = cfg.Username
	}
	if cfg.Password != "" {
		config.Password = cfg.Password
	}
	if cfg.TLSVerify {
		config.TLSVerify = true
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
