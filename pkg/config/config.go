// Package config loads the call bridge's runtime configuration from CLI
// flags and environment variables. Precedence: CLI flags > env vars >
// defaults, matching the loader shape used elsewhere in the pack.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the call bridge server.
type Config struct {
	ListenAddr string

	GeminiKey        string
	LogEndpoint      string
	SysInstEndpoint  string
	LogChunkSize     int
	AldarBaseAPIURL  string
	TelephonyAccount string
	TelephonyToken   string

	RecordingsDir string

	LogLevel  string
	LogFormat string
}

const (
	defaultListenAddr      = ":8080"
	defaultLogEndpoint     = "https://al-dar.go-globe.dev/call/log"
	defaultSysInstEndpoint = "https://al-dar.go-globe.dev/call/get-files"
	defaultLogChunkSize    = 5
	defaultRecordingsDir   = "recordings"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// Load parses configuration from CLI flags and environment variables.
// Unrecognized environment variables are ignored rather than rejected, so an
// operator's broader environment never prevents startup.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callbridge", flag.ContinueOnError)

	fs.StringVar(&cfg.ListenAddr, "listen", defaultListenAddr, "HTTP/WS listen address")
	fs.StringVar(&cfg.GeminiKey, "gemini-key", "", "API key for the cloud multimodal LLM")
	fs.StringVar(&cfg.LogEndpoint, "log-endpoint", defaultLogEndpoint, "base URL of the transcript log receiver")
	fs.StringVar(&cfg.SysInstEndpoint, "sys-inst-endpoint", defaultSysInstEndpoint, "URL returning the system instruction corpus")
	fs.IntVar(&cfg.LogChunkSize, "log-chunk-size", defaultLogChunkSize, "minimum new transcript entries before a chunk ships")
	fs.StringVar(&cfg.AldarBaseAPIURL, "base-api-url", "", "base URL for tool-call backends")
	fs.StringVar(&cfg.TelephonyAccount, "telephony-account", "", "telephony provider account identifier")
	fs.StringVar(&cfg.TelephonyToken, "telephony-token", "", "telephony provider auth token")
	fs.StringVar(&cfg.RecordingsDir, "recordings-dir", defaultRecordingsDir, "directory for mixed-call WAV recordings")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envMap names the variables spec.md §6.7 lists plus RECORDINGS_DIR,
// LOG_LEVEL and LOG_FORMAT; anything else in the process environment is
// simply never looked at.
var envMap = map[string]string{
	"gemini-key":        "GEMINI_KEY",
	"log-endpoint":      "LOG_ENDPOINT",
	"sys-inst-endpoint": "SYS_INST_ENDPOINT",
	"log-chunk-size":    "LOG_CHUNK_SIZE",
	"base-api-url":      "ALDAR_BASE_API_URL",
	"telephony-account": "TELEPHONY_ACCOUNT_SID",
	"telephony-token":   "TELEPHONY_AUTH_TOKEN",
	"recordings-dir":    "RECORDINGS_DIR",
	"log-level":         "LOG_LEVEL",
	"log-format":        "LOG_FORMAT",
}

func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "gemini-key":
			cfg.GeminiKey = val
		case "log-endpoint":
			cfg.LogEndpoint = val
		case "sys-inst-endpoint":
			cfg.SysInstEndpoint = val
		case "log-chunk-size":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.LogChunkSize = v
			}
		case "base-api-url":
			cfg.AldarBaseAPIURL = val
		case "telephony-account":
			cfg.TelephonyAccount = val
		case "telephony-token":
			cfg.TelephonyToken = val
		case "recordings-dir":
			cfg.RecordingsDir = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

func (c *Config) validate() error {
	if c.LogChunkSize <= 0 {
		return fmt.Errorf("log-chunk-size must be positive, got %d", c.LogChunkSize)
	}
	return nil
}
