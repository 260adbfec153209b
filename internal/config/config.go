package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"s3mcp/internal/protocol"
)

const DefaultProtocolVersion = "2025-11-25"

type Config struct {
	// S3 connection. The client built from these values is created once at
	// process start and shared read-only across all invocations.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	ListenAddr      string
	MCPPath         string
	ProtocolVersion string
	Public          bool
	// RateLimitRPS and RateLimitBurst define per-IP token bucket limits
	// applied when the server is bound publicly.
	RateLimitRPS   int
	RateLimitBurst int

	// MaxConcurrentCalls bounds tools/call executions admitted at once;
	// further requests are rejected with OverloadError.
	MaxConcurrentCalls int
	CallTimeout        time.Duration

	DownloadDir    string
	ChunkSizeBytes int64
	WindowSize     int
	MaxRetries     int
	RetryBaseDelay time.Duration

	LogLevel string
}

type fileConfig struct {
	Endpoint  *string `yaml:"endpoint"`
	Region    *string `yaml:"region"`
	AccessKey *string `yaml:"access_key"`
	SecretKey *string `yaml:"secret_key"`
	UseSSL    *bool   `yaml:"use_ssl"`

	ListenAddr      *string `yaml:"listen_addr"`
	MCPPath         *string `yaml:"mcp_path"`
	ProtocolVersion *string `yaml:"protocol_version"`
	Public          *bool   `yaml:"public"`
	RateLimitRPS    *int    `yaml:"rate_limit_rps"`
	RateLimitBurst  *int    `yaml:"rate_limit_burst"`

	MaxConcurrentCalls *int    `yaml:"max_concurrent_calls"`
	CallTimeoutSeconds *int    `yaml:"call_timeout_seconds"`
	DownloadDir        *string `yaml:"download_dir"`
	ChunkSizeBytes     *int64  `yaml:"chunk_size_bytes"`
	WindowSize         *int    `yaml:"window_size"`
	MaxRetries         *int    `yaml:"max_retries"`
	RetryBaseDelayMS   *int    `yaml:"retry_base_delay_ms"`

	LogLevel *string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Endpoint:        "s3.amazonaws.com",
		Region:          "eu-central-1",
		UseSSL:          true,
		ListenAddr:      protocol.DefaultListenAddr,
		MCPPath:         protocol.DefaultMCPPath,
		ProtocolVersion: DefaultProtocolVersion,
		Public:          false,
		RateLimitRPS:    60,
		RateLimitBurst:  20,

		MaxConcurrentCalls: 8,
		CallTimeout:        60 * time.Second,

		DownloadDir:    filepath.Join(os.TempDir(), "s3mcp"),
		ChunkSizeBytes: 8 << 20,
		WindowSize:     4,
		MaxRetries:     3,
		RetryBaseDelay: 200 * time.Millisecond,

		LogLevel: "info",
	}
}

// Load builds the effective configuration: compiled defaults, then the YAML
// file at path (optional), then .env files, then process environment.
func Load(path string) (Config, error) {
	return load(path, nil, true)
}

// LoadFile loads defaults plus an optional YAML config file and does not
// apply dotenv/env overrides.
func LoadFile(path string) (Config, error) {
	return load(path, nil, false)
}

// LoadWithEnv is Load with the process environment replaced by env.
func LoadWithEnv(path string, env map[string]string) (Config, error) {
	return load(path, env, true)
}

func load(path string, overrideEnv map[string]string, applyEnv bool) (Config, error) {
	cfg := Default()
	if applyEnv {
		if err := loadDotEnvFiles([]string{".env.local", ".env"}, overrideEnv); err != nil {
			return Config{}, fmt.Errorf("load dotenv files: %w", err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("stat config: %w", err)
			}
		} else if err := applyFileOverrides(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if applyEnv {
		applyEnvOverrides(&cfg, overrideEnv)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFileOverrides(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}

	var fileCfg fileConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fileCfg.Endpoint != nil {
		cfg.Endpoint = *fileCfg.Endpoint
	}
	if fileCfg.Region != nil {
		cfg.Region = *fileCfg.Region
	}
	if fileCfg.AccessKey != nil {
		cfg.AccessKey = *fileCfg.AccessKey
	}
	if fileCfg.SecretKey != nil {
		cfg.SecretKey = *fileCfg.SecretKey
	}
	if fileCfg.UseSSL != nil {
		cfg.UseSSL = *fileCfg.UseSSL
	}
	if fileCfg.ListenAddr != nil {
		cfg.ListenAddr = *fileCfg.ListenAddr
	}
	if fileCfg.MCPPath != nil {
		cfg.MCPPath = *fileCfg.MCPPath
	}
	if fileCfg.ProtocolVersion != nil {
		cfg.ProtocolVersion = *fileCfg.ProtocolVersion
	}
	if fileCfg.Public != nil {
		cfg.Public = *fileCfg.Public
	}
	if fileCfg.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fileCfg.RateLimitRPS
	}
	if fileCfg.RateLimitBurst != nil {
		cfg.RateLimitBurst = *fileCfg.RateLimitBurst
	}
	if fileCfg.MaxConcurrentCalls != nil {
		cfg.MaxConcurrentCalls = *fileCfg.MaxConcurrentCalls
	}
	if fileCfg.CallTimeoutSeconds != nil {
		cfg.CallTimeout = time.Duration(*fileCfg.CallTimeoutSeconds) * time.Second
	}
	if fileCfg.DownloadDir != nil {
		cfg.DownloadDir = *fileCfg.DownloadDir
	}
	if fileCfg.ChunkSizeBytes != nil {
		cfg.ChunkSizeBytes = *fileCfg.ChunkSizeBytes
	}
	if fileCfg.WindowSize != nil {
		cfg.WindowSize = *fileCfg.WindowSize
	}
	if fileCfg.MaxRetries != nil {
		cfg.MaxRetries = *fileCfg.MaxRetries
	}
	if fileCfg.RetryBaseDelayMS != nil {
		cfg.RetryBaseDelay = time.Duration(*fileCfg.RetryBaseDelayMS) * time.Millisecond
	}
	if fileCfg.LogLevel != nil {
		cfg.LogLevel = *fileCfg.LogLevel
	}

	return nil
}

// loadDotEnvFiles loads each existing dotenv file without clobbering
// variables that are already set in the process environment. overrideEnv, when
// non-nil, takes the place of the process environment (tests use this).
func loadDotEnvFiles(paths []string, overrideEnv map[string]string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if overrideEnv != nil {
			// Tests drive env through the override map; file layering is
			// exercised separately.
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config, overrideEnv map[string]string) {
	getenv := os.Getenv
	if overrideEnv != nil {
		getenv = func(key string) string { return overrideEnv[key] }
	}

	setString := func(target *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(getenv(key)); v != "" {
				*target = v
				return
			}
		}
	}

	setString(&cfg.Endpoint, "S3MCP_ENDPOINT")
	setString(&cfg.Region, "S3MCP_REGION", "AWS_REGION")
	// Credential names match the original deployment environment.
	setString(&cfg.AccessKey, "S3MCP_ACCESS_KEY", "AWS_ACCESS_KEY")
	setString(&cfg.SecretKey, "S3MCP_SECRET_KEY", "AWS_SECRET_KEY")
	setString(&cfg.MCPPath, "S3MCP_MCP_PATH")
	setString(&cfg.DownloadDir, "S3MCP_DOWNLOAD_DIR")
	setString(&cfg.LogLevel, "S3MCP_LOG_LEVEL")

	if v := strings.TrimSpace(getenv("S3MCP_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	} else if port := strings.TrimSpace(getenv("S3_MCP_SERVER_PORT")); port != "" {
		host, _, err := splitListenAddr(cfg.ListenAddr)
		if err != nil {
			host = "127.0.0.1"
		}
		cfg.ListenAddr = host + ":" + port
	}

	if v := strings.TrimSpace(getenv("S3MCP_USE_SSL")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.UseSSL = parsed
		}
	}
	if v := strings.TrimSpace(getenv("S3MCP_PUBLIC")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Public = parsed
		}
	}

	setInt := func(target *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*target = parsed
			}
		}
	}
	setInt(&cfg.RateLimitRPS, "S3MCP_RATE_LIMIT_RPS")
	setInt(&cfg.RateLimitBurst, "S3MCP_RATE_LIMIT_BURST")
	setInt(&cfg.MaxConcurrentCalls, "S3MCP_MAX_CONCURRENT_CALLS")
	setInt(&cfg.WindowSize, "S3MCP_TRANSFER_WINDOW")
	setInt(&cfg.MaxRetries, "S3MCP_TRANSFER_RETRIES")

	if v := strings.TrimSpace(getenv("S3MCP_CHUNK_SIZE_BYTES")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ChunkSizeBytes = parsed
		}
	}
	if v := strings.TrimSpace(getenv("S3MCP_CALL_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.CallTimeout = time.Duration(parsed) * time.Second
		}
	}
}

func splitListenAddr(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("listen addr %q missing port", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("config: endpoint is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("config: listen addr is required")
	}
	if !strings.HasPrefix(c.MCPPath, "/") {
		return fmt.Errorf("config: mcp path %q must start with /", c.MCPPath)
	}
	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("config: chunk size must be positive, got %d", c.ChunkSizeBytes)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("config: transfer window must be >= 1, got %d", c.WindowSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("config: max concurrent calls must be >= 1, got %d", c.MaxConcurrentCalls)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("config: call timeout must be positive, got %s", c.CallTimeout)
	}
	return nil
}
