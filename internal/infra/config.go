package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// External renderer subprocess.
	RendererBinary  string
	RendererTimeout time.Duration
	// RendererOutputDir is where the renderer drops raw files; the artifact
	// store searches it when serving historical artifacts.
	RendererOutputDir string

	// Remote neural-reconstruction service.
	MLServiceURL     string
	MLRequestTimeout time.Duration

	// Public artifact staging.
	RendersDir       string
	LegacyRendersDir string

	// Live bridge transport handshake endpoint; empty dispatches in-process.
	BridgeURL string

	MaxConcurrentJobs int64
	TierTablePath     string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		RendererBinary:    os.Getenv("RENDERER_BINARY"),
		RendererTimeout:   time.Second * time.Duration(getEnvInt("RENDERER_TIMEOUT_SECONDS", 300)),
		RendererOutputDir: getEnv("RENDERER_OUTPUT_DIR", "./output"),
		MLServiceURL:      os.Getenv("ML_SERVICE_URL"),
		MLRequestTimeout:  time.Second * time.Duration(getEnvInt("ML_REQUEST_TIMEOUT_SECONDS", 120)),
		RendersDir:        getEnv("RENDERS_DIR", "./renders"),
		LegacyRendersDir:  os.Getenv("LEGACY_RENDERS_DIR"),
		BridgeURL:         os.Getenv("BRIDGE_URL"),
		MaxConcurrentJobs: int64(getEnvInt("MAX_CONCURRENT_JOBS", 4)),
		TierTablePath:     os.Getenv("TIER_TABLE_PATH"),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:       splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.RendererTimeout <= 0 {
		return nil, fmt.Errorf("RENDERER_TIMEOUT_SECONDS must be positive")
	}
	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
