package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable with PLANNER_CONFIG.
var ConfigPath = envOr("PLANNER_CONFIG", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	HubChannelPrefix  string   `yaml:"hubChannelPrefix"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
	CORSOrigins       []string `yaml:"corsOrigins"`

	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	GenerationProvider     string `yaml:"generationProvider"`
	GenerationBaseURL      string `yaml:"generationBaseURL"`
	GenerationAPIKey       string `yaml:"generationApiKey"`
	GenerationModel        string `yaml:"generationModel"`
	StageTimeoutSeconds    int    `yaml:"stageTimeoutSeconds"`
	CandidateRoutes        int    `yaml:"candidateRoutes"`
	JSONRetries            int    `yaml:"jsonRetries"`
	FallbackCatalogPath    string `yaml:"fallbackCatalogPath"`
	AssistantReplyDisabled bool   `yaml:"assistantReplyDisabled"`

	GenerateRateLimitPerMinute int     `yaml:"generateRateLimitPerMinute"`
	ChatRateLimitPerMinute     int     `yaml:"chatRateLimitPerMinute"`
	WSFramesPerSecond          float64 `yaml:"wsFramesPerSecond"`
	WSFrameBurst               int     `yaml:"wsFrameBurst"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PLANNER_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("PLANNER_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("PLANNER_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("PLANNER_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("GENERATION_PROVIDER"); v != "" {
		cfg.GenerationProvider = strings.TrimSpace(v)
	}
	if v := os.Getenv("GENERATION_BASE_URL"); v != "" {
		cfg.GenerationBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}
	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_STAGE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.StageTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PLANNER_CANDIDATE_ROUTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.CandidateRoutes = n
		}
	}
	if v := os.Getenv("PLANNER_JSON_RETRIES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.JSONRetries = n
		}
	}
	if v := os.Getenv("PLANNER_FALLBACK_CATALOG"); v != "" {
		cfg.FallbackCatalogPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("PLANNER_ASSISTANT_REPLY_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.AssistantReplyDisabled = b
		}
	}
	if v := os.Getenv("PLANNER_GENERATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GenerateRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PLANNER_CHAT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChatRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PLANNER_WS_FRAMES_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.WSFramesPerSecond = f
		}
	}
	if v := os.Getenv("PLANNER_WS_FRAME_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WSFrameBurst = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StageTimeoutSeconds == 0 {
		cfg.StageTimeoutSeconds = 45
	}
	if cfg.CandidateRoutes == 0 {
		cfg.CandidateRoutes = 3
	}
	if cfg.JSONRetries == 0 {
		cfg.JSONRetries = 2
	}
	if cfg.WSFramesPerSecond == 0 {
		cfg.WSFramesPerSecond = 5
	}
	if cfg.WSFrameBurst == 0 {
		cfg.WSFrameBurst = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PLANNER_PORT)")
	}
	if cfg.StageTimeoutSeconds < 0 {
		return errors.New("config: stageTimeoutSeconds must be >= 0")
	}
	if cfg.CandidateRoutes < 1 || cfg.CandidateRoutes > 5 {
		return errors.New("config: candidateRoutes must be between 1 and 5")
	}
	if cfg.JSONRetries < 0 {
		return errors.New("config: jsonRetries must be >= 0")
	}
	if cfg.GenerateRateLimitPerMinute < 0 || cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if (cfg.GenerateRateLimitPerMinute > 0 || cfg.ChatRateLimitPerMinute > 0) && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.WSFramesPerSecond < 0 || cfg.WSFrameBurst < 0 {
		return errors.New("config: websocket frame limits must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GenerationProvider)) {
	case "", "gemini", "ollama", "openai", "openai-compat":
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	return nil
}

// StageTimeout returns the per-stage generation timeout.
func (c FileConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
