package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
port: "8090"
logLevel: "info"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StageTimeoutSeconds != 45 {
		t.Fatalf("stageTimeoutSeconds = %d, want 45", cfg.StageTimeoutSeconds)
	}
	if cfg.CandidateRoutes != 3 {
		t.Fatalf("candidateRoutes = %d, want 3", cfg.CandidateRoutes)
	}
	if cfg.JSONRetries != 2 {
		t.Fatalf("jsonRetries = %d, want 2", cfg.JSONRetries)
	}
	if cfg.WSFramesPerSecond != 5 || cfg.WSFrameBurst != 10 {
		t.Fatalf("unexpected websocket limits: %v/%d", cfg.WSFramesPerSecond, cfg.WSFrameBurst)
	}
	if cfg.DatabaseURL != "" || cfg.RedisAddr != "" {
		t.Fatalf("expected in-memory defaults, got db=%q redis=%q", cfg.DatabaseURL, cfg.RedisAddr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PLANNER_PORT", "9000")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("GENERATION_PROVIDER", "ollama")
	t.Setenv("GENERATION_MODEL", "llama3.1")
	t.Setenv("PLANNER_STAGE_TIMEOUT_SECONDS", "20")
	t.Setenv("PLANNER_CANDIDATE_ROUTES", "4")
	t.Setenv("PLANNER_GENERATE_RATE_LIMIT_PER_MINUTE", "6")
	t.Setenv("PLANNER_WS_FRAMES_PER_SECOND", "2.5")
	t.Setenv("PLANNER_TRUSTED_PROXY_CIDRS", "10.0.0.0/8, 127.0.0.1")
	t.Setenv("PLANNER_CORS_ORIGINS", "https://trip.example.com")

	cfg, err := Load(writeConfig(t, `
port: "8090"
generationProvider: "gemini"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("port = %q, want 9000", cfg.Port)
	}
	if cfg.GenerationProvider != "ollama" || cfg.GenerationModel != "llama3.1" {
		t.Fatalf("unexpected provider %q model %q", cfg.GenerationProvider, cfg.GenerationModel)
	}
	if cfg.StageTimeout().Seconds() != 20 {
		t.Fatalf("stage timeout = %v, want 20s", cfg.StageTimeout())
	}
	if cfg.CandidateRoutes != 4 {
		t.Fatalf("candidateRoutes = %d, want 4", cfg.CandidateRoutes)
	}
	if cfg.GenerateRateLimitPerMinute != 6 {
		t.Fatalf("generateRateLimitPerMinute = %d, want 6", cfg.GenerateRateLimitPerMinute)
	}
	if cfg.WSFramesPerSecond != 2.5 {
		t.Fatalf("wsFramesPerSecond = %v, want 2.5", cfg.WSFramesPerSecond)
	}
	if len(cfg.TrustedProxyCIDRs) != 2 || cfg.TrustedProxyCIDRs[1] != "127.0.0.1" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxyCIDRs)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://trip.example.com" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestValidateConfigRejectsRateLimitWithoutRedis(t *testing.T) {
	cfg := FileConfig{Port: "8090", CandidateRoutes: 3, ChatRateLimitPerMinute: 30}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for rate limit without redisAddr")
	}
}

func TestValidateConfigRejectsUnknownProvider(t *testing.T) {
	cfg := FileConfig{Port: "8090", CandidateRoutes: 3, GenerationProvider: "bard"}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for unknown provider")
	}
}

func TestValidateConfigRejectsBadLeeway(t *testing.T) {
	cfg := FileConfig{Port: "8090", CandidateRoutes: 3, JWTLeeway: "soon"}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for invalid jwtLeeway")
	}
}
