package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every knob the service needs. It is loaded once in
// main and handed to each adapter's constructor; there is no ambient
// global state.
type Config struct {
	Port string

	// DashScope (ASR + LLM share the one API key)
	DashScopeAPIKey  string
	DashScopeBaseURL string
	ASRModel         string
	LanguageHints    []string
	SpeakerCount     int
	PollInterval     time.Duration
	PollTimeout      time.Duration
	LLMBaseURL       string
	LLMModel         string

	// Aliyun OSS
	OSSEndpoint        string
	OSSAccessKeyID     string
	OSSAccessKeySecret string
	OSSBucket          string
	SignedURLTTL       time.Duration

	// Record store
	DBPath string

	// Quality gate
	MinDialogueChars int
}

// Load reads the environment and fails fast when a required
// credential is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               envOr("PORT", "8080"),
		DashScopeAPIKey:    os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeBaseURL:   envOr("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/api/v1"),
		ASRModel:           envOr("ASR_MODEL", "paraformer-v1"),
		LanguageHints:      strings.Split(envOr("ASR_LANGUAGE_HINTS", "zh,en"), ","),
		SpeakerCount:       envOrInt("ASR_SPEAKER_COUNT", 2),
		PollInterval:       envOrDuration("ASR_POLL_INTERVAL", 2*time.Second),
		PollTimeout:        envOrDuration("ASR_POLL_TIMEOUT", 10*time.Minute),
		LLMBaseURL:         envOr("LLM_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		LLMModel:           envOr("LLM_MODEL", "qwen-plus"),
		OSSEndpoint:        envOr("OSS_ENDPOINT", "http://oss-cn-shenzhen.aliyuncs.com"),
		OSSAccessKeyID:     os.Getenv("OSS_ACCESS_KEY_ID"),
		OSSAccessKeySecret: os.Getenv("OSS_ACCESS_KEY_SECRET"),
		OSSBucket:          os.Getenv("OSS_BUCKET_NAME"),
		SignedURLTTL:       envOrDuration("OSS_SIGNED_URL_TTL", time.Hour),
		DBPath:             envOr("DB_PATH", "data/db/consultations.xlsx"),
		MinDialogueChars:   envOrInt("MIN_DIALOGUE_CHARS", 10),
	}

	for _, req := range []struct{ key, val string }{
		{"DASHSCOPE_API_KEY", cfg.DashScopeAPIKey},
		{"OSS_ACCESS_KEY_ID", cfg.OSSAccessKeyID},
		{"OSS_ACCESS_KEY_SECRET", cfg.OSSAccessKeySecret},
		{"OSS_BUCKET_NAME", cfg.OSSBucket},
	} {
		if req.val == "" {
			return nil, fmt.Errorf("required env %s not set", req.key)
		}
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
