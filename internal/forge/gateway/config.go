package gateway

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// EnvConfig is the subset of Config expressible through environment
// variables / a JSON config file, following the XAIFORGE_GATEWAY_*
// variables named in the spec. Precedence is file > env > default,
// matching xaiforge/forge_gateway/config.py.
type EnvConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	TimeoutS     float64 `json:"timeout_s"`
	Batch        bool   `json:"batch"`
	BatchSize    int    `json:"batch_size"`
	BatchWaitMS  int    `json:"batch_wait_ms"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
}

// LoadEnvConfig resolves gateway configuration from, in priority order,
// the file named by XAIFORGE_GATEWAY_CONFIG, then individual
// XAIFORGE_GATEWAY_* environment variables, then hardcoded defaults.
func LoadEnvConfig() (EnvConfig, error) {
	cfg := EnvConfig{
		Provider:    "mock",
		TimeoutS:    30,
		Batch:       false,
		BatchSize:   4,
		BatchWaitMS: 25,
	}

	if v := os.Getenv("XAIFORGE_GATEWAY_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("XAIFORGE_GATEWAY_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("XAIFORGE_GATEWAY_TIMEOUT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TimeoutS = f
		}
	}
	if v := os.Getenv("XAIFORGE_GATEWAY_BATCH"); v != "" {
		cfg.Batch = v == "1" || v == "true"
	}
	if v := os.Getenv("XAIFORGE_GATEWAY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("XAIFORGE_GATEWAY_BATCH_WAIT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchWaitMS = n
		}
	}
	if v := os.Getenv("XAIFORGE_GATEWAY_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("XAIFORGE_GATEWAY_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	if path := os.Getenv("XAIFORGE_GATEWAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// ToGatewayConfig converts the resolved environment configuration into a
// Config with sensible reliability defaults layered on top.
func (e EnvConfig) ToGatewayConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = time.Duration(e.TimeoutS * float64(time.Second))
	cfg.Batch.Enabled = e.Batch
	cfg.Batch.MaxBatchSize = e.BatchSize
	cfg.Batch.MaxWaitMS = e.BatchWaitMS
	return cfg
}
