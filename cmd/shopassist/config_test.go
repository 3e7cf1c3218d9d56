package main

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shaharia-lab/shopassist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv unsets every variable Config reads; t.Setenv restores them after the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	typ := reflect.TypeOf(Config{})
	for i := 0; i < typ.NumField(); i++ {
		key, _, _ := strings.Cut(typ.Field(i).Tag.Get("env"), ",")
		if key == "" {
			continue
		}
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, driverMemory, cfg.HistoryDriver)
	assert.Equal(t, driverMemory, cfg.CatalogDriver)
	assert.Equal(t, shopassist.BackendOpenAI, cfg.DefaultBackend)
	assert.Equal(t, shopassist.BackendOpenAI, cfg.IntentBackend, "intent backend follows the default")
	assert.Equal(t, "https://api.x.ai/v1/", cfg.GrokBaseURL)
	assert.Equal(t, 5, cfg.EnhancerMaxScan)
	assert.Equal(t, 1024, cfg.EnhancerCacheSize)
	assert.Equal(t, []string{shopassist.BackendOpenAI}, cfg.backends())
}

func TestLoadConfig_Overrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	t.Setenv("GEMINI_API_KEY", "gk")
	t.Setenv("DEFAULT_BACKEND", " Anthropic ")
	t.Setenv("INTENT_BACKEND", "gemini")
	t.Setenv("HISTORY_DRIVER", "SQLite")
	t.Setenv("HISTORY_DSN", "file:history.db")
	t.Setenv("LLM_RATE_LIMIT", "2.5")
	t.Setenv("LLM_BURST", "4")
	t.Setenv("REQUEST_TIMEOUT", "15s")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, shopassist.BackendAnthropic, cfg.DefaultBackend)
	assert.Equal(t, shopassist.BackendGemini, cfg.IntentBackend)
	assert.Equal(t, driverSQLite, cfg.HistoryDriver)
	assert.Equal(t, 2.5, cfg.LLMRateLimit)
	assert.Equal(t, 4, cfg.LLMBurst)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{shopassist.BackendAnthropic, shopassist.BackendGemini}, cfg.backends())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr []string
	}{
		{
			name:    "no backend",
			env:     map[string]string{},
			wantErr: []string{"no chat backend configured"},
		},
		{
			name:    "default backend without credentials",
			env:     map[string]string{"OPENAI_API_KEY": "sk", "DEFAULT_BACKEND": "gemini"},
			wantErr: []string{`DEFAULT_BACKEND "gemini" is not configured`, `INTENT_BACKEND "gemini" is not configured`},
		},
		{
			name: "drivers",
			env: map[string]string{
				"OPENAI_API_KEY": "sk",
				"HISTORY_DRIVER": "postgres",
				"CATALOG_DRIVER": "mongo",
			},
			wantErr: []string{"HISTORY_DSN is required for the postgres driver", `unknown CATALOG_DRIVER "mongo"`},
		},
		{
			name: "limits",
			env: map[string]string{
				"OPENAI_API_KEY":         "sk",
				"ENHANCER_MAX_SCAN":      "0",
				"LLM_RATE_LIMIT":         "-1",
				"MAX_PRODUCTS_IN_PROMPT": "0",
			},
			wantErr: []string{"ENHANCER_MAX_SCAN", "LLM_RATE_LIMIT", "MAX_PRODUCTS_IN_PROMPT"},
		},
		{
			name:    "unparsable value",
			env:     map[string]string{"OPENAI_API_KEY": "sk", "REQUEST_TIMEOUT": "soon"},
			wantErr: []string{"parsing env config"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := loadConfig()
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}
