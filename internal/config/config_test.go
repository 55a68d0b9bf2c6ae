package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		yamlContent string
		wantErr     string
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid full config",
			yamlContent: `dataDir: /var/lib/content-sync
remote:
  endpoint: https://api.example.com
  tokenFile: /etc/secrets/token
  timeout: 15s
sources:
  - id: src-1
    syncPolicy:
      interval: 30m
    filter:
      query: docs
      properties:
        status: published
  - id: src-2
fetch:
  maxConcurrency: 8
  maxRetries: 3
  baseDelay: 250ms
cache:
  l1Capacity: 500
server:
  address: ":9090"
telemetry:
  enabled: true
  endpoint: otel-collector:4318
  insecure: true
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/var/lib/content-sync", cfg.GetDataDir())
				assert.Equal(t, "https://api.example.com", cfg.Remote.Endpoint)
				require.Len(t, cfg.Sources, 2)
				assert.Equal(t, "30m", cfg.Sources[0].SyncPolicy.Interval)
				assert.Equal(t, "docs", cfg.Sources[0].Filter.Query)
				assert.Equal(t, "published", cfg.Sources[0].Filter.Properties["status"])
				assert.Nil(t, cfg.Sources[1].SyncPolicy)
				assert.Equal(t, 8, cfg.Fetch.MaxConcurrency)
				assert.Equal(t, 500, cfg.Cache.L1Capacity)
				assert.Equal(t, ":9090", cfg.Server.Address)
				assert.True(t, cfg.Telemetry.Enabled)
			},
		},
		{
			name: "minimal config",
			yamlContent: `remote:
  endpoint: https://api.example.com
sources:
  - id: src-1
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "data", cfg.GetDataDir())
			},
		},
		{
			name: "missing endpoint",
			yamlContent: `sources:
  - id: src-1
`,
			wantErr: "remote.endpoint is required",
		},
		{
			name: "no sources",
			yamlContent: `remote:
  endpoint: https://api.example.com
`,
			wantErr: "at least one source",
		},
		{
			name: "source missing id",
			yamlContent: `remote:
  endpoint: https://api.example.com
sources:
  - filter:
      query: docs
`,
			wantErr: "id is required",
		},
		{
			name: "duplicate source id",
			yamlContent: `remote:
  endpoint: https://api.example.com
sources:
  - id: src-1
  - id: src-1
`,
			wantErr: "duplicate source id",
		},
		{
			name: "invalid sync interval",
			yamlContent: `remote:
  endpoint: https://api.example.com
sources:
  - id: src-1
    syncPolicy:
      interval: often
`,
			wantErr: "syncPolicy.interval",
		},
		{
			name: "invalid remote timeout",
			yamlContent: `remote:
  endpoint: https://api.example.com
  timeout: fast
sources:
  - id: src-1
`,
			wantErr: "remote.timeout",
		},
		{
			name: "invalid base delay",
			yamlContent: `remote:
  endpoint: https://api.example.com
sources:
  - id: src-1
fetch:
  baseDelay: slow
`,
			wantErr: "fetch.baseDelay",
		},
		{
			name:        "malformed yaml",
			yamlContent: "remote: [not a mapping",
			wantErr:     "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.yamlContent)
			cfg, err := LoadConfig(WithConfigPath(path))

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(""))
	assert.Error(t, err)
}

func TestGetToken(t *testing.T) {
	t.Run("from file", func(t *testing.T) {
		tokenPath := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(tokenPath, []byte("  secret-token\n"), 0600))

		r := RemoteConfig{TokenFile: tokenPath}
		token, err := r.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "secret-token", token, "token is whitespace-trimmed")
	})

	t.Run("file takes precedence over env", func(t *testing.T) {
		tokenPath := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(tokenPath, []byte("file-token"), 0600))
		t.Setenv("CONTENT_SYNC_TOKEN", "env-token")

		r := RemoteConfig{TokenFile: tokenPath}
		token, err := r.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "file-token", token)
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("CONTENT_SYNC_TOKEN", "env-token")

		r := RemoteConfig{}
		token, err := r.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "env-token", token)
	})

	t.Run("not configured", func(t *testing.T) {
		t.Setenv("CONTENT_SYNC_TOKEN", "")

		r := RemoteConfig{}
		_, err := r.GetToken()
		assert.Error(t, err)
	})

	t.Run("unreadable file", func(t *testing.T) {
		r := RemoteConfig{TokenFile: filepath.Join(t.TempDir(), "missing")}
		_, err := r.GetToken()
		assert.Error(t, err)
	})
}

func TestGetTimeout(t *testing.T) {
	t.Parallel()

	r := RemoteConfig{}
	timeout, err := r.GetTimeout()
	require.NoError(t, err)
	assert.Zero(t, timeout)

	r.Timeout = "15s"
	timeout, err = r.GetTimeout()
	require.NoError(t, err)
	assert.Equal(t, "15s", timeout.String())
}
