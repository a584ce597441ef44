package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name: "returns defaults when no overrides",
			setup: func(t *testing.T) []string {
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "whois.nic.cl", cfg.Sources.Whois.Server)
				require.Equal(t, 43, cfg.Sources.Whois.Port)
				require.Equal(t, 168*time.Hour, cfg.Batch.StaleAfter)
				require.Equal(t, 15, cfg.Sources.Snapshot.RequestsPerMinute)
				require.True(t, cfg.Sources.Snapshot.SampleContent)
			},
		},
		{
			name: "merges yaml file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				contents := "server:\n  listen:\n    port: 9090\nbatch:\n  delay: 250ms\n  maxAttempts: 5\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, 250*time.Millisecond, cfg.Batch.Delay)
				require.Equal(t, 5, cfg.Batch.MaxAttempts)
				require.Equal(t, 10, cfg.Batch.Size)
			},
		},
		{
			name: "merges toml file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.toml")
				contents := "[sources.whois]\nserver = \"whois.example.test\"\ntimeout = \"3s\"\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "whois.example.test", cfg.Sources.Whois.Server)
				require.Equal(t, 3*time.Second, cfg.Sources.Whois.Timeout)
			},
		},
		{
			name: "merges json file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.json")
				contents := `{"storage":{"driver":"postgres","dsn":"postgres://scout@localhost/scout"}}`
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "postgres", cfg.Storage.Driver)
				require.Equal(t, "postgres://scout@localhost/scout", cfg.Storage.DSN)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("DOMAINSCOUT_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps env keys onto camel case paths",
			setup: func(t *testing.T) []string {
				t.Setenv("DOMAINSCOUT_CACHE__LOCALTTL", "45s")
				t.Setenv("DOMAINSCOUT_BATCH__SKIP_ENRICHMENT_WHEN", "enrichment.checked")
				t.Setenv("DOMAINSCOUT_SOURCES__SNAPSHOT__SAMPLECONTENT", "false")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 45*time.Second, cfg.Cache.LocalTTL)
				require.Equal(t, "enrichment.checked", cfg.Batch.SkipEnrichmentWhen)
				require.False(t, cfg.Sources.Snapshot.SampleContent)
			},
		},
		{
			name: "reads api key from file",
			setup: func(t *testing.T) []string {
				secret := filepath.Join(t.TempDir(), "api_key")
				require.NoError(t, os.WriteFile(secret, []byte("sk-test\n"), 0o600))
				t.Setenv("DOMAINSCOUT_SOURCES__SCORING__APIKEYFILE", secret)
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "sk-test", cfg.Sources.Scoring.APIKey)
			},
		},
		{
			name: "fails when api key file missing",
			setup: func(t *testing.T) []string {
				t.Setenv("DOMAINSCOUT_SOURCES__SCORING__APIKEYFILE", filepath.Join(t.TempDir(), "missing"))
				return nil
			},
			wantErr: true,
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.ini")
				require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
		{
			name: "fails validation on bad skip expression",
			setup: func(t *testing.T) []string {
				t.Setenv("DOMAINSCOUT_BATCH__SKIPENRICHMENTWHEN", "enrichment.checked &&")
				return nil
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			cfg, err := NewLoader("DOMAINSCOUT", files...).Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader("DOMAINSCOUT", path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
