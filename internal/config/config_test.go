package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aftershock-omori/internal/omori"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: omori\n"))
	require.NoError(t, err)

	assert.Equal(t, "output", cfg.Output.Dir)
	assert.True(t, cfg.Output.PNG)
	assert.True(t, cfg.Aggregate.FillGaps)
	assert.Equal(t, "positive", cfg.Fit.Domain)
	assert.Equal(t, 10000, cfg.Fit.MaxEvaluations)
	assert.Equal(t, 30*time.Second, cfg.Fit.Timeout)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 720*time.Hour, cfg.USGS.Lookback)
	assert.Nil(t, cfg.USGS.Latitude)
	assert.Equal(t, 2.0, cfg.Alerting.ExcessRatio)

	opts, err := cfg.Fit.Options()
	require.NoError(t, err)
	assert.Equal(t, omori.DomainPositive, opts.Domain)
	assert.Equal(t, 2.0, opts.KFactor)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
catalog:
  default: ridgecrest
  presets:
    ridgecrest: data/ridgecrest.csv
    napa: data/napa.csv
fit:
  timeout: 5s
usgs:
  latitude: 35.77
  longitude: -117.6
  max_radius_km: 100
`)
	t.Setenv("OMORI_FIT_DOMAIN", "unconstrained")
	t.Setenv("OMORI_OUTPUT_DIR", "/tmp/reports")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "unconstrained", cfg.Fit.Domain)
	assert.Equal(t, "/tmp/reports", cfg.Output.Dir)
	assert.Equal(t, 5*time.Second, cfg.Fit.Timeout)
	require.NotNil(t, cfg.USGS.Latitude)
	assert.InDelta(t, 35.77, *cfg.USGS.Latitude, 1e-9)
	assert.Equal(t, []string{"napa", "ridgecrest"}, cfg.PresetNames())

	p, err := cfg.ResolvePreset("napa")
	require.NoError(t, err)
	assert.Equal(t, "data/napa.csv", p)

	_, err = cfg.ResolvePreset("tohoku")
	assert.ErrorContains(t, err, "available: napa, ridgecrest")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "omori", cfg.App.Name)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		yaml string
		msg  string
	}{
		"unknown domain":       {"fit:\n  domain: box\n", "fit.domain"},
		"min bins":             {"fit:\n  min_bins: 2\n", "fit.min_bins"},
		"unknown default":      {"catalog:\n  default: nowhere\n", "catalog.default"},
		"ratio":                {"alerting:\n  excess_ratio: 0.5\n", "alerting.excess_ratio"},
		"telegram token":       {"alerting:\n  telegram:\n    enabled: true\n    chat_id: x\n", "bot_token"},
		"half a coordinate":    {"usgs:\n  latitude: 10\n", "usgs.latitude"},
		"zero interval":        {"scheduler:\n  interval: 0s\n", "scheduler.interval"},
		"metrics without addr": {"metrics:\n  enabled: true\n  addr: \"\"\n", "metrics.addr"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}
