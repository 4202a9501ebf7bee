package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string `mapstructure:"name"`
	Reaper struct {
		Timeout  time.Duration `mapstructure:"timeout"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"reaper"`
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	var out sample
	_, err := Loader{
		Service:  "does-not-exist",
		Paths:    []string{t.TempDir()},
		Defaults: map[string]any{"name": "pushgate", "reaper.timeout": "2m", "reaper.interval": "30s"},
	}.Load(&out)
	require.NoError(t, err)

	assert.Equal(t, "pushgate", out.Name)
	assert.Equal(t, 2*time.Minute, out.Reaper.Timeout)
	assert.Equal(t, 30*time.Second, out.Reaper.Interval)
}

func TestLoad_FileOverridesDefaults_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "name: from-file\nreaper:\n  timeout: 10s\n  interval: 1s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "svc.yaml"), []byte(yaml), 0o644))

	t.Setenv("SVC_REAPER_INTERVAL", "3s")

	var out sample
	_, err := Loader{
		Service:  "svc",
		Paths:    []string{dir},
		Defaults: map[string]any{"name": "default", "reaper.timeout": "2m", "reaper.interval": "30s"},
	}.Load(&out)
	require.NoError(t, err)

	assert.Equal(t, "from-file", out.Name)
	assert.Equal(t, 10*time.Second, out.Reaper.Timeout)
	assert.Equal(t, 3*time.Second, out.Reaper.Interval)
}

func TestLoad_BrokenFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: [unterminated"), 0o644))

	var out sample
	_, err := Loader{Service: "bad", Paths: []string{dir}}.Load(&out)
	assert.Error(t, err)
}
