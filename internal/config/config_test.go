package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load([]string{"--data-dir", dataDir})
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "rfr.log"), cfg.LogFile)
	assert.Equal(t, 10, cfg.LogMaxSizeMB)
	assert.Equal(t, "espeak", cfg.SpeechCommand)
	assert.Equal(t, 50.0, cfg.AccuracyLimitMeters)
	assert.Equal(t, 10, cfg.ScanTimeoutSeconds)
	assert.False(t, cfg.MockLocation)
	assert.Equal(t, 8717, cfg.MockPort)
	assert.Empty(t, cfg.Templates)
}

func TestLoad_ConfigFileInDataDir(t *testing.T) {
	dataDir := t.TempDir()
	yaml := `
speechCommand: say
accuracyLimitMeters: 35
templates:
  - name: "Test 1-1 x2"
    warmUpMinutes: 1
    runMinutes: 1
    walkMinutes: 1
    intervals: 2
    coolDownMinutes: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load([]string{"--data-dir", dataDir})
	require.NoError(t, err)

	assert.Equal(t, "say", cfg.SpeechCommand)
	assert.Equal(t, 35.0, cfg.AccuracyLimitMeters)
	require.Len(t, cfg.Templates, 1)
	assert.Equal(t, "Test 1-1 x2", cfg.Templates[0].Name)
	assert.Equal(t, 2, cfg.Templates[0].Intervals)
	assert.Equal(t, 1.0, cfg.Templates[0].RunMinutes)
}

func TestLoad_ExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mockPort: 9000\n"), 0644))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.MockPort)
}

func TestLoad_ExplicitConfigFileMissing(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestLoad_FlagOverridesConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"),
		[]byte("speechCommand: say\n"), 0644))

	cfg, err := Load([]string{"--data-dir", dataDir, "--speech-command", "festival"})
	require.NoError(t, err)
	assert.Equal(t, "festival", cfg.SpeechCommand)
}

func TestLoad_MalformedConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"),
		[]byte("{{not yaml"), 0644))

	_, err := Load([]string{"--data-dir", dataDir})
	assert.Error(t, err)
}

func TestLoad_MockLocationFlag(t *testing.T) {
	cfg, err := Load([]string{"--data-dir", t.TempDir(), "--mock-location", "--mock-port", "9001"})
	require.NoError(t, err)
	assert.True(t, cfg.MockLocation)
	assert.Equal(t, 9001, cfg.MockPort)
}
