package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, float32(60), cfg.Camera.FOV)
	assert.Equal(t, 10, cfg.Sort.Interval)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg := Default()
	err := Parse([]byte(`
[window]
width = 800
height = 600

[sort]
interval = 4
`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Window.Width)
	assert.Equal(t, 600, cfg.Window.Height)
	assert.Equal(t, 4, cfg.Sort.Interval)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, cfg.Window.Background)
	// untouched
	assert.Equal(t, float32(500), cfg.Camera.Far)
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"fov":        "[camera]\nfov = 190.0\n",
		"near":       "[camera]\nnear = 600.0\n",
		"interval":   "[sort]\ninterval = 0\n",
		"size":       "[window]\nwidth = -1\n",
		"background": "[window]\nbackground = [0.0, 0.0, 2.0, 1.0]\n",
		"syntax":     "[window\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			assert.Error(t, Parse([]byte(doc), &cfg))
		})
	}
}

func TestParseBackground(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse([]byte("[window]\nbackground = [0.2, 0.3, 0.4, 1.0]\n"), &cfg))
	assert.Equal(t, [4]float32{0.2, 0.3, 0.4, 1}, cfg.Window.Background)
	assert.Equal(t, 1280, cfg.Window.Width)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.toml"), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "missing.toml"), false)
	assert.Error(t, err)

	path := filepath.Join(dir, "viewer.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\naddr = \":9000\"\n"), 0o644))
	cfg, err = Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestEncodeRoundTrip(t *testing.T) {
	want := Default()
	want.Sort.Interval = 7
	data, err := want.Encode()
	require.NoError(t, err)

	got := Default()
	require.NoError(t, Parse(data, &got))
	assert.Equal(t, want, got)
}
