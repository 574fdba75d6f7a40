package eduquest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "eduquest.yml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "v3", config.Version)
	assert.Equal(t, "ktu-qna-cache", config.CachePrefix)
	assert.Equal(t, []string{"/", "/index.html", "/manifest.json", "/ques.png", "/confused.png"}, config.Manifest)
	assert.False(t, config.DisableSkipWaiting)
	assert.Equal(t, "127.0.0.1:8081", config.AdminAddr)
}

func TestLoadConfigFile(t *testing.T) {
	filename := writeConfig(t, `
port: 9000
origin: https://eduquest.example
version: v4
manifest:
  - /
  - /app.js
disableSkipWaiting: true
`)
	config, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 9000, config.Port)
	assert.Equal(t, "https://eduquest.example", config.Origin)
	assert.Equal(t, "v4", config.Version)
	assert.Equal(t, "ktu-qna-cache", config.CachePrefix)
	assert.Equal(t, []string{"/", "/app.js"}, config.Manifest)
	assert.True(t, config.DisableSkipWaiting)
	assert.NoError(t, config.Validate())
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	filename := writeConfig(t, "port: 9000\nversion: v4\n")
	t.Setenv("EDUQUEST_PORT", "9090")
	t.Setenv("EDUQUEST_MANIFEST", "/a,/b")

	config, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "v4", config.Version)
	assert.Equal(t, []string{"/a", "/b"}, config.Manifest)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfig(writeConfig(t, "port: [1"))
	assert.Error(t, err)

	t.Setenv("EDUQUEST_PORT", "many")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))

	good := filepath.Join(dir, "good.env")
	require.NoError(t, os.WriteFile(good, []byte("EDUQUEST_TEST_LOAD_ENV=loaded\n"), 0644))
	t.Setenv("EDUQUEST_TEST_LOAD_ENV", "")
	os.Unsetenv("EDUQUEST_TEST_LOAD_ENV")
	require.NoError(t, LoadEnv(good))
	assert.Equal(t, "loaded", os.Getenv("EDUQUEST_TEST_LOAD_ENV"))

	bad := filepath.Join(dir, "bad.env")
	require.NoError(t, os.WriteFile(bad, []byte("BAD-KEY=1\n"), 0644))
	assert.Error(t, LoadEnv(bad))
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Origin = "http://localhost:3000"
	require.NoError(t, valid.Validate())
	valid.Origin = "https://ktu.example.org/"
	valid.AdminAddr = ""
	require.NoError(t, valid.Validate())

	tests := map[string]func(c *Config){
		"no origin":         func(c *Config) { c.Origin = "" },
		"bad origin":        func(c *Config) { c.Origin = "not a url" },
		"no version":        func(c *Config) { c.Version = "" },
		"slash in version":  func(c *Config) { c.Version = "v/3" },
		"port out of range": func(c *Config) { c.Port = 70000 },
		"relative manifest": func(c *Config) { c.Manifest = []string{"index.html"} },
		"no db":             func(c *Config) { c.DB = "" },
		"origin with path":  func(c *Config) { c.Origin = "http://localhost:3000/app" },
		"bad admin addr":    func(c *Config) { c.AdminAddr = "localhost" },
	}
	for name, modify := range tests {
		t.Run(name, func(t *testing.T) {
			config := valid
			config.Manifest = append([]string(nil), valid.Manifest...)
			modify(&config)
			assert.Error(t, config.Validate())
		})
	}
}
