package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/asar"
	"github.com/meigma/asar/core/testutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".asar", cfg.Extension)
	assert.Equal(t, 32, cfg.MaxLinkHops)
	assert.Equal(t, "file", cfg.Integrity.Scope)
}

func TestDecodeJSONC(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.decode([]byte(`{
		// read-only deployment
		"verify_integrity": true,
		"integrity": {"manifest": "/etc/app/integrity.json", "scope": "header"},
		"cache": {"dir": "/var/cache/app", "max_bytes": 1048576},
	}`), ".jsonc")
	require.NoError(t, err)
	assert.True(t, cfg.VerifyIntegrity)
	assert.Equal(t, "/etc/app/integrity.json", cfg.Integrity.Manifest)
	assert.Equal(t, "header", cfg.Integrity.Scope)
	assert.Equal(t, int64(1<<20), cfg.Cache.MaxBytes)
	// Unset fields keep their defaults.
	assert.Equal(t, 32, cfg.MaxLinkHops)

	err = Default().decode([]byte(`{"verify": true}`), ".json")
	assert.Error(t, err)
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.decode([]byte("sniff: true\nmax_link_hops: 8\nlog:\n  level: debug\n  format: json\n"), ".yml")
	require.NoError(t, err)
	assert.True(t, cfg.Sniff)
	assert.Equal(t, 8, cfg.MaxLinkHops)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvDisabled: "true",
		EnvManifest: "/m.json",
		EnvCacheDir: "/c",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.True(t, cfg.Disabled)
	assert.Equal(t, "/m.json", cfg.Integrity.Manifest)
	assert.Equal(t, "/c", cfg.Cache.Dir)

	err := Default().ApplyEnv(func(k string) (string, bool) {
		if k == EnvDisabled {
			return "maybe", true
		}
		return "", false
	})
	assert.Error(t, err)

	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"hops", func(c *Config) { c.MaxLinkHops = 0 }},
		{"scope", func(c *Config) { c.Integrity.Scope = "blocks" }},
		{"signature without keyring", func(c *Config) { c.Integrity.Signature = "sig.asc" }},
		{"keyring without signature", func(c *Config) { c.Integrity.Keyring = "trusted.gpg" }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestVerifierRefusesUnsignedManifestWithKeyring(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Integrity.Manifest = writeFile(t, "integrity.json", `{}`)
	cfg.Integrity.Keyring = filepath.Join(t.TempDir(), "trusted.gpg")

	require.Error(t, cfg.Validate())
	v, err := cfg.Verifier(nil)
	assert.Error(t, err)
	assert.Nil(t, v)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "asar.yaml", "extension: .pak\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ".pak", cfg.Extension)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFSOptions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := testutil.NewBuilder().File("a.txt", "alpha").Bytes()
	archive := filepath.Join(dir, "resources", "app.asar")
	require.NoError(t, os.MkdirAll(filepath.Dir(archive), 0o755))
	require.NoError(t, os.WriteFile(archive, data, 0o644))

	sum := sha256.Sum256(data)
	manifest := writeFile(t, "integrity.txt", "resources/app.asar\nSHA256\n"+hex.EncodeToString(sum[:])+"\n")

	cfg := Default()
	cfg.Integrity.Manifest = manifest
	cfg.Integrity.IdentityRoot = dir
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.VerifyIntegrity = true

	opts, err := cfg.FSOptions(slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	fsys, err := asar.New(opts...)
	require.NoError(t, err)
	defer fsys.Close()

	content, err := fsys.ReadFile(filepath.Join(archive, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(content))
	assert.True(t, fsys.IsArchiveTrusted(archive))

	out, err := fsys.CopyFileOut(filepath.Join(archive, "a.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, cfg.Cache.Dir))

	cfg.Integrity.Manifest = filepath.Join(dir, "missing.json")
	_, err = cfg.FSOptions(nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := LogConfig{Level: "info", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = LogConfig{Level: "nope"}.NewLogger(&buf)
	assert.Error(t, err)
}
