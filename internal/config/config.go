// Package config loads settings for the asar command and hosts embedding
// the asar filesystem.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// or JSONC file, ASAR_* environment variables, and command-line flags
// (applied by the caller).
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/meigma/asar"
	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/integrity"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvDisabled = "ASAR_DISABLED"
	EnvManifest = "ASAR_MANIFEST"
	EnvCacheDir = "ASAR_CACHE_DIR"
)

// Config is the complete configuration.
type Config struct {
	// Disabled treats every path as plain, like running without container
	// support.
	Disabled bool `yaml:"disabled" json:"disabled"`

	// Extension marks container files. Default: .asar
	Extension string `yaml:"extension" json:"extension"`

	// Sniff also detects containers by content.
	Sniff bool `yaml:"sniff" json:"sniff"`

	// VerifyIntegrity checks embedded block digests on every read.
	VerifyIntegrity bool `yaml:"verify_integrity" json:"verify_integrity"`

	// MaxLinkHops bounds link resolution. Default: 32
	MaxLinkHops int `yaml:"max_link_hops" json:"max_link_hops"`

	// MaxHeaderSize bounds container headers in bytes. Zero uses the
	// library default.
	MaxHeaderSize uint64 `yaml:"max_header_size" json:"max_header_size"`

	Integrity IntegrityConfig `yaml:"integrity" json:"integrity"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// IntegrityConfig configures manifest verification.
type IntegrityConfig struct {
	// Manifest is the path of the integrity manifest. Empty disables
	// verification; every archive is then untrusted.
	Manifest string `yaml:"manifest" json:"manifest"`

	// Signature is a detached OpenPGP signature over the manifest file.
	Signature string `yaml:"signature" json:"signature"`

	// Keyring holds the keys trusted to sign the manifest. Required when
	// Signature is set.
	Keyring string `yaml:"keyring" json:"keyring"`

	// Scope is "file" or "header". Default: file
	Scope string `yaml:"scope" json:"scope"`

	// IdentityRoot names archives by their path relative to this
	// directory instead of by base name.
	IdentityRoot string `yaml:"identity_root" json:"identity_root"`
}

// CacheConfig configures the copy-out cache.
type CacheConfig struct {
	// Dir is the cache directory. Empty disables copy-out.
	Dir string `yaml:"dir" json:"dir"`

	// MaxBytes limits the cache size. Zero uses the library default,
	// negative values disable the limit.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: warn
	Level string `yaml:"level" json:"level"`

	// Format is text or json. Default: text
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Extension:   asar.DefaultExtension,
		MaxLinkHops: asarcore.DefaultMaxLinkHops,
		Integrity: IntegrityConfig{
			Scope: integrity.ScopeFile.String(),
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the file at path (skipped
// when path is empty) and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the file at path into c. Files ending in .yaml or .yml
// are YAML; everything else is JSON with comments and trailing commas
// allowed.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := c.decode(data, filepath.Ext(path)); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) decode(data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	return dec.Decode(c)
}

// ApplyEnv overrides settings from environment variables read through
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDisabled); ok && v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDisabled, err)
		}
		c.Disabled = disabled
	}
	if v, ok := lookup(EnvManifest); ok && v != "" {
		c.Integrity.Manifest = v
	}
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.Cache.Dir = v
	}
	return nil
}

// Validate checks values that would otherwise fail later.
func (c *Config) Validate() error {
	if c.MaxLinkHops < 1 {
		return fmt.Errorf("max_link_hops must be positive, got %d", c.MaxLinkHops)
	}
	if _, err := integrity.ParseScope(c.Integrity.Scope); err != nil {
		return err
	}
	if c.Integrity.Signature != "" && c.Integrity.Keyring == "" {
		return errors.New("integrity.signature requires integrity.keyring")
	}
	if c.Integrity.Keyring != "" && c.Integrity.Signature == "" {
		return errors.New("integrity.keyring requires integrity.signature")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Verifier loads the manifest and returns a verifier for it. It returns
// nil without error when no manifest is configured.
func (c *Config) Verifier(logger *slog.Logger) (*integrity.Verifier, error) {
	if c.Integrity.Manifest == "" {
		return nil, nil
	}
	var loadOpts []integrity.LoadOption
	if c.Integrity.Signature != "" || c.Integrity.Keyring != "" {
		sig, err := os.ReadFile(c.Integrity.Signature) //nolint:gosec // User-provided path is intentional
		if err != nil {
			return nil, fmt.Errorf("read signature: %w", err)
		}
		keyring, err := integrity.LoadKeyRing(c.Integrity.Keyring)
		if err != nil {
			return nil, err
		}
		loadOpts = append(loadOpts, integrity.WithSignature(sig, keyring))
	}
	manifest, err := integrity.LoadManifest(c.Integrity.Manifest, loadOpts...)
	if err != nil {
		return nil, err
	}
	scope, err := integrity.ParseScope(c.Integrity.Scope)
	if err != nil {
		return nil, err
	}
	return integrity.NewVerifier(manifest, integrity.WithScope(scope), integrity.WithLogger(logger)), nil
}

// FSOptions translates the configuration into filesystem options.
func (c *Config) FSOptions(logger *slog.Logger) ([]asar.Option, error) {
	opts := []asar.Option{
		asar.WithLogger(logger),
		asar.WithDisabled(c.Disabled),
		asar.WithSniff(c.Sniff),
		asar.WithVerifyIntegrity(c.VerifyIntegrity),
		asar.WithMaxLinkHops(c.MaxLinkHops),
	}
	if c.Extension != "" {
		opts = append(opts, asar.WithExtension(c.Extension))
	}
	if c.MaxHeaderSize > 0 {
		opts = append(opts, asar.WithArchiveOptions(asarcore.WithMaxHeaderSize(c.MaxHeaderSize)))
	}
	if c.Cache.Dir != "" {
		opts = append(opts, asar.WithCacheDir(c.Cache.Dir, c.Cache.MaxBytes))
	}
	if c.Integrity.IdentityRoot != "" {
		opts = append(opts, asar.WithIdentity(asar.RelativeIdentity(c.Integrity.IdentityRoot)))
	}
	verifier, err := c.Verifier(logger)
	if err != nil {
		return nil, err
	}
	if verifier != nil {
		opts = append(opts, asar.WithVerifier(verifier))
	}
	return opts, nil
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// NewLogger builds a logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}
