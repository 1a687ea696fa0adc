// Package config loads apate's key/value configuration file: one
// "KEY = VALUE" record per line, "// " comments, blank lines ignored, and
// "%NAME%" values substituted from the environment.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cronkit50/apate/internal/apateerr"
	. "github.com/cronkit50/apate/internal/logging"
)

// Recognised keys. Unrecognised keys are retained and typed on access.
const (
	KeyOpenAPIKey     = "OPEN_API_KEY"     // LLM bearer token
	KeyTelegramBotKey = "TELEGRAM_BOT_KEY" // chat-gateway token
)

var envRefPattern = regexp.MustCompile(`^%(\w+)%$`)

// Config is a parsed configuration file: an unordered set of string-valued
// key/value pairs. Every value is stored as a string; Int/String perform the
// type coercion at access time.
type Config struct {
	path   string
	values map[string]string
}

// fileCache caches parsed Config instances by resolved absolute path, so
// repeated Load calls for the same file (e.g. from multiple goroutines at
// startup) don't re-read and re-parse it.
var (
	fileCache     *lru.Cache[string, *Config]
	fileCacheOnce sync.Once
	fileCacheSize = 16
)

func cache() *lru.Cache[string, *Config] {
	fileCacheOnce.Do(func() {
		c, err := lru.New[string, *Config](fileCacheSize)
		if err != nil {
			// Only fails for non-positive size, which fileCacheSize never is.
			panic(fmt.Sprintf("config: failed to create LRU cache: %v", err))
		}
		fileCache = c
	})
	return fileCache
}

// Load reads and parses the config file at path, consulting the per-absolute-
// path LRU cache first. Returns a *ConfigError wrapped error on I/O failure;
// a malformed individual line is warned and skipped, not fatal.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &apateerr.ConfigError{Path: path, Err: err}
	}

	if cfg, ok := cache().Get(abs); ok {
		return cfg, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, &apateerr.ConfigError{Path: abs, Err: err}
	}
	defer f.Close()

	cfg := &Config{path: abs, values: make(map[string]string)}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := cfg.parseLine(scanner.Text()); err != nil {
			L_warn("config: skipping malformed line", "path", abs, "line", lineNo, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &apateerr.ConfigError{Path: abs, Err: err}
	}

	cache().Add(abs, cfg)
	return cfg, nil
}

// parseLine parses one "KEY = VALUE" record, applying comment/blank
// filtering and %NAME% environment substitution. Returns an error (to be
// warned and skipped by the caller) for a line that has content but no '='.
func (c *Config) parseLine(line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "//") {
		return nil
	}

	eq := strings.IndexByte(trimmed, '=')
	if eq < 0 {
		return fmt.Errorf("no '=' in line %q", trimmed)
	}

	key := strings.TrimSpace(trimmed[:eq])
	value := strings.TrimSpace(trimmed[eq+1:])
	if key == "" {
		return fmt.Errorf("empty key in line %q", trimmed)
	}

	if m := envRefPattern.FindStringSubmatch(value); m != nil {
		value = os.Getenv(m[1])
	}

	c.values[key] = value
	return nil
}

// String returns the raw string value for key, and whether it was present.
func (c *Config) String(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// StringOr returns the value for key, or fallback if absent.
func (c *Config) StringOr(key, fallback string) string {
	if v, ok := c.values[key]; ok {
		return v
	}
	return fallback
}

// Int returns the integer value for key. ok is false, with a zero value, if
// the key is absent or its value doesn't parse as an integer; the raw string
// stays available through String.
func (c *Config) Int(key string) (int, bool) {
	v, ok := c.values[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IntOr returns the integer value for key, or fallback if absent/unparseable.
func (c *Config) IntOr(key string, fallback int) int {
	if n, ok := c.Int(key); ok {
		return n
	}
	return fallback
}

// Path returns the absolute path this config was loaded from.
func (c *Config) Path() string { return c.path }
