// Package config builds the supervisor configuration.
//
// Layers, later wins: built-in defaults, a config file (hot-keeper.json or
// hot-keeper.yaml in the working directory, or an explicit path), .env via
// godotenv and HOT_KEEPER_* variables via go-simpler/env struct tags, then
// command-line overrides. Validate rejects anything that cannot start.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"

	"github.com/yakovlev-alexey/hot-keeper/internal/pathset"
	hkerrors "github.com/yakovlev-alexey/hot-keeper/internal/platform/errors"
)

// DefaultFiles are looked up in the working directory when no config path
// is given.
var DefaultFiles = []string{"hot-keeper.json", "hot-keeper.yaml", "hot-keeper.yml"}

type Certs struct {
	Cert string `yaml:"cert" json:"cert"`
	Key  string `yaml:"key" json:"key"`
}

type Config struct {
	EntryPath string `yaml:"-" json:"entry"`
	BaseDir   string `yaml:"-" json:"-"`

	Secure       bool     `yaml:"secure" json:"secure"`
	Port         int      `yaml:"port" json:"port"`
	// Watch and ExcludeWatch are decoded by decodeFile, which also accepts
	// a single string.
	Watch        []string `yaml:"-" json:"watch"`
	ExcludeWatch []string `yaml:"-" json:"excludeWatch"`
	Certs        Certs    `yaml:"certs" json:"certs"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	CleanupTimeout  time.Duration `yaml:"cleanupTimeout" json:"cleanupTimeout"`
	StartTimeout    time.Duration `yaml:"startTimeout" json:"startTimeout"`
	Debounce        time.Duration `yaml:"debounce" json:"debounce"`

	AdminPort int    `yaml:"adminPort" json:"adminPort"`
	LogLevel  string `yaml:"logLevel" json:"logLevel"`
	LogFormat string `yaml:"logFormat" json:"logFormat"`
	WorkDir   string `yaml:"workDir" json:"workDir"`
	GoBinary  string `yaml:"goBinary" json:"goBinary"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            3000,
		Watch:           []string{"./"},
		ExcludeWatch:    []string{"node_modules", ".git"},
		ShutdownTimeout: 15 * time.Second,
		CleanupTimeout:  5 * time.Second,
		StartTimeout:    10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		GoBinary:        "go",
	}
}

// envVars are the HOT_KEEPER_* overrides. Numbers and booleans are read as
// strings so an unset variable can be told apart from a zero value.
type envVars struct {
	Port         string        `env:"HOT_KEEPER_PORT"`
	Secure       string        `env:"HOT_KEEPER_SECURE"`
	Watch        []string      `env:"HOT_KEEPER_WATCH"`
	ExcludeWatch []string      `env:"HOT_KEEPER_EXCLUDE_WATCH"`
	Cert         string        `env:"HOT_KEEPER_CERT"`
	Key          string        `env:"HOT_KEEPER_KEY"`
	AdminPort    string        `env:"HOT_KEEPER_ADMIN_PORT"`
	Debounce     time.Duration `env:"HOT_KEEPER_DEBOUNCE"`
	LogLevel     string        `env:"HOT_KEEPER_LOG_LEVEL"`
	LogFormat    string        `env:"HOT_KEEPER_LOG_FORMAT"`
	WorkDir      string        `env:"HOT_KEEPER_WORK_DIR"`
	GoBinary     string        `env:"HOT_KEEPER_GO"`
}

// Overrides carries command-line values. Nil or empty means "not given".
type Overrides struct {
	Port         *int
	Secure       *bool
	Watch        []string
	ExcludeWatch []string
	Cert         *string
	Key          *string
	AdminPort    *int
	Debounce     *time.Duration
	LogLevel     *string
	LogFormat    *string
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	EntryPath  string
	ConfigPath string
	// BaseDir defaults to the working directory.
	BaseDir   string
	Overrides Overrides
}

// Load builds and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	baseDir := opts.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		baseDir = wd
	}

	if err := godotenv.Load(filepath.Join(baseDir, ".env")); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg := Default()
	cfg.BaseDir = baseDir

	if err := loadFile(cfg, baseDir, opts.ConfigPath); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyOverrides(cfg, opts.Overrides)

	if opts.EntryPath != "" {
		cfg.EntryPath = pathset.Abs(baseDir, opts.EntryPath)
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "hot-keeper")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, baseDir, explicit string) error {
	if explicit != "" {
		path := pathset.Abs(baseDir, explicit)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Config file not found, using defaults and CLI options", "path", path)
			return nil
		}
		if err != nil {
			return hkerrors.ConfigInvalid("read config file").WithContext("path", path).WithContext("cause", err.Error())
		}
		if err := decodeFile(data, cfg); err != nil {
			return hkerrors.ConfigInvalid(fmt.Sprintf("parse config file %s: %v", path, err))
		}
		return nil
	}

	for _, name := range DefaultFiles {
		path := filepath.Join(baseDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := decodeFile(data, cfg); err != nil {
			slog.Warn("Error loading default config file, using defaults and CLI options", "path", path, "error", err)
			return nil
		}
		slog.Debug("Loaded default config file", "path", path)
		return nil
	}
	return nil
}

// stringList decodes from a YAML sequence or a single scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		*l = ss
		return nil
	default:
		return fmt.Errorf("line %d: expected a path or a list of paths", value.Line)
	}
}

type fileLists struct {
	Watch        *stringList `yaml:"watch"`
	ExcludeWatch *stringList `yaml:"excludeWatch"`
}

// decodeFile applies data to cfg only if all of it decodes.
func decodeFile(data []byte, cfg *Config) error {
	next := *cfg
	if err := yaml.Unmarshal(data, &next); err != nil {
		return err
	}

	var lists fileLists
	if err := yaml.Unmarshal(data, &lists); err != nil {
		return err
	}
	if lists.Watch != nil {
		next.Watch = []string(*lists.Watch)
	}
	if lists.ExcludeWatch != nil {
		next.ExcludeWatch = []string(*lists.ExcludeWatch)
	}

	*cfg = next
	return nil
}

func applyEnv(cfg *Config) error {
	var ev envVars
	if err := env.Load(&ev, &env.Options{SliceSep: ","}); err != nil {
		return hkerrors.ConfigInvalid(fmt.Sprintf("failed to load environment variables: %v", err))
	}

	if ev.Port != "" {
		port, err := strconv.Atoi(ev.Port)
		if err != nil {
			return hkerrors.ConfigInvalid("HOT_KEEPER_PORT must be a number")
		}
		cfg.Port = port
	}
	if ev.Secure != "" {
		secure, err := strconv.ParseBool(ev.Secure)
		if err != nil {
			return hkerrors.ConfigInvalid("HOT_KEEPER_SECURE must be a boolean")
		}
		cfg.Secure = secure
	}
	if ev.AdminPort != "" {
		port, err := strconv.Atoi(ev.AdminPort)
		if err != nil {
			return hkerrors.ConfigInvalid("HOT_KEEPER_ADMIN_PORT must be a number")
		}
		cfg.AdminPort = port
	}
	if len(ev.Watch) > 0 {
		cfg.Watch = ev.Watch
	}
	if len(ev.ExcludeWatch) > 0 {
		cfg.ExcludeWatch = ev.ExcludeWatch
	}
	if ev.Debounce > 0 {
		cfg.Debounce = ev.Debounce
	}
	setString(&cfg.Certs.Cert, ev.Cert)
	setString(&cfg.Certs.Key, ev.Key)
	setString(&cfg.LogLevel, ev.LogLevel)
	setString(&cfg.LogFormat, ev.LogFormat)
	setString(&cfg.WorkDir, ev.WorkDir)
	setString(&cfg.GoBinary, ev.GoBinary)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.Secure != nil {
		cfg.Secure = *o.Secure
	}
	if len(o.Watch) > 0 {
		cfg.Watch = o.Watch
	}
	if len(o.ExcludeWatch) > 0 {
		cfg.ExcludeWatch = o.ExcludeWatch
	}
	if o.Cert != nil {
		cfg.Certs.Cert = *o.Cert
	}
	if o.Key != nil {
		cfg.Certs.Key = *o.Key
	}
	if o.AdminPort != nil {
		cfg.AdminPort = *o.AdminPort
	}
	if o.Debounce != nil {
		cfg.Debounce = *o.Debounce
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.LogFormat = *o.LogFormat
	}
}

// Validate returns a config_invalid error for the first problem found.
func Validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return hkerrors.ConfigInvalid(fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port))
	}
	if cfg.AdminPort < 0 || cfg.AdminPort > 65535 {
		return hkerrors.ConfigInvalid(fmt.Sprintf("admin port must be between 0 and 65535, got %d", cfg.AdminPort))
	}
	if cfg.AdminPort != 0 && cfg.AdminPort == cfg.Port {
		return hkerrors.ConfigInvalid("admin port must differ from the application port")
	}
	if len(cfg.Watch) == 0 {
		return hkerrors.ConfigInvalid("at least one watch path is required")
	}
	if cfg.Secure && (cfg.Certs.Cert == "" || cfg.Certs.Key == "") {
		return hkerrors.ConfigInvalid("HTTPS requires both cert and key files")
	}
	if cfg.ShutdownTimeout <= 0 || cfg.CleanupTimeout <= 0 || cfg.StartTimeout <= 0 {
		return hkerrors.ConfigInvalid("shutdown, cleanup and start timeouts must be positive")
	}
	if cfg.Debounce < 0 {
		return hkerrors.ConfigInvalid("debounce must not be negative")
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return hkerrors.ConfigInvalid(fmt.Sprintf("log format must be text or json, got %q", cfg.LogFormat))
	}

	if cfg.EntryPath == "" {
		return hkerrors.ConfigInvalid("entry path is required")
	}
	if _, err := os.Stat(cfg.EntryPath); err != nil {
		return hkerrors.ConfigInvalid(fmt.Sprintf("entry file not found: %s", cfg.EntryPath))
	}

	set, err := cfg.PathSet()
	if err != nil {
		return err
	}
	if !set.Covers(cfg.EntryPath) {
		return hkerrors.ConfigInvalid(fmt.Sprintf("entry %s is not under any watch path or is excluded, it would never reload", cfg.EntryPath))
	}
	return nil
}

// PathSet resolves the watch and exclude paths against BaseDir.
func (c *Config) PathSet() (pathset.Set, error) {
	set, err := pathset.Resolve(c.BaseDir, c.Watch, c.ExcludeWatch)
	if err != nil {
		return pathset.Set{}, fmt.Errorf("resolve watch paths: %w", err)
	}
	return set, nil
}

// CertPaths returns the certificate and key paths resolved against BaseDir.
func (c *Config) CertPaths() (cert, key string) {
	return pathset.Abs(c.BaseDir, c.Certs.Cert), pathset.Abs(c.BaseDir, c.Certs.Key)
}
