// internal/config/config.go
//
// This package handles configuration and the .datastation directory structure.
// The project root (where .dsproj files live) gets a .datastation/ folder that
// holds logs, the secret key and config.yaml.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DataDir is the name of the directory we create in the project root
	DataDir = ".datastation"

	// ProjectExtension is appended to project ids that do not carry one.
	ProjectExtension = "dsproj"

	defaultStdoutMaxSize = 5000
	defaultSyncPeriod    = 3 * time.Second
	defaultRetention     = 7 * 24 * time.Hour
	defaultServerHost    = "127.0.0.1"
	defaultServerPort    = 8777
)

const defaultSettingsYAML = `# datastation configuration
version: 1

# Maximum bytes of combined stdout/stderr kept from a program panel.
stdout_max_size: 5000

# Delay before a project update is written to disk.
sync_period: 3s

# Kill program panels that run longer than this. 0 disables the limit.
program_timeout: 0s

results:
  # Result files older than this are removed when their project is loaded.
  retention: 168h

# Interpreter overrides for program panels.
languages:
  python:
    path: ""
  node:
    path: ""

server:
  host: 127.0.0.1
  port: 8777
`

// LanguageSettings overrides how a program language is executed.
type LanguageSettings struct {
	Path string `yaml:"path,omitempty"`
}

// ResultSettings controls result file housekeeping.
type ResultSettings struct {
	Retention time.Duration `yaml:"retention"`
}

// ServerSettings configures the RPC HTTP listener.
type ServerSettings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SecretSettings locates the encryption key.
type SecretSettings struct {
	KeyFile string `yaml:"key_file,omitempty"`
}

// Settings models .datastation/config.yaml.
type Settings struct {
	Version        int                         `yaml:"version"`
	StdoutMaxSize  int                         `yaml:"stdout_max_size"`
	SyncPeriod     time.Duration               `yaml:"sync_period"`
	ProgramTimeout time.Duration               `yaml:"program_timeout"`
	Results        ResultSettings              `yaml:"results"`
	Languages      map[string]LanguageSettings `yaml:"languages"`
	Server         ServerSettings              `yaml:"server"`
	Secrets        SecretSettings              `yaml:"secrets"`
}

// Config holds the runtime configuration for datastation.
type Config struct {
	// Root is the directory that stores project files and their result files
	Root string

	// DataDir is Root/.datastation
	DataDir string

	Settings Settings
}

// DefaultRoot returns $HOME/DataStationProjects, or DATASTATION_ROOT when set.
func DefaultRoot() (string, error) {
	if root := strings.TrimSpace(os.Getenv("DATASTATION_ROOT")); root != "" {
		return filepath.Abs(root)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, "DataStationProjects"), nil
}

// InitDataDir creates the .datastation directory structure under root.
//
// Structure created:
// <root>/
// ├── *.dsproj          <- project documents
// ├── .<name>.results*  <- per-panel result files
// └── .datastation/
//
//	├── logs/
//	├── secret.key
//	└── config.yaml
func InitDataDir(root string) error {
	dataDir := filepath.Join(root, DataDir)
	if err := os.MkdirAll(filepath.Join(dataDir, "logs"), 0o755); err != nil {
		return err
	}
	return ensureSettingsFile(filepath.Join(dataDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with settings from root.
func NewConfig(root string) (*Config, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("config: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("config: resolve root: %w", err)
	}
	cfg := &Config{
		Root:     abs,
		DataDir:  filepath.Join(abs, DataDir),
		Settings: defaultSettings(),
	}
	if err := cfg.loadSettings(); err != nil {
		return nil, err
	}
	cfg.Settings.applyEnvOverrides()
	if err := cfg.Settings.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// SettingsPath returns the on-disk location for the settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// SecretKeyPath returns the path of the symmetric key used for secret fields.
func (c *Config) SecretKeyPath() string {
	if path := c.Settings.Secrets.KeyFile; path != "" {
		return path
	}
	return filepath.Join(c.DataDir, "secret.key")
}

// LanguagePath returns the user configured interpreter for a language, or "".
func (c *Config) LanguagePath(language string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Settings.Languages[normalizeKey(language)].Path)
}

// ServerAddress returns host:port for the RPC listener.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Settings.Server.Host, c.Settings.Server.Port)
}

func (c *Config) loadSettings() error {
	path := c.SettingsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultSettings()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.Root)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Settings = parsed
	return nil
}

func defaultSettings() Settings {
	return Settings{
		Version:       1,
		StdoutMaxSize: defaultStdoutMaxSize,
		SyncPeriod:    defaultSyncPeriod,
		Results:       ResultSettings{Retention: defaultRetention},
		Languages:     map[string]LanguageSettings{},
		Server:        ServerSettings{Host: defaultServerHost, Port: defaultServerPort},
	}
}

func (s *Settings) applyDefaults() {
	if s.Version == 0 {
		s.Version = 1
	}
	if s.StdoutMaxSize <= 0 {
		s.StdoutMaxSize = defaultStdoutMaxSize
	}
	if s.SyncPeriod <= 0 {
		s.SyncPeriod = defaultSyncPeriod
	}
	if s.Results.Retention <= 0 {
		s.Results.Retention = defaultRetention
	}
	if s.Languages == nil {
		s.Languages = map[string]LanguageSettings{}
	}
	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = defaultServerHost
	}
	if s.Server.Port == 0 {
		s.Server.Port = defaultServerPort
	}
}

func (s *Settings) normalize(base string) {
	languages := make(map[string]LanguageSettings, len(s.Languages))
	for id, lang := range s.Languages {
		lang.Path = strings.TrimSpace(lang.Path)
		languages[normalizeKey(id)] = lang
	}
	s.Languages = languages
	s.Server.Host = strings.TrimSpace(s.Server.Host)
	s.Secrets.KeyFile = resolvePath(base, s.Secrets.KeyFile)
}

func (s *Settings) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if s.ProgramTimeout < 0 {
		return fmt.Errorf("program_timeout must be >= 0")
	}
	if !isValidPort(s.Server.Port) {
		return fmt.Errorf("server.port %d is out of range", s.Server.Port)
	}
	return nil
}

func (s *Settings) applyEnvOverrides() {
	if host := strings.TrimSpace(os.Getenv("DATASTATION_SERVER_HOST")); host != "" {
		s.Server.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("DATASTATION_SERVER_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			s.Server.Port = parsed
		}
	}
	if size := strings.TrimSpace(os.Getenv("DATASTATION_STDOUT_MAX_SIZE")); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil && parsed > 0 {
			s.StdoutMaxSize = parsed
		}
	}
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, "DATASTATION_") || !strings.HasSuffix(key, "_PATH") {
			continue
		}
		lang := strings.TrimSuffix(strings.TrimPrefix(key, "DATASTATION_"), "_PATH")
		if lang == "" || strings.TrimSpace(value) == "" {
			continue
		}
		s.Languages[normalizeKey(lang)] = LanguageSettings{Path: strings.TrimSpace(value)}
	}
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureSettingsFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultSettingsYAML), 0o644)
}
