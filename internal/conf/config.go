// config.go: settings struct and loading for the QA review service.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for service log files
type LogConfig struct {
	Enabled    bool   // true to enable per-service log files
	Path       string // directory for log files
	MaxSizeMB  int    // rotate when a log file exceeds this size
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
}

// MainSettings contains general application settings
type MainSettings struct {
	Name string    // name of this node, used e.g. in log identifiers
	Log  LogConfig // log file settings
}

// SQLiteSettings contains settings for the SQLite store backend
type SQLiteSettings struct {
	Enabled bool
	Path    string // path to the sqlite database file
}

// MySQLSettings contains settings for the MySQL store backend
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// StoreSettings selects and configures the approval record store backend.
// When neither backend is enabled the in-memory reference store is used.
type StoreSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// BusSettings configures the internal event channel.
type BusSettings struct {
	BufferSize     int           // per-queue buffer size
	Workers        int           // workers per queue
	MaxAttempts    int           // delivery attempts before dead-lettering
	BackoffInitial time.Duration // first redelivery delay
	BackoffMax     time.Duration // redelivery delay cap
}

// BrokerSettings configures the optional external MQTT bridge that
// republishes quality-assured events for out-of-process consumers.
type BrokerSettings struct {
	Enabled           bool
	URL               string // MQTT broker URL, e.g. tcp://localhost:1883
	ClientID          string
	Username          string
	Password          string
	TopicPrefix       string // external topic prefix, e.g. "esg/qa"
	Retain            bool
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	ReconnectDelay    time.Duration
}

// WebServerSettings configures the HTTP query/command surface.
type WebServerSettings struct {
	Enabled bool
	Port    string
	Debug   bool
}

// ReviewSettings tunes the review engine.
type ReviewSettings struct {
	ConflictRetries int           // merge retries on optimistic version conflicts
	PendingCacheTTL time.Duration // cache TTL for the pending review listing
}

// Settings contains all configuration options for the QA review service.
type Settings struct {
	Debug bool // true to enable debug logging

	Main      MainSettings
	Store     StoreSettings
	Bus       BusSettings
	Broker    BrokerSettings
	WebServer WebServerSettings
	Review    ReviewSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the global settings instance.
func Load() (*Settings, error) {
	settings := &Settings{}

	// Initialize viper and read settings
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal directly into the settings struct
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling settings: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}
	viper.SetConfigName("config")

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file found, create one from the embedded default.
		configPath, createErr := createDefaultConfig(configPaths)
		if createErr != nil {
			return createErr
		}
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading created config file: %w", err)
		}
	}

	return nil
}

// createDefaultConfig writes the embedded default configuration to the first
// config path and returns the path of the created file.
func createDefaultConfig(configPaths []string) (string, error) {
	if len(configPaths) == 0 {
		return "", fmt.Errorf("no config paths available")
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}

	defaultConfig, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return "", fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return "", fmt.Errorf("error writing default config file: %w", err)
	}

	return configPath, nil
}

// DumpYAML renders the effective settings as YAML, with credentials
// masked. Used by the --dump-config flag.
func DumpYAML(settings *Settings) (string, error) {
	masked := *settings
	if masked.Store.MySQL.Password != "" {
		masked.Store.MySQL.Password = "********"
	}
	if masked.Broker.Password != "" {
		masked.Broker.Password = "********"
	}

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("error marshaling settings: %w", err)
	}
	return string(out), nil
}

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the directories searched for a config file:
// the current directory, then $HOME/.config/qagate.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "qagate"))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no usable config paths")
	}
	return paths, nil
}
