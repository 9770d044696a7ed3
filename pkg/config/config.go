// Package config loads the per-user configuration file and the global
// sync defaults. It follows the teacher's GetGoneatHome/home-directory
// convention (an app-owned directory under $HOME, overridable by an
// environment variable) and its viper-backed defaults pattern, narrowed
// to this module's configuration surface.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const appDirName = ".agentsync"

// DataDirEnvVar overrides the per-user config's data_dir when set.
const DataDirEnvVar = "AGENTSYNC_DATA_DIR"

// Config is the per-user config.json: stable machine identity plus the
// data directory the engine reads its store registration from.
type Config struct {
	DataDir     string `json:"data_dir"`
	MachineID   string `json:"machine_id"`
	MachineName string `json:"machine_name"`
}

// GetAppHome returns the per-user app directory, honoring AGENTSYNC_HOME.
func GetAppHome() (string, error) {
	if home := os.Getenv("AGENTSYNC_HOME"); home != "" {
		return home, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, appDirName), nil
}

// EnsureAppHome creates the app directory if it doesn't exist.
func EnsureAppHome() (string, error) {
	home, err := GetAppHome()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(home, 0o750); err != nil {
		return "", fmt.Errorf("failed to create app home directory: %w", err)
	}
	return home, nil
}

func configFilePath() (string, error) {
	home, err := EnsureAppHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.json"), nil
}

func defaultDataDir(home string) string {
	return filepath.Join(home, "data")
}

// Load reads the per-user config.json, creating it (or filling in any
// missing field — machine_id, machine_name, data_dir) on first use.
// machine_id is generated once and persisted; machine_name defaults to
// the host name; data_dir defaults under the app home unless
// DataDirEnvVar is set, which always wins over whatever is on disk.
func Load() (*Config, error) {
	path, err := configFilePath()
	if err != nil {
		return nil, err
	}
	home := filepath.Dir(path)

	var c Config
	dirty := false

	data, err := os.ReadFile(path) // #nosec G304 -- fixed, per-user config path
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &c); jsonErr != nil {
			// Corrupt config is treated as an empty document; the next
			// successful write restores it.
			c = Config{}
			dirty = true
		}
	case os.IsNotExist(err):
		dirty = true
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if c.MachineID == "" {
		c.MachineID = uuid.NewString()
		dirty = true
	}
	if c.MachineName == "" {
		name, hostErr := os.Hostname()
		if hostErr != nil {
			name = "unknown-host"
		}
		c.MachineName = name
		dirty = true
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir(home)
		dirty = true
	}
	if env := os.Getenv(DataDirEnvVar); env != "" && env != c.DataDir {
		c.DataDir = env
		dirty = true
	}

	if dirty {
		if err := Save(&c); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Save writes c to config.json with sorted keys, two-space indent, and a
// trailing newline, matching the rest of this module's JSON documents.
func Save(c *Config) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// Defaults are the engine's tunable defaults, loadable from an optional
// YAML config file and AGENTSYNC_-prefixed environment variables via
// viper, the same layered-config idiom the teacher uses for its own
// format/security/schema defaults.
type Defaults struct {
	SizeThresholdBytes int64         `mapstructure:"size_threshold_bytes"`
	CommitDebounce     time.Duration `mapstructure:"commit_debounce"`
	WatchDebounce      time.Duration `mapstructure:"watch_debounce"`
	SuppressionTTL     time.Duration `mapstructure:"suppression_ttl"`
}

// LoadDefaults loads Defaults from (in ascending priority) built-in
// defaults, an agentsync.yaml found in the app home or the current
// directory, and AGENTSYNC_-prefixed environment variables.
func LoadDefaults() (*Defaults, error) {
	v := viper.New()

	v.SetDefault("size_threshold_bytes", int64(500*1024*1024))
	v.SetDefault("commit_debounce", 500*time.Millisecond)
	v.SetDefault("watch_debounce", 300*time.Millisecond)
	v.SetDefault("suppression_ttl", time.Second)

	v.SetConfigName("agentsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := GetAppHome(); err == nil {
		v.AddConfigPath(home)
	}

	v.SetEnvPrefix("AGENTSYNC")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var d Defaults
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("unmarshal defaults: %w", err)
	}
	return &d, nil
}
