package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dt-pm-tools/jira-sync/internal/tracker"
)

// Config holds connection settings for both trackers plus sync and log
// options.
type Config struct {
	Jira   JiraConfig   `yaml:"jira"   mapstructure:"jira"`
	Linear LinearConfig `yaml:"linear" mapstructure:"linear"`
	Sync   SyncConfig   `yaml:"sync"   mapstructure:"sync"`
	Log    LogConfig    `yaml:"log"    mapstructure:"log"`
}

// JiraConfig holds Jira Cloud connection settings.
type JiraConfig struct {
	URL     string `yaml:"url"     mapstructure:"url"`
	Email   string `yaml:"email"   mapstructure:"email"`
	Token   string `yaml:"token"   mapstructure:"token"`
	Project string `yaml:"project" mapstructure:"project"`

	// TimeZone is the zone JQL date literals are interpreted in; it must
	// match the API user's profile setting.
	TimeZone string        `yaml:"timezone" mapstructure:"timezone"`
	Timeout  time.Duration `yaml:"timeout"  mapstructure:"timeout"`
}

// LinearConfig holds Linear connection settings.
type LinearConfig struct {
	URL     string        `yaml:"url"     mapstructure:"url"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Team    string        `yaml:"team"    mapstructure:"team"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SyncConfig controls the engine.
type SyncConfig struct {
	StateDir     string        `yaml:"state_dir"     mapstructure:"state_dir"`
	Concurrency  int           `yaml:"concurrency"   mapstructure:"concurrency"`
	StaleAttempt time.Duration `yaml:"stale_attempt" mapstructure:"stale_attempt"`

	// AutomationEmails are accounts whose comments are never mirrored.
	AutomationEmails []string `yaml:"automation_emails" mapstructure:"automation_emails"`

	// RelationTypes overrides the Linear→Jira relation type synonyms.
	RelationTypes map[string]string `yaml:"relation_types" mapstructure:"relation_types"`

	States StatesConfig `yaml:"states" mapstructure:"states"`
}

// StatesConfig overrides the default state mapping.
type StatesConfig struct {
	Forward []tracker.StateRule   `yaml:"forward" mapstructure:"forward"`
	Reverse []tracker.ReverseRule `yaml:"reverse" mapstructure:"reverse"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level      string `yaml:"level"       mapstructure:"level"`
	Format     string `yaml:"format"      mapstructure:"format"`
	File       string `yaml:"file"        mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// DefaultPath returns the default config file path (~/.jira-sync.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jira-sync.yaml"
	}
	return filepath.Join(home, ".jira-sync.yaml")
}

// DefaultStateDir returns the default checkpoint directory.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jira-sync"
	}
	return filepath.Join(home, ".jira-sync")
}

// Load reads config from the YAML file and applies env var overrides.
// configPath may be empty to use the default path.
func Load(configPath string) (Config, error) {
	v := viper.New()

	if configPath == "" {
		configPath = DefaultPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("jira.timezone", "UTC")
	v.SetDefault("jira.timeout", 30*time.Second)
	v.SetDefault("linear.url", "https://api.linear.app/graphql")
	v.SetDefault("linear.timeout", 30*time.Second)
	v.SetDefault("sync.state_dir", DefaultStateDir())
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.stale_attempt", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	// Env var overrides
	v.BindEnv("jira.url", "JIRA_URL")
	v.BindEnv("jira.email", "JIRA_EMAIL")
	v.BindEnv("jira.token", "JIRA_TOKEN")
	v.BindEnv("jira.project", "JIRA_PROJECT")
	v.BindEnv("linear.api_key", "LINEAR_API_KEY")
	v.BindEnv("linear.team", "LINEAR_TEAM")
	v.BindEnv("sync.state_dir", "JIRA_SYNC_STATE_DIR")

	// Read the config file (ignore "not found" errors so env vars still work)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required fields are present and that the state
// mapping overrides are invertible.
func (c Config) Validate() error {
	if c.Jira.URL == "" {
		return fmt.Errorf("JIRA URL is required (set jira.url in config file or JIRA_URL env var)")
	}
	if c.Jira.Email == "" {
		return fmt.Errorf("JIRA email is required (set jira.email in config file or JIRA_EMAIL env var)")
	}
	if c.Jira.Token == "" {
		return fmt.Errorf("JIRA token is required (set jira.token in config file or JIRA_TOKEN env var)")
	}
	if c.Jira.Project == "" {
		return fmt.Errorf("JIRA project is required (set jira.project in config file or JIRA_PROJECT env var)")
	}
	if c.Linear.APIKey == "" {
		return fmt.Errorf("Linear API key is required (set linear.api_key in config file or LINEAR_API_KEY env var)")
	}
	if c.Linear.Team == "" {
		return fmt.Errorf("Linear team is required (set linear.team in config file or LINEAR_TEAM env var)")
	}
	if c.Sync.StateDir == "" {
		return fmt.Errorf("state directory is required (set sync.state_dir or JIRA_SYNC_STATE_DIR env var)")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if _, err := time.LoadLocation(c.Jira.TimeZone); err != nil {
		return fmt.Errorf("jira.timezone %q: %w", c.Jira.TimeZone, err)
	}
	if _, err := c.StateMap(); err != nil {
		return err
	}
	return nil
}

// StateMap builds the state mapping from the defaults plus overrides.
func (c Config) StateMap() (*tracker.StateMap, error) {
	m, err := tracker.NewStateMap(c.Sync.States.Forward, c.Sync.States.Reverse)
	if err != nil {
		return nil, fmt.Errorf("sync.states: %w", err)
	}
	return m, nil
}

// Save writes the config to the given path (or default path if empty).
func Save(cfg Config, configPath string) error {
	if configPath == "" {
		configPath = DefaultPath()
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
