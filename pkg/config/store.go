package config

import "fmt"

// StoreConfig configures the embedded vector store.
type StoreConfig struct {
	// Path to the SQLite database file. ":memory:" keeps the index in RAM.
	Path string `yaml:"path" mapstructure:"path"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "nestor-index.db"
	}
}

func (c *StoreConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// RepositoryConfig points at the on-disk automation repository that the code
// index mirrors.
type RepositoryConfig struct {
	// Path to the repository root. Automations live at the root as *.star,
	// library modules under lib/ as *.lib.star.
	Path string `yaml:"path" mapstructure:"path"`

	// Watch enables the fsnotify watcher that re-syncs the index on changes.
	Watch bool `yaml:"watch" mapstructure:"watch"`

	// DebounceMillis collapses bursts of file events into one sync.
	DebounceMillis int `yaml:"debounce_millis" mapstructure:"debounce_millis"`
}

func (c *RepositoryConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "automations"
	}
	if c.DebounceMillis == 0 {
		c.DebounceMillis = 500
	}
}

func (c *RepositoryConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}
