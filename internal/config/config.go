package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the gateway's config.toml.
type Config struct {
	// ComponentDomain is the XMPP-side service address this gateway
	// operates as. Contacts and groups are addressed as <local>@<domain>.
	ComponentDomain string `toml:"component_domain"`

	// Adapter selects which registered legacy adapter to load.
	Adapter string `toml:"adapter"`

	// DataDir holds the store, per-user adapter state and logs.
	DataDir string `toml:"data_dir"`

	// StorePath overrides the default <data_dir>/gateway.db location.
	StorePath string `toml:"store_path"`

	// Admins receive gateway notifications (registrations, failures).
	Admins []string `toml:"admins"`

	// LoginTimeout bounds Session.Start before it gives up and the
	// session parks in the disconnected state.
	LoginTimeout Duration `toml:"login_timeout"`

	// ReconnectFloor and ReconnectCeiling bound the exponential backoff
	// used after an unexpected legacy-network disconnect.
	ReconnectFloor   Duration `toml:"reconnect_floor"`
	ReconnectCeiling Duration `toml:"reconnect_ceiling"`

	// Retention bounds growth of the group archive and correlation
	// tables; rows older than this are swept periodically.
	Retention Duration `toml:"retention"`

	Attachments AttachmentConfig `toml:"attachments"`
}

// AttachmentConfig configures the HTTP attachment server.
type AttachmentConfig struct {
	Listen  string `toml:"listen"`
	BaseURL string `toml:"base_url"`
	Dir     string `toml:"dir"`
}

// Duration wraps time.Duration with TOML text unmarshalling ("30s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a config with every tunable at its default value.
// The component domain has no sensible default and must be set.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".xgw")
	return &Config{
		Adapter:          "whatsapp",
		DataDir:          dataDir,
		LoginTimeout:     Duration{2 * time.Minute},
		ReconnectFloor:   Duration{5 * time.Second},
		ReconnectCeiling: Duration{5 * time.Minute},
		Retention:        Duration{180 * 24 * time.Hour},
		Attachments: AttachmentConfig{
			Listen: "127.0.0.1:8418",
		},
	}
}

// Load reads config from the given path on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate reports the first fatal configuration problem, if any.
func (c *Config) Validate() error {
	if c.ComponentDomain == "" {
		return fmt.Errorf("component_domain must be set")
	}
	if c.Adapter == "" {
		return fmt.Errorf("adapter must be set")
	}
	if c.ReconnectFloor.Duration <= 0 || c.ReconnectCeiling.Duration < c.ReconnectFloor.Duration {
		return fmt.Errorf("reconnect backoff bounds invalid: floor=%s ceiling=%s",
			c.ReconnectFloor.Duration, c.ReconnectCeiling.Duration)
	}
	if c.LoginTimeout.Duration <= 0 {
		return fmt.Errorf("login_timeout must be positive")
	}
	if c.Attachments.BaseURL != "" && c.Attachments.Listen == "" {
		return fmt.Errorf("attachments.listen must be set when attachments.base_url is")
	}
	return nil
}

// LoginTimeoutD and friends unwrap the TOML duration fields.

func (c *Config) LoginTimeoutD() time.Duration     { return c.LoginTimeout.Duration }
func (c *Config) ReconnectFloorD() time.Duration   { return c.ReconnectFloor.Duration }
func (c *Config) ReconnectCeilingD() time.Duration { return c.ReconnectCeiling.Duration }
func (c *Config) RetentionD() time.Duration        { return c.Retention.Duration }
