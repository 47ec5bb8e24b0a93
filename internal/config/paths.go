package config

import (
	"os"
	"path/filepath"
)

// StoreFile returns the sqlite store path, honoring the override.
func (c *Config) StoreFile() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	return filepath.Join(c.DataDir, "gateway.db")
}

// LogFile returns the daemon log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "logs", "xgwd.log")
}

// AdapterDir returns the per-user directory a legacy adapter may use for
// its own credential and session state.
func (c *Config) AdapterDir(userBare string) string {
	return filepath.Join(c.DataDir, "adapters", userBare)
}

// AttachmentDir returns the blob directory for the attachment server.
func (c *Config) AttachmentDir() string {
	if c.Attachments.Dir != "" {
		return c.Attachments.Dir
	}
	return filepath.Join(c.DataDir, "attachments")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Join(c.DataDir, "logs"),
		filepath.Join(c.DataDir, "adapters"),
		c.AttachmentDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
