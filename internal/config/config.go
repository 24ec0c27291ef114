// Package config loads runtime configuration for the snapvault pipeline.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. JSON config file (path via -c/-config), see json.go.
//  3. Command-line flags, see flags.go.
//
// Later sources override earlier ones. After loading, Validate reports any
// missing required field; the pipeline must not start on an invalid config.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/common"
)

// VaultConfig identifies the secrets vault account and CLI.
type VaultConfig struct {
	// Email is the vault account identity used for interactive login.
	Email string
	// FolderName is the vault folder holding backup passphrase items.
	// Resolved get-or-create at run time.
	FolderName string
	// CLIPath is the path to the vault CLI binary.
	CLIPath string
	// DiskUnlockItemID names the vault item whose secret unlocks the
	// backup disk.
	DiskUnlockItemID string
}

// BackupConfig describes the snapshot source and local staging.
type BackupConfig struct {
	// DevicePath is the encrypted backup disk (e.g. /dev/disk2).
	DevicePath string
	// MountLocation is where the unlocked volume must appear. A volume
	// mounting anywhere else aborts the run.
	MountLocation string
	// SnapshotLocation is the directory where snapshot entries appear.
	SnapshotLocation string
	// StagingLocation holds transient plaintext/encrypted artifacts for
	// the duration of one run.
	StagingLocation string
	// SnapshotCommand is the external snapshot tool invocation.
	SnapshotCommand []string
}

// RemoteConfig describes the remote blob store (S3-compatible).
type RemoteConfig struct {
	// Destination is "bucket" or "bucket/prefix".
	Destination string
	// Region, Endpoint and the static credentials configure the S3 client.
	// Endpoint may be empty for plain AWS.
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// EncryptConfig controls per-run passphrase generation.
type EncryptConfig struct {
	PassphraseLength  int
	PassphraseCharset string
}

// Config holds the full resolved run configuration. It is immutable once
// loaded; every pipeline stage receives what it needs from here.
type Config struct {
	Vault   VaultConfig
	Backup  BackupConfig
	Remote  RemoteConfig
	Encrypt EncryptConfig

	// LockFile is the exclusive advisory lock guarding against a second
	// concurrent invocation.
	LockFile string

	// DeviceRetryAttempts and DeviceRetryInterval bound the unmount/lock
	// retry loop during cleanup.
	DeviceRetryAttempts int
	DeviceRetryInterval time.Duration

	// DryRun prints the stage plan without side effects.
	DryRun bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Vault.CLIPath = "bw"
	c.Vault.FolderName = "Backups"
	c.Backup.SnapshotCommand = []string{"tmutil", "localsnapshot"}
	c.Encrypt.PassphraseLength = 64
	c.Encrypt.PassphraseCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	c.LockFile = "/var/run/snapvault.lock"
	c.DeviceRetryAttempts = 10
	c.DeviceRetryInterval = 5 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	return cfg, nil
}

// Validate checks that every required field is set. All violations are
// reported as common.ErrConfig with the offending field named.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		empty bool
	}{
		{"vault.email", c.Vault.Email == ""},
		{"vault.folderName", c.Vault.FolderName == ""},
		{"vault.cliPath", c.Vault.CLIPath == ""},
		{"vault.diskUnlockItemId", c.Vault.DiskUnlockItemID == ""},
		{"backup.devicePath", c.Backup.DevicePath == ""},
		{"backup.mountLocation", c.Backup.MountLocation == ""},
		{"backup.snapshotLocation", c.Backup.SnapshotLocation == ""},
		{"backup.stagingLocation", c.Backup.StagingLocation == ""},
		{"backup.snapshotCommand", len(c.Backup.SnapshotCommand) == 0},
		{"remote.destination", c.Remote.Destination == ""},
		{"remote.region", c.Remote.Region == ""},
		{"lockFile", c.LockFile == ""},
	}
	for _, f := range required {
		if f.empty {
			return fmt.Errorf("%w: missing required field %s", common.ErrConfig, f.name)
		}
	}
	if c.Encrypt.PassphraseLength < 1 {
		return fmt.Errorf("%w: encrypt.passphraseLength must be positive", common.ErrConfig)
	}
	if c.Encrypt.PassphraseCharset == "" {
		return fmt.Errorf("%w: encrypt.passphraseCharset must not be empty", common.ErrConfig)
	}
	if c.DeviceRetryAttempts < 1 {
		return fmt.Errorf("%w: deviceRetryAttempts must be positive", common.ErrConfig)
	}
	return nil
}
