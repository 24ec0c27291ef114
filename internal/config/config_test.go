package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/snapvault/internal/common"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.Vault.Email = "ops@example.com"
	cfg.Vault.DiskUnlockItemID = "disk-item"
	cfg.Backup.DevicePath = "/dev/disk2"
	cfg.Backup.MountLocation = "/Volumes/Backup"
	cfg.Backup.SnapshotLocation = "/src"
	cfg.Backup.StagingLocation = "/stg"
	cfg.Remote.Destination = "backups/host1"
	cfg.Remote.Region = "us-east-1"
	return cfg
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no email", func(c *Config) { c.Vault.Email = "" }},
		{"no folder", func(c *Config) { c.Vault.FolderName = "" }},
		{"no cli path", func(c *Config) { c.Vault.CLIPath = "" }},
		{"no disk item", func(c *Config) { c.Vault.DiskUnlockItemID = "" }},
		{"no device", func(c *Config) { c.Backup.DevicePath = "" }},
		{"no mount location", func(c *Config) { c.Backup.MountLocation = "" }},
		{"no snapshot location", func(c *Config) { c.Backup.SnapshotLocation = "" }},
		{"no staging", func(c *Config) { c.Backup.StagingLocation = "" }},
		{"no snapshot command", func(c *Config) { c.Backup.SnapshotCommand = nil }},
		{"no destination", func(c *Config) { c.Remote.Destination = "" }},
		{"no region", func(c *Config) { c.Remote.Region = "" }},
		{"zero passphrase length", func(c *Config) { c.Encrypt.PassphraseLength = 0 }},
		{"empty charset", func(c *Config) { c.Encrypt.PassphraseCharset = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, common.ErrConfig))
		})
	}
}

func TestParseJson_OverlaysFields(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "conf.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"vault": {"email": "ops@example.com", "diskUnlockItemId": "item1"},
		"backup": {
			"devicePath": "/dev/disk2",
			"mountLocation": "/Volumes/Backup",
			"snapshotLocation": "/src",
			"stagingLocation": "/stg",
			"snapshotCommand": ["zfs", "snapshot", "pool/data@now"]
		},
		"remote": {"destination": "bucket/pfx", "region": "eu-west-1"},
		"encrypt": {"passphraseLength": 32},
		"deviceRetryInterval": "2s"
	}`), 0o600))

	old := os.Args
	defer func() { os.Args = old }()
	os.Args = []string{"snapvault", "-c", file}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "ops@example.com", cfg.Vault.Email)
	require.Equal(t, []string{"zfs", "snapshot", "pool/data@now"}, cfg.Backup.SnapshotCommand)
	require.Equal(t, "bucket/pfx", cfg.Remote.Destination)
	require.Equal(t, 32, cfg.Encrypt.PassphraseLength)
	require.Equal(t, 2*time.Second, cfg.DeviceRetryInterval)

	// defaults survive where JSON is silent
	require.Equal(t, "Backups", cfg.Vault.FolderName)
	require.Equal(t, 10, cfg.DeviceRetryAttempts)

	require.NoError(t, cfg.Validate())
}

func TestParseJson_MalformedFileIsConfigError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{not json`), 0o600))

	old := os.Args
	defer func() { os.Args = old }()
	os.Args = []string{"snapvault", "-c", file}

	_, err := LoadConfig()
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrConfig))
}

func TestParseFlags_DryRunAndStaging(t *testing.T) {
	old := os.Args
	defer func() { os.Args = old }()
	os.Args = []string{"snapvault", "-dry-run", "-s", "/tmp/stage"}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.DryRun)
	require.Equal(t, "/tmp/stage", cfg.Backup.StagingLocation)
}
