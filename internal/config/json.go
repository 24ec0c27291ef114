package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/flagx"
	"github.com/dmitrijs2005/snapvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be given either as strings like "5s" or as
// integer nanoseconds. After parsing, values are copied into the runtime
// Config. Absent fields leave the corresponding defaults untouched.
type JsonConfig struct {
	Vault struct {
		Email            string `json:"email"`
		FolderName       string `json:"folderName"`
		CLIPath          string `json:"cliPath"`
		DiskUnlockItemID string `json:"diskUnlockItemId"`
	} `json:"vault"`
	Backup struct {
		DevicePath       string   `json:"devicePath"`
		MountLocation    string   `json:"mountLocation"`
		SnapshotLocation string   `json:"snapshotLocation"`
		StagingLocation  string   `json:"stagingLocation"`
		SnapshotCommand  []string `json:"snapshotCommand"`
	} `json:"backup"`
	Remote struct {
		Destination     string `json:"destination"`
		Region          string `json:"region"`
		Endpoint        string `json:"endpoint"`
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
	} `json:"remote"`
	Encrypt struct {
		PassphraseLength  int    `json:"passphraseLength"`
		PassphraseCharset string `json:"passphraseCharset"`
	} `json:"encrypt"`
	LockFile            string          `json:"lockFile"`
	DeviceRetryAttempts int             `json:"deviceRetryAttempts"`
	DeviceRetryInterval *timex.Duration `json:"deviceRetryInterval"`
}

// parseJson overlays cfg with values loaded from the JSON file named by the
// -c/-config flags. When no file is given, cfg is left as-is. Read and
// unmarshal failures are reported as common.ErrConfig: a malformed config
// must stop the run before any stage executes.
func parseJson(cfg *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", common.ErrConfig, jsonConfigFile, err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", common.ErrConfig, jsonConfigFile, err)
	}

	overlayString(&cfg.Vault.Email, jc.Vault.Email)
	overlayString(&cfg.Vault.FolderName, jc.Vault.FolderName)
	overlayString(&cfg.Vault.CLIPath, jc.Vault.CLIPath)
	overlayString(&cfg.Vault.DiskUnlockItemID, jc.Vault.DiskUnlockItemID)

	overlayString(&cfg.Backup.DevicePath, jc.Backup.DevicePath)
	overlayString(&cfg.Backup.MountLocation, jc.Backup.MountLocation)
	overlayString(&cfg.Backup.SnapshotLocation, jc.Backup.SnapshotLocation)
	overlayString(&cfg.Backup.StagingLocation, jc.Backup.StagingLocation)
	if len(jc.Backup.SnapshotCommand) > 0 {
		cfg.Backup.SnapshotCommand = jc.Backup.SnapshotCommand
	}

	overlayString(&cfg.Remote.Destination, jc.Remote.Destination)
	overlayString(&cfg.Remote.Region, jc.Remote.Region)
	overlayString(&cfg.Remote.Endpoint, jc.Remote.Endpoint)
	overlayString(&cfg.Remote.AccessKeyID, jc.Remote.AccessKeyID)
	overlayString(&cfg.Remote.SecretAccessKey, jc.Remote.SecretAccessKey)

	if jc.Encrypt.PassphraseLength > 0 {
		cfg.Encrypt.PassphraseLength = jc.Encrypt.PassphraseLength
	}
	overlayString(&cfg.Encrypt.PassphraseCharset, jc.Encrypt.PassphraseCharset)

	overlayString(&cfg.LockFile, jc.LockFile)
	if jc.DeviceRetryAttempts > 0 {
		cfg.DeviceRetryAttempts = jc.DeviceRetryAttempts
	}
	if jc.DeviceRetryInterval != nil {
		cfg.DeviceRetryInterval = time.Duration(jc.DeviceRetryInterval.Duration)
	}

	return nil
}

func overlayString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}
