// Package common defines shared sentinel errors used across the snapvault
// pipeline stages. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Startup gating errors.
	ErrPrivilege      = errors.New("insufficient privilege")
	ErrAlreadyRunning = errors.New("another instance is already running")
	ErrConfig         = errors.New("invalid configuration")

	// Vault errors.
	ErrAuth     = errors.New("vault authentication failed")
	ErrConflict = errors.New("item already exists")
	ErrNotFound = errors.New("not found")

	// Device errors.
	ErrUnlock = errors.New("disk unlock failed")
	ErrMount  = errors.New("unexpected mount location")

	// Snapshot and archive errors.
	ErrSnapshot       = errors.New("snapshot creation failed")
	ErrCorruptArchive = errors.New("archive failed read-through")

	// Verification errors.
	ErrDecryptVerify  = errors.New("decrypt verification failed")
	ErrUpload         = errors.New("upload failed")
	ErrVerifyMismatch = errors.New("uploaded blob differs from local file")
)
