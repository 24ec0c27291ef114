// Package snapshot creates point-in-time snapshots via the external snapshot
// tool, locates the newest one, and compresses it into a staging tarball.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/execx"
	"github.com/dmitrijs2005/snapvault/internal/logging"
)

// Ref identifies the most recent snapshot found in the source directory.
// It is derived, never stored: each run recomputes it by listing entries.
type Ref struct {
	Name    string
	ModTime time.Time
}

// Archiver drives snapshot creation and compression.
type Archiver struct {
	command []string
	runner  execx.Runner
	log     logging.Logger
}

// NewArchiver returns an Archiver invoking the given snapshot command
// (program plus arguments).
func NewArchiver(command []string, runner execx.Runner, log logging.Logger) *Archiver {
	return &Archiver{command: command, runner: runner, log: log}
}

// Create invokes the snapshot tool synchronously. A nonzero exit is
// common.ErrSnapshot.
func (a *Archiver) Create(ctx context.Context) error {
	if len(a.command) == 0 {
		return fmt.Errorf("%w: no snapshot command configured", common.ErrSnapshot)
	}
	out, err := a.runner.Run(ctx, a.command[0], a.command[1:]...)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrSnapshot, err)
	}
	if out != "" {
		a.log.Debug(ctx, "snapshot tool output", "output", out)
	}
	return nil
}

// FindLatest returns the most-recently-modified entry of sourceDir.
// An empty directory is common.ErrNotFound.
func (a *Archiver) FindLatest(sourceDir string) (Ref, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return Ref{}, fmt.Errorf("listing snapshots in %s: %w", sourceDir, err)
	}
	if len(entries) == 0 {
		return Ref{}, fmt.Errorf("%w: no snapshots in %s", common.ErrNotFound, sourceDir)
	}

	var latest Ref
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return Ref{}, fmt.Errorf("stat snapshot %s: %w", e.Name(), err)
		}
		if latest.Name == "" || info.ModTime().After(latest.ModTime) {
			latest = Ref{Name: e.Name(), ModTime: info.ModTime()}
		}
	}
	return latest, nil
}

// Compress produces stagingDir/<ref>.tar.gz from sourceDir/<ref> and returns
// its path. When the target already exists, compression is skipped and the
// existing file is reused, which makes the stage resumable after a crash
// between compression and encryption. Either way the result must pass a full
// read-through (SelfTest) before it is returned.
func (a *Archiver) Compress(ctx context.Context, ref Ref, sourceDir, stagingDir string) (string, error) {
	target := filepath.Join(stagingDir, ref.Name+".tar.gz")

	if _, err := os.Stat(target); err == nil {
		a.log.Info(ctx, "tarball already present, skipping compression", "path", target)
	} else {
		if err := writeTarball(ctx, filepath.Join(sourceDir, ref.Name), ref.Name, target); err != nil {
			os.Remove(target)
			return "", err
		}
	}

	if err := SelfTest(target); err != nil {
		return "", err
	}
	return target, nil
}
