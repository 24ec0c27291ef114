package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/snapvault/internal/buildinfo"
	"github.com/dmitrijs2005/snapvault/internal/config"
	"github.com/dmitrijs2005/snapvault/internal/cryptox"
	"github.com/dmitrijs2005/snapvault/internal/device"
	"github.com/dmitrijs2005/snapvault/internal/execx"
	"github.com/dmitrijs2005/snapvault/internal/filex"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/pipeline"
	"github.com/dmitrijs2005/snapvault/internal/remote"
	"github.com/dmitrijs2005/snapvault/internal/runlock"
	"github.com/dmitrijs2005/snapvault/internal/snapshot"
	"github.com/dmitrijs2005/snapvault/internal/vault"
)

// Exit codes. Startup gating failures get distinct codes so wrappers can
// tell "configuration problem" from "already running".
const (
	exitStageFailure   = 1
	exitConfigError    = 2
	exitPrivilegeError = 3
	exitAlreadyRunning = 4
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))).
		With("run_id", uuid.NewString())

	runner := execx.CmdRunner{}
	p, cleanup, code := build(cfg, runner, log)
	if code != 0 {
		return code
	}
	defer cleanup()

	// Cleanup must still run on interruption: the signal cancels the
	// context, the pipeline's deferred cleanup runs detached from it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStageFailure
	}
	return 0
}

// build assembles the pipeline and acquires the startup gates. The returned
// cleanup releases the run lock.
func build(cfg *config.Config, runner execx.Runner, log logging.Logger) (*pipeline.Pipeline, func(), int) {
	noop := func() {}

	if cfg.DryRun {
		// No gates for a dry run; it touches nothing.
		p, err := newPipeline(cfg, runner, log)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, noop, exitConfigError
		}
		return p, noop, 0
	}

	if err := runlock.CheckPrivilege(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, noop, exitPrivilegeError
	}

	lock, err := runlock.Acquire(cfg.LockFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, noop, exitAlreadyRunning
	}

	if err := filex.EnsureDir(cfg.Backup.StagingLocation); err != nil {
		fmt.Fprintln(os.Stderr, err)
		lock.Release()
		return nil, noop, exitConfigError
	}

	p, err := newPipeline(cfg, runner, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		lock.Release()
		return nil, noop, exitConfigError
	}
	return p, lock.Release, 0
}

func newPipeline(cfg *config.Config, runner execx.Runner, log logging.Logger) (*pipeline.Pipeline, error) {
	secrets := vault.NewClient(cfg.Vault.CLIPath, cfg.Vault.Email, runner, log)
	dev := device.NewController(cfg.Backup.MountLocation,
		cfg.DeviceRetryAttempts, cfg.DeviceRetryInterval, runner, log)
	archiver := snapshot.NewArchiver(cfg.Backup.SnapshotCommand, runner, log)

	uploader, err := remote.NewUploader(context.Background(), cfg.Remote, log)
	if err != nil {
		return nil, err
	}

	return pipeline.New(cfg, secrets, dev, archiver, cryptox.AgeCrypter{}, uploader, log), nil
}
