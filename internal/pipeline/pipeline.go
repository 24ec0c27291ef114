// Package pipeline sequences one backup run: vault login, disk unlock and
// mount, snapshot, compression, passphrase escrow, encryption, verification,
// upload, and the purges gated on each verification. It owns the single
// mutable session/device state shared across stages and guarantees the
// cleanup sequence (logout, unmount, lock) on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/dmitrijs2005/snapvault/internal/config"
	"github.com/dmitrijs2005/snapvault/internal/device"
	"github.com/dmitrijs2005/snapvault/internal/logging"
	"github.com/dmitrijs2005/snapvault/internal/passgen"
	"github.com/dmitrijs2005/snapvault/internal/snapshot"
	"github.com/dmitrijs2005/snapvault/internal/vault"
)

// Stage names one pipeline barrier. Stages are strictly sequential: no stage
// starts before the previous fully succeeds, and any failure jumps straight
// to cleanup.
type Stage string

const (
	StageLogin          Stage = "login"
	StageUnlock         Stage = "unlock"
	StageMount          Stage = "mount"
	StageSnapshot       Stage = "snapshot"
	StageCompress       Stage = "compress"
	StageEscrow         Stage = "escrow"
	StageEncrypt        Stage = "encrypt"
	StageDecryptVerify  Stage = "decrypt-verify"
	StagePurgePlaintext Stage = "purge-plaintext"
	StageUpload         Stage = "upload"
	StageUploadVerify   Stage = "upload-verify"
	StagePurgeEncrypted Stage = "purge-encrypted"
)

// stageOrder is the full plan, used by dry-run output.
var stageOrder = []Stage{
	StageLogin, StageUnlock, StageMount, StageSnapshot, StageCompress,
	StageEscrow, StageEncrypt, StageDecryptVerify, StagePurgePlaintext,
	StageUpload, StageUploadVerify, StagePurgeEncrypted,
}

// SecretStore is the vault surface the pipeline needs.
type SecretStore interface {
	Login(ctx context.Context) (*vault.Session, error)
	Logout(ctx context.Context, s *vault.Session)
	ResolveFolder(ctx context.Context, s *vault.Session, name string) (string, error)
	StoreSecret(ctx context.Context, s *vault.Session, name, value, note, folderID string) error
	RetrieveSecret(ctx context.Context, s *vault.Session, nameOrID string) (string, error)
}

// Device is the disk-control surface the pipeline needs.
type Device interface {
	Unlock(ctx context.Context, diskPath, passphrase string) (device.Handle, error)
	Mount(ctx context.Context, h device.Handle) (string, error)
	Unmount(ctx context.Context, h device.Handle) error
	Lock(ctx context.Context, diskPath string, h device.Handle) error
}

// Archiver creates and packages snapshots.
type Archiver interface {
	Create(ctx context.Context) error
	FindLatest(sourceDir string) (snapshot.Ref, error)
	Compress(ctx context.Context, ref snapshot.Ref, sourceDir, stagingDir string) (string, error)
}

// FileCrypter encrypts and decrypt-verifies staged files.
type FileCrypter interface {
	EncryptFile(path, passphrase string) (string, error)
	VerifyFile(path, passphrase string) error
}

// Uploader puts blobs remotely and verifies them by read-back.
type Uploader interface {
	Key(localName string) string
	Upload(ctx context.Context, localPath, key string) error
	Verify(ctx context.Context, localPath, key string) error
}

// state is the run-scoped mutable state shared across stages. The pipeline
// owns it; stages receive values from it as explicit arguments.
type state struct {
	session *vault.Session
	handle  device.Handle
}

// Pipeline drives one backup run.
type Pipeline struct {
	cfg      *config.Config
	vault    SecretStore
	device   Device
	archiver Archiver
	crypter  FileCrypter
	uploader Uploader
	log      logging.Logger

	// out receives the per-stage status lines for the operator.
	out io.Writer

	genPassphrase func(length int, charset string) (string, error)
}

func New(cfg *config.Config, secrets SecretStore, dev Device, archiver Archiver,
	crypter FileCrypter, uploader Uploader, log logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:           cfg,
		vault:         secrets,
		device:        dev,
		archiver:      archiver,
		crypter:       crypter,
		uploader:      uploader,
		log:           log,
		out:           os.Stdout,
		genPassphrase: passgen.Generate,
	}
}

var (
	stageLine   = color.New(color.FgCyan)
	successLine = color.New(color.FgGreen)
)

func (p *Pipeline) announce(format string, args ...any) {
	stageLine.Fprintf(p.out, format+"\n", args...)
}

// Run executes the full pipeline. The cleanup sequence is registered before
// the first stage so it runs even when login itself fails, and it uses a
// context detached from cancellation so an interrupt mid-run still unmounts
// and relocks the disk.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cfg.DryRun {
		return p.dryRun()
	}

	st := &state{}
	defer func() {
		p.cleanup(context.WithoutCancel(ctx), st)
	}()

	return p.run(ctx, st)
}

func (p *Pipeline) run(ctx context.Context, st *state) error {
	// login
	p.announce("Logging in to vault as %s…", p.cfg.Vault.Email)
	sess, err := p.stageLogin(ctx)
	if err != nil {
		return p.fail(ctx, StageLogin, err)
	}
	st.session = sess

	// unlock + mount
	p.announce("Unlocking %s…", p.cfg.Backup.DevicePath)
	h, err := p.stageUnlock(ctx, st.session)
	if err != nil {
		return p.fail(ctx, StageUnlock, err)
	}
	st.handle = h

	p.announce("Mounting %s…", h.Clear)
	if _, err := p.timed(ctx, StageMount, func() error {
		_, err := p.device.Mount(ctx, h)
		return err
	}); err != nil {
		return p.fail(ctx, StageMount, err)
	}

	// snapshot + compress
	p.announce("Creating snapshot…")
	if _, err := p.timed(ctx, StageSnapshot, func() error {
		return p.archiver.Create(ctx)
	}); err != nil {
		return p.fail(ctx, StageSnapshot, err)
	}

	ref, err := p.archiver.FindLatest(p.cfg.Backup.SnapshotLocation)
	if err != nil {
		return p.fail(ctx, StageSnapshot, err)
	}
	p.log.Info(ctx, "latest snapshot", "name", ref.Name)

	tarball := filepath.Join(p.cfg.Backup.StagingLocation, ref.Name+".tar.gz")
	p.announce("Compressing to %s…", tarball)
	if tarball, err = p.stageCompress(ctx, ref); err != nil {
		return p.fail(ctx, StageCompress, err)
	}

	// escrow must succeed before encryption starts
	secretName := "Backup " + ref.Name
	p.announce("Escrowing passphrase as %q…", secretName)
	passphrase, err := p.stageEscrow(ctx, st.session, ref, secretName)
	if err != nil {
		return p.fail(ctx, StageEscrow, err)
	}

	p.announce("Encrypting %s…", tarball)
	var encrypted string
	if _, err := p.timed(ctx, StageEncrypt, func() error {
		var err error
		encrypted, err = p.crypter.EncryptFile(tarball, passphrase)
		return err
	}); err != nil {
		return p.fail(ctx, StageEncrypt, err)
	}

	// verify decryption under the *escrowed* passphrase before the
	// plaintext goes away; this catches storage/retrieval mismatches too.
	p.announce("Verifying encrypted file decrypts…")
	if _, err := p.timed(ctx, StageDecryptVerify, func() error {
		stored, err := p.vault.RetrieveSecret(ctx, st.session, secretName)
		if err != nil {
			return err
		}
		return p.crypter.VerifyFile(encrypted, stored)
	}); err != nil {
		return p.fail(ctx, StageDecryptVerify, err)
	}

	if err := os.Remove(tarball); err != nil {
		return p.fail(ctx, StagePurgePlaintext, err)
	}
	p.log.Info(ctx, "plaintext tarball removed", "path", tarball)

	// upload + verify, then drop the local encrypted copy
	key := p.uploader.Key(filepath.Base(encrypted))
	p.announce("Uploading encrypted file…")
	if _, err := p.timed(ctx, StageUpload, func() error {
		return p.uploader.Upload(ctx, encrypted, key)
	}); err != nil {
		return p.fail(ctx, StageUpload, err)
	}

	p.announce("Verifying upload…")
	if _, err := p.timed(ctx, StageUploadVerify, func() error {
		return p.uploader.Verify(ctx, encrypted, key)
	}); err != nil {
		return p.fail(ctx, StageUploadVerify, err)
	}

	if err := os.Remove(encrypted); err != nil {
		return p.fail(ctx, StagePurgeEncrypted, err)
	}
	p.log.Info(ctx, "encrypted file removed", "path", encrypted)

	successLine.Fprintf(p.out,
		"Backup complete. Decryption passphrase is stored in vault item %q (folder %q).\n",
		secretName, p.cfg.Vault.FolderName)
	return nil
}

func (p *Pipeline) stageLogin(ctx context.Context) (*vault.Session, error) {
	var sess *vault.Session
	_, err := p.timed(ctx, StageLogin, func() error {
		var err error
		sess, err = p.vault.Login(ctx)
		return err
	})
	return sess, err
}

// stageUnlock retrieves the disk passphrase from the vault and unlocks the
// backup disk with it.
func (p *Pipeline) stageUnlock(ctx context.Context, sess *vault.Session) (device.Handle, error) {
	var h device.Handle
	_, err := p.timed(ctx, StageUnlock, func() error {
		diskPass, err := p.vault.RetrieveSecret(ctx, sess, p.cfg.Vault.DiskUnlockItemID)
		if err != nil {
			return err
		}
		h, err = p.device.Unlock(ctx, p.cfg.Backup.DevicePath, diskPass)
		return err
	})
	return h, err
}

func (p *Pipeline) stageCompress(ctx context.Context, ref snapshot.Ref) (string, error) {
	var tarball string
	_, err := p.timed(ctx, StageCompress, func() error {
		var err error
		tarball, err = p.archiver.Compress(ctx, ref,
			p.cfg.Backup.SnapshotLocation, p.cfg.Backup.StagingLocation)
		return err
	})
	return tarball, err
}

// stageEscrow generates the per-run passphrase and stores it in the vault.
// It returns the passphrase only after escrow succeeded.
func (p *Pipeline) stageEscrow(ctx context.Context, sess *vault.Session,
	ref snapshot.Ref, secretName string) (string, error) {

	var passphrase string
	_, err := p.timed(ctx, StageEscrow, func() error {
		folderID, err := p.vault.ResolveFolder(ctx, sess, p.cfg.Vault.FolderName)
		if err != nil {
			return err
		}

		passphrase, err = p.genPassphrase(
			p.cfg.Encrypt.PassphraseLength, p.cfg.Encrypt.PassphraseCharset)
		if err != nil {
			return err
		}

		note := fmt.Sprintf("Backup of %s taken %s", ref.Name,
			ref.ModTime.Format(time.RFC3339))
		return p.vault.StoreSecret(ctx, sess, secretName, passphrase, note, folderID)
	})
	return passphrase, err
}

func (p *Pipeline) timed(ctx context.Context, stage Stage, fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	if err == nil {
		p.log.Debug(ctx, "stage complete", "stage", string(stage), "duration", d)
	}
	return d, err
}

func (p *Pipeline) fail(ctx context.Context, stage Stage, err error) error {
	p.log.Error(ctx, "stage failed", "stage", string(stage), "error", err)
	return fmt.Errorf("stage %s: %w", stage, err)
}

// cleanup runs the three cleanup actions unconditionally and independently:
// a failure in one must not prevent the others. Their own errors are logged
// and swallowed; cleanup never fails the run beyond the original error.
func (p *Pipeline) cleanup(ctx context.Context, st *state) {
	p.vault.Logout(ctx, st.session)

	if err := p.device.Unmount(ctx, st.handle); err != nil {
		p.log.Warn(ctx, "cleanup: unmount failed", "error", err)
	}
	if err := p.device.Lock(ctx, p.cfg.Backup.DevicePath, st.handle); err != nil {
		p.log.Warn(ctx, "cleanup: lock failed", "error", err)
	}
}

func (p *Pipeline) dryRun() error {
	fmt.Fprintln(p.out, "Dry run. Stages that would execute:")
	for i, s := range stageOrder {
		fmt.Fprintf(p.out, "  %2d. %s\n", i+1, s)
	}
	return nil
}
