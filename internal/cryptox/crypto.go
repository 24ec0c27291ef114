// Package cryptox encrypts staged backup artifacts with a per-run passphrase
// using age's scrypt recipient. Decrypt-verification exists to catch
// passphrase escrow/retrieval mismatches and corrupt ciphertext before the
// plaintext tarball is deleted.
package cryptox

import (
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/dmitrijs2005/snapvault/internal/common"
)

// Suffix is appended to the input path to form the encrypted file path.
const Suffix = ".age"

// AgeCrypter implements passphrase-based file encryption.
type AgeCrypter struct{}

// EncryptFile encrypts path with the passphrase and returns the output path
// (path + Suffix). The passphrase never touches disk; key derivation happens
// inside age.
func (AgeCrypter) EncryptFile(path, passphrase string) (string, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return "", fmt.Errorf("preparing encryption recipient: %w", err)
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer in.Close()

	outPath := path + Suffix
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	w, err := age.Encrypt(out, recipient)
	if err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("starting encryption of %s: %w", path, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("encrypting %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("finalizing encryption of %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("closing %s: %w", outPath, err)
	}

	return outPath, nil
}

// VerifyFile fully decrypts path under the passphrase, discarding the
// output. Any failure is common.ErrDecryptVerify.
func (AgeCrypter) VerifyFile(path, passphrase string) error {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("%w: preparing identity: %v", common.ErrDecryptVerify, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", common.ErrDecryptVerify, path, err)
	}
	defer f.Close()

	r, err := age.Decrypt(f, identity)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrDecryptVerify, path, err)
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrDecryptVerify, path, err)
	}
	return nil
}
