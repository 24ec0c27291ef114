// Package vault is a typed wrapper over the vault CLI: session lifecycle,
// folder resolution, and named-secret create/retrieve.
//
// CLI contract (Bitwarden-style):
//
//	<cli> login <email> --raw                      master password on stdin, prints session token
//	<cli> logout --session <token>
//	<cli> get folder <name> --session <token>      prints folder JSON, nonzero exit when absent
//	<cli> create folder <name> --session <token>   prints folder JSON
//	<cli> get item <nameOrID> --session <token>    prints item JSON, nonzero exit when absent
//	<cli> create item <name> --folder <id> --notes <note> --session <token>
//	                                               secret value on stdin
//
// Secret values only ever cross the process boundary on stdin, never on the
// command line and never in logs.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/execx"
	"github.com/dmitrijs2005/snapvault/internal/logging"
)

// SessionEnvVar optionally carries a pre-existing session token. When it
// holds a usable token, login and logout are bypassed for that session.
const SessionEnvVar = "SNAPVAULT_SESSION"

// Test seams.
var (
	getenv  = os.Getenv
	timeNow = time.Now

	// readPassword prompts for the master password without echo.
	readPassword = func() ([]byte, error) {
		fmt.Fprint(os.Stderr, "Vault master password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return pw, err
	}
)

// Session is a vault authentication handle. Owned reports whether this run
// performed the login; only an owned session is logged out on exit.
type Session struct {
	Token string
	Owned bool
}

// Client drives the vault CLI.
type Client struct {
	cliPath string
	email   string
	runner  execx.Runner
	log     logging.Logger
}

func NewClient(cliPath, email string, runner execx.Runner, log logging.Logger) *Client {
	return &Client{cliPath: cliPath, email: email, runner: runner, log: log}
}

// Login returns a usable vault session. An externally supplied token (see
// SessionEnvVar) is reused without logging in, provided it parses as a JWT
// and has not expired; an expired token falls back to interactive login
// rather than failing mid-pipeline. Interactive login prompts for the master
// password and fails with common.ErrAuth when the CLI yields no token.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	if tok := getenv(SessionEnvVar); tok != "" {
		if err := checkSessionToken(tok); err == nil {
			c.log.Info(ctx, "reusing external vault session")
			return &Session{Token: tok, Owned: false}, nil
		}
		c.log.Warn(ctx, "ignoring unusable external session token, logging in")
	}

	pw, err := readPassword()
	if err != nil {
		return nil, fmt.Errorf("%w: reading master password: %v", common.ErrAuth, err)
	}
	defer common.WipeByteArray(pw)

	out, err := c.runner.RunInput(ctx, string(pw)+"\n", c.cliPath, "login", c.email, "--raw")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAuth, err)
	}

	token := strings.TrimSpace(out)
	if token == "" {
		return nil, fmt.Errorf("%w: login produced no session token", common.ErrAuth)
	}

	return &Session{Token: token, Owned: true}, nil
}

// Logout ends an owned session. External sessions are left alone. Errors are
// logged and swallowed: this runs on the cleanup path and must not fail it.
func (c *Client) Logout(ctx context.Context, s *Session) {
	if s == nil || !s.Owned {
		return
	}
	if _, err := c.runner.Run(ctx, c.cliPath, "logout", "--session", s.Token); err != nil {
		c.log.Warn(ctx, "vault logout failed", "error", err)
	}
}

// checkSessionToken reports whether tok is a well-formed, unexpired JWT.
// The signature is not verified; only the vault backend holds the key. The
// point here is to reject stale tokens before the pipeline depends on them.
func checkSessionToken(tok string) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return fmt.Errorf("%w: %v", common.ErrAuth, err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(timeNow()) {
		return fmt.Errorf("%w: session token expired", common.ErrAuth)
	}
	return nil
}

// folder mirrors the CLI's folder JSON.
type folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolveFolder returns the ID of the named folder, creating it when absent.
// Idempotent across runs: the folder is found-or-created, never duplicated.
func (c *Client) ResolveFolder(ctx context.Context, s *Session, name string) (string, error) {
	out, err := c.runner.Run(ctx, c.cliPath, "get", "folder", name, "--session", s.Token)
	if err != nil {
		c.log.Info(ctx, "vault folder not found, creating", "folder", name)
		out, err = c.runner.Run(ctx, c.cliPath, "create", "folder", name, "--session", s.Token)
		if err != nil {
			return "", fmt.Errorf("creating vault folder %q: %w", name, err)
		}
	}

	var f folder
	if err := json.Unmarshal([]byte(out), &f); err != nil {
		return "", fmt.Errorf("parsing vault folder %q: %w", name, err)
	}
	if f.ID == "" {
		return "", fmt.Errorf("vault folder %q resolved without an id", name)
	}
	return f.ID, nil
}

// item mirrors the CLI's item JSON.
type item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Notes  string `json:"notes"`
	Secret string `json:"secret"`
}

// StoreSecret creates a named secret item in the given folder. A pre-existing
// item with that name is common.ErrConflict; an escrowed passphrase is never
// overwritten.
func (c *Client) StoreSecret(ctx context.Context, s *Session, name, value, note, folderID string) error {
	if _, err := c.runner.Run(ctx, c.cliPath, "get", "item", name, "--session", s.Token); err == nil {
		return fmt.Errorf("%w: vault item %q", common.ErrConflict, name)
	}

	_, err := c.runner.RunInput(ctx, value, c.cliPath,
		"create", "item", name, "--folder", folderID, "--notes", note, "--session", s.Token)
	if err != nil {
		return fmt.Errorf("creating vault item %q: %w", name, err)
	}
	return nil
}

// RetrieveSecret returns the secret value of the item matching nameOrID.
func (c *Client) RetrieveSecret(ctx context.Context, s *Session, nameOrID string) (string, error) {
	out, err := c.runner.Run(ctx, c.cliPath, "get", "item", nameOrID, "--session", s.Token)
	if err != nil {
		return "", fmt.Errorf("%w: vault item %q: %v", common.ErrNotFound, nameOrID, err)
	}

	var it item
	if err := json.Unmarshal([]byte(out), &it); err != nil {
		return "", fmt.Errorf("parsing vault item %q: %w", nameOrID, err)
	}
	return it.Secret, nil
}
