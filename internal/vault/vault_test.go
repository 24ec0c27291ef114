package vault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/logging"
)

// fakeRunner scripts CLI behavior per invocation.
type fakeRunner struct {
	calls   [][]string
	stdins  []string
	handler func(args []string) (string, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	f.stdins = append(f.stdins, "")
	return f.handler(args)
}

func (f *fakeRunner) RunInput(ctx context.Context, stdin string, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	f.stdins = append(f.stdins, stdin)
	return f.handler(args)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func withSeams(t *testing.T, envToken string, password string) {
	t.Helper()
	origEnv, origPw := getenv, readPassword
	t.Cleanup(func() { getenv, readPassword = origEnv, origPw })
	getenv = func(key string) string {
		if key == SessionEnvVar {
			return envToken
		}
		return ""
	}
	readPassword = func() ([]byte, error) { return []byte(password), nil }
}

func TestLogin_ReusesValidExternalSession(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))
	withSeams(t, token, "")

	r := &fakeRunner{handler: func(args []string) (string, error) {
		t.Fatal("no CLI call expected when the external session is valid")
		return "", nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	s, err := c.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, s.Token)
	require.False(t, s.Owned)
}

func TestLogin_ExpiredExternalSessionFallsBackToLogin(t *testing.T) {
	withSeams(t, signedToken(t, time.Now().Add(-time.Hour)), "hunter2")

	r := &fakeRunner{handler: func(args []string) (string, error) {
		return "fresh-token", nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	s, err := c.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh-token", s.Token)
	require.True(t, s.Owned)

	require.Len(t, r.calls, 1)
	require.Equal(t, []string{"bw", "login", "ops@example.com", "--raw"}, r.calls[0])
	require.Equal(t, "hunter2\n", r.stdins[0], "master password must flow via stdin")
}

func TestLogin_EmptyTokenIsAuthError(t *testing.T) {
	withSeams(t, "", "pw")

	r := &fakeRunner{handler: func(args []string) (string, error) { return "  \n", nil }}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	_, err := c.Login(context.Background())
	require.True(t, errors.Is(err, common.ErrAuth))
}

func TestLogin_CLIFailureIsAuthError(t *testing.T) {
	withSeams(t, "", "pw")

	r := &fakeRunner{handler: func(args []string) (string, error) {
		return "", errors.New("invalid credentials")
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	_, err := c.Login(context.Background())
	require.True(t, errors.Is(err, common.ErrAuth))
}

func TestLogout_SkipsExternalSession(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		t.Fatal("logout must not be called for an external session")
		return "", nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	c.Logout(context.Background(), &Session{Token: "tok", Owned: false})
	c.Logout(context.Background(), nil)
}

func TestLogout_SwallowsErrors(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		return "", errors.New("network down")
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	// no panic, no error surfaced
	c.Logout(context.Background(), &Session{Token: "tok", Owned: true})
	require.Len(t, r.calls, 1)
}

func TestResolveFolder_Existing(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		require.Equal(t, "get", args[0])
		return `{"id":"f-123","name":"Backups"}`, nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	id, err := c.ResolveFolder(context.Background(), &Session{Token: "tok"}, "Backups")
	require.NoError(t, err)
	require.Equal(t, "f-123", id)
	require.Len(t, r.calls, 1)
}

func TestResolveFolder_CreatesWhenAbsent(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		if args[0] == "get" {
			return "", errors.New("not found")
		}
		return `{"id":"f-new","name":"Backups"}`, nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	id, err := c.ResolveFolder(context.Background(), &Session{Token: "tok"}, "Backups")
	require.NoError(t, err)
	require.Equal(t, "f-new", id)
	require.Len(t, r.calls, 2)
	require.Equal(t, "create", r.calls[1][1])
}

func TestStoreSecret_ConflictWhenItemExists(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		if args[0] == "get" {
			return `{"id":"i-1","name":"Backup snap-2"}`, nil
		}
		t.Fatal("create must not run after a conflict")
		return "", nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	err := c.StoreSecret(context.Background(), &Session{Token: "tok"},
		"Backup snap-2", "passphrase", "note", "f-1")
	require.True(t, errors.Is(err, common.ErrConflict))
}

func TestStoreSecret_SecretFlowsViaStdin(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		if args[0] == "get" {
			return "", errors.New("not found")
		}
		return "", nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	err := c.StoreSecret(context.Background(), &Session{Token: "tok"},
		"Backup snap-2", "the-passphrase", "backup of snap-2", "f-1")
	require.NoError(t, err)

	require.Len(t, r.calls, 2)
	create := r.calls[1]
	require.NotContains(t, strings.Join(create, " "), "the-passphrase")
	require.Equal(t, "the-passphrase", r.stdins[1])
}

func TestRetrieveSecret(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		return `{"id":"i-1","name":"Backup snap-2","secret":"s3cr3t"}`, nil
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	v, err := c.RetrieveSecret(context.Background(), &Session{Token: "tok"}, "Backup snap-2")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", v)
}

func TestRetrieveSecret_NotFound(t *testing.T) {
	r := &fakeRunner{handler: func(args []string) (string, error) {
		return "", errors.New("exit status 1")
	}}
	c := NewClient("bw", "ops@example.com", r, testLogger())

	_, err := c.RetrieveSecret(context.Background(), &Session{Token: "tok"}, "missing")
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestCheckSessionToken_Malformed(t *testing.T) {
	require.Error(t, checkSessionToken("not-a-jwt"))
}
