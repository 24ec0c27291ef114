package filex

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	// idempotent
	require.NoError(t, EnsureDir(dir))
}

func TestEnsureDir_FailsOnFileCollision(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "x")
	require.NoError(t, os.WriteFile(file, []byte("f"), 0o640))

	require.Error(t, EnsureDir(filepath.Join(file, "sub")))
}

func TestEqual(t *testing.T) {
	big := strings.Repeat("0123456789abcdef", 10_000) // crosses the chunk size

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"both empty", "", "", true},
		{"identical short", "hello", "hello", true},
		{"identical long", big, big, true},
		{"different content", "hello", "hellp", false},
		{"different length", "hello", "hello!", false},
		{"prefix relation long", big, big + "x", false},
		{"late difference", big + "a", big + "b", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Equal(bytes.NewReader([]byte(tc.a)), bytes.NewReader([]byte(tc.b)))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
