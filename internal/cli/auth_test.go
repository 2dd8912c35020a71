package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://one:8080", "dg_key_abc123def456"))
	require.NoError(t, saveCredential("http://two:8080", "dg_key_zzz999yyy888"))

	assert.Equal(t, "dg_key_abc123def456", getCredential("http://one:8080"))
	assert.Equal(t, "dg_key_zzz999yyy888", getCredential("http://two:8080"))
	assert.Empty(t, getCredential("http://unknown:8080"))

	// File permissions are restrictive
	info, err := os.Stat(credentialsFilePath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestCredentialsOverwrite(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://one:8080", "dg_key_old"))
	require.NoError(t, saveCredential("http://one:8080", "dg_key_new"))

	assert.Equal(t, "dg_key_new", getCredential("http://one:8080"))
}

func TestCredentialsMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	assert.Empty(t, getCredential("http://one:8080"))

	_, err := loadCredentials()
	assert.True(t, os.IsNotExist(err))
}

func TestAuthLogout(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://one:8080", "dg_key_abc"))
	require.NoError(t, saveCredential("http://two:8080", "dg_key_def"))

	require.NoError(t, runAuthLogout("http://one:8080", false))

	assert.Empty(t, getCredential("http://one:8080"))
	assert.Equal(t, "dg_key_def", getCredential("http://two:8080"))
}

func TestAuthLogoutAll(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://one:8080", "dg_key_abc"))
	require.NoError(t, runAuthLogout("", true))

	_, err := os.Stat(credentialsFilePath())
	assert.True(t, os.IsNotExist(err))
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "****"},
		{"short", "****"},
		{"dg_key_1234567890abcdef", "dg_key_1...cdef"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, maskAPIKey(tt.key))
	}
}

func TestCredentialsDirUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".deploygate"), credentialsDir())
}
