//go:build !windows

package perms

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

// Not parallel: changes the process umask.
func TestModes_OnDisk(t *testing.T) {
	old := syscall.Umask(0o022)
	t.Cleanup(func() { syscall.Umask(old) })

	dir := filepath.Join(t.TempDir(), "audit")
	require.NoError(t, os.Mkdir(dir, RegularDir))

	auditPath := filepath.Join(dir, "audit.log")
	f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, AuditFile)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	configPath := filepath.Join(dir, ".mcpshield.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[server]\n"), RegularFile))

	for path, want := range map[string]os.FileMode{dir: RegularDir, auditPath: AuditFile, configPath: RegularFile} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, want, info.Mode().Perm(), path)
	}
}
