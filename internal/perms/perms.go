// Package perms defines the modes mcpshield uses for the files and directories it creates,
// and checks the modes it finds on disk.
package perms

import "os"

const (
	// RegularFile is used for the config skeleton, the daemon log, cgroup control files and generated docs.
	RegularFile os.FileMode = 0o644

	// AuditFile is used for the audit log and its rotations.
	// Audit entries carry user identities and tool arguments, so only the owner may read them.
	AuditFile os.FileMode = 0o600
)

// RegularDir is used for the audit log directory, per-server cgroups and generated docs.
const RegularDir os.FileMode = 0o755

// Within reports whether actual grants nothing that allowed does not.
func Within(actual, allowed os.FileMode) bool {
	return actual.Perm()&^allowed.Perm() == 0
}
