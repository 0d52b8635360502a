//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// namespaceEntries maps namespace names to their /proc/self/ns entries.
var namespaceEntries = []struct{ name, entry string }{
	{"mount", "mnt"},
	{"pid", "pid"},
	{"ipc", "ipc"},
	{"net", "net"},
	{"uts", "uts"},
}

func detect() Report {
	abi := landlockABI()

	r := Report{
		Backend:     "linux",
		Seccomp:     seccompAvailable() && auditArch != 0,
		Landlock:    abi > 0,
		LandlockABI: abi,
		Namespaces:  detectNamespaces("/proc/self/ns"),
		UserNS:      userNamespacesEnabled(),
		Cgroups:     fileExists("/sys/fs/cgroup/cgroup.controllers"),
	}

	if abi > 0 && abi < 4 {
		r.Notes = append(r.Notes, "landlock ABI < 4: network isolation relies on the network namespace")
	}
	if !r.Cgroups {
		r.Notes = append(r.Notes, "cgroup v2 not mounted: memory and CPU limits are not enforced")
	}
	if os.Geteuid() != 0 && !r.UserNS {
		r.Notes = append(r.Notes, "unprivileged user namespaces are disabled: sandboxed servers cannot start")
	}

	return r
}

func detectNamespaces(dir string) NamespaceSupport {
	var supported []string
	for _, ns := range namespaceEntries {
		if fileExists(filepath.Join(dir, ns.entry)) {
			supported = append(supported, ns.name)
		}
	}

	switch len(supported) {
	case 0:
		return NamespaceSupport{Level: NamespacesNone}
	case len(namespaceEntries):
		return NamespaceSupport{Level: NamespacesFull, Supported: supported}
	default:
		return NamespaceSupport{Level: NamespacesPartial, Supported: supported}
	}
}

func userNamespacesEnabled() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	return fileExists("/proc/self/ns/user")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
