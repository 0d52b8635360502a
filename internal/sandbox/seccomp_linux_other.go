//go:build linux && !amd64 && !arm64

package sandbox

// Seccomp filtering is only wired for amd64 and arm64.
const auditArch uint32 = 0

var (
	baseSyscalls   []uintptr
	socketSyscalls []uintptr
)
