//go:build linux

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// seccomp constants (include/uapi/linux/seccomp.h).
const (
	seccompSetModeFilter   = 1
	seccompFilterFlagTSync = 1 << 0

	seccompRetAllow = 0x7fff0000
	seccompRetErrno = 0x00050000

	// Offsets into struct seccomp_data.
	seccompDataNr   = 0
	seccompDataArch = 4
)

// syscallAllowlist returns the syscalls a sandboxed process may use.
// Socket syscalls are only included when network access is allowed.
func syscallAllowlist(network bool) []uintptr {
	allowed := append([]uintptr(nil), baseSyscalls...)
	if network {
		allowed = append(allowed, socketSyscalls...)
	}
	return allowed
}

// buildSeccompFilter assembles a classic BPF program that allows the listed syscalls for arch and fails every
// other syscall (and any other architecture) with EPERM.
func buildSeccompFilter(arch uint32, allowed []uintptr) ([]unix.SockFilter, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("empty syscall allowlist")
	}
	// Jump offsets are 8 bit.
	if len(allowed) > 254 {
		return nil, fmt.Errorf("syscall allowlist too large: %d", len(allowed))
	}

	deny := uint32(seccompRetErrno | (uint32(unix.EPERM) & 0xffff))

	prog := []unix.SockFilter{
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataArch),
		bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, arch, 1, 0),
		bpfStmt(unix.BPF_RET|unix.BPF_K, deny),
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataNr),
	}

	n := len(allowed)
	for i, nr := range allowed {
		// On match skip the remaining comparisons and the deny to land on the allow.
		prog = append(prog, bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, uint32(nr), uint8(n-i), 0))
	}

	prog = append(prog,
		bpfStmt(unix.BPF_RET|unix.BPF_K, deny),
		bpfStmt(unix.BPF_RET|unix.BPF_K, seccompRetAllow),
	)

	return prog, nil
}

func bpfStmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func bpfJump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// installSeccomp loads the filter for all threads of the process, falling back to the calling thread when the
// kernel lacks the seccomp syscall. no_new_privs must already be set.
func installSeccomp(network bool) error {
	if auditArch == 0 {
		return fmt.Errorf("seccomp filtering is not supported on this architecture")
	}

	filter, err := buildSeccompFilter(auditArch, syscallAllowlist(network))
	if err != nil {
		return err
	}

	prog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}

	_, _, errno := unix.Syscall(
		unix.SYS_SECCOMP,
		seccompSetModeFilter,
		seccompFilterFlagTSync,
		uintptr(unsafe.Pointer(&prog)),
	)
	if errno == 0 {
		return nil
	}
	if errno != unix.ENOSYS {
		return fmt.Errorf("seccomp(SET_MODE_FILTER): %w", errno)
	}

	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_SECCOMP): %w", err)
	}

	return nil
}

// seccompAvailable reports whether the kernel supports seccomp filters.
func seccompAvailable() bool {
	_, err := unix.PrctlRetInt(unix.PR_GET_SECCOMP, 0, 0, 0, 0)
	return err == nil
}
