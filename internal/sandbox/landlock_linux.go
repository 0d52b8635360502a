//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Landlock ABI constants (include/uapi/linux/landlock.h).
const (
	landlockCreateRulesetVersion = 1
	landlockRulePathBeneath      = 1

	llFSExecute    = 1 << 0
	llFSWriteFile  = 1 << 1
	llFSReadFile   = 1 << 2
	llFSReadDir    = 1 << 3
	llFSRemoveDir  = 1 << 4
	llFSRemoveFile = 1 << 5
	llFSMakeChar   = 1 << 6
	llFSMakeDir    = 1 << 7
	llFSMakeReg    = 1 << 8
	llFSMakeSock   = 1 << 9
	llFSMakeFifo   = 1 << 10
	llFSMakeBlock  = 1 << 11
	llFSMakeSym    = 1 << 12
	llFSRefer      = 1 << 13 // ABI 2
	llFSTruncate   = 1 << 14 // ABI 3

	llNetBindTCP    = 1 << 0 // ABI 4
	llNetConnectTCP = 1 << 1 // ABI 4
)

const (
	llFSRead = llFSExecute | llFSReadFile | llFSReadDir

	llFSWriteV1 = llFSWriteFile | llFSRemoveDir | llFSRemoveFile | llFSMakeChar | llFSMakeDir | llFSMakeReg |
		llFSMakeSock | llFSMakeFifo | llFSMakeBlock | llFSMakeSym

	// Rights that are meaningful on a non-directory file.
	llFSFileRights = llFSExecute | llFSWriteFile | llFSReadFile | llFSTruncate
)

type landlockRulesetAttr struct {
	handledAccessFS  uint64
	handledAccessNet uint64
}

// landlockPathBeneathAttr mirrors the packed kernel struct; the kernel reads the first 12 bytes.
type landlockPathBeneathAttr struct {
	allowedAccess uint64
	parentFd      int32
}

// systemReadPaths stay readable in path-restricted mode so that dynamically linked servers can exec and load
// their libraries.
var systemReadPaths = []string{"/usr", "/lib", "/lib64", "/bin", "/sbin", "/etc", "/proc", "/dev"}

// landlockABI returns the Landlock ABI version supported by the kernel, or 0 when unavailable.
func landlockABI() int {
	v, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, landlockCreateRulesetVersion)
	if errno != 0 {
		return 0
	}
	return int(v)
}

// handledFSAccess returns every filesystem right the given ABI knows about.
func handledFSAccess(abi int) uint64 {
	access := uint64(llFSRead | llFSWriteV1)
	if abi >= 2 {
		access |= llFSRefer
	}
	if abi >= 3 {
		access |= llFSTruncate
	}
	return access
}

// landlockRule is a path and the rights granted beneath it.
type landlockRule struct {
	path   string
	access uint64
}

// landlockPlan computes the rules for the constraints.
// The returned bool reports whether filesystem access needs to be handled at all.
func landlockPlan(c Constraints, target string, abi int) ([]landlockRule, bool) {
	handled := handledFSAccess(abi)
	write := handled &^ llFSRead

	switch c.Filesystem.Mode {
	case FilesystemFull:
		return nil, false
	case FilesystemReadOnly:
		return []landlockRule{
			{path: "/", access: llFSRead},
			{path: "/dev/null", access: llFSReadFile | llFSWriteFile},
		}, true
	default:
		rules := make([]landlockRule, 0, len(systemReadPaths)+len(c.Filesystem.Paths)+2)
		for _, p := range systemReadPaths {
			rules = append(rules, landlockRule{path: p, access: llFSRead})
		}
		rules = append(rules,
			landlockRule{path: filepath.Dir(target), access: llFSRead},
			landlockRule{path: "/dev/null", access: llFSReadFile | llFSWriteFile},
		)
		for _, p := range c.Filesystem.Paths {
			rules = append(rules, landlockRule{path: p, access: llFSRead | write})
		}
		return rules, true
	}
}

// applyLandlock restricts the calling thread (and the program it execs) according to c.
// Filesystem rules follow the filesystem mode; when network is disabled and the kernel supports it, TCP bind and
// connect are denied too.
func applyLandlock(c Constraints, target string) error {
	abi := landlockABI()
	if abi < 1 {
		return fmt.Errorf("landlock is not supported by this kernel")
	}

	rules, handleFS := landlockPlan(c, target, abi)

	attr := landlockRulesetAttr{}
	size := unsafe.Sizeof(attr.handledAccessFS)
	if handleFS {
		attr.handledAccessFS = handledFSAccess(abi)
	}
	if !c.Network && abi >= 4 {
		attr.handledAccessNet = llNetBindTCP | llNetConnectTCP
		size = unsafe.Sizeof(attr)
	}

	if attr.handledAccessFS == 0 && attr.handledAccessNet == 0 {
		return nil
	}

	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, uintptr(unsafe.Pointer(&attr)), size, 0)
	if errno != 0 {
		return fmt.Errorf("landlock_create_ruleset: %w", errno)
	}
	rulesetFd := int(fd)
	defer unix.Close(rulesetFd)

	for _, r := range rules {
		if err := addPathRule(rulesetFd, r, attr.handledAccessFS); err != nil {
			// A missing path (e.g. /lib64 on some distributions) must not defeat the whole ruleset.
			if errors.Is(err, unix.ENOENT) {
				continue
			}
			return fmt.Errorf("adding landlock rule for %s: %w", r.path, err)
		}
	}

	if _, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(rulesetFd), 0, 0); errno != 0 {
		return fmt.Errorf("landlock_restrict_self: %w", errno)
	}

	return nil
}

func addPathRule(rulesetFd int, r landlockRule, handled uint64) error {
	fd, err := unix.Open(r.path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	access := r.access & handled
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		access &= llFSFileRights
	}

	attr := landlockPathBeneathAttr{allowedAccess: access, parentFd: int32(fd)}
	_, _, errno := unix.Syscall6(
		unix.SYS_LANDLOCK_ADD_RULE,
		uintptr(rulesetFd),
		landlockRulePathBeneath,
		uintptr(unsafe.Pointer(&attr)),
		0, 0, 0,
	)
	if errno != 0 {
		return errno
	}

	return nil
}
