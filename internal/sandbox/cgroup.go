package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/perms"
)

// DefaultCgroupRoot is the cgroup v2 directory under which per-server groups are created.
const DefaultCgroupRoot = "/sys/fs/cgroup/mcpshield"

// cpuPeriodMicros is the cpu.max period.
const cpuPeriodMicros = 100000

// cgroup is a cgroup v2 group holding one server's processes.
type cgroup struct {
	dir string
}

// memoryMax returns the memory.max value for the constraints.
func memoryMax(c Constraints) string {
	return strconv.FormatUint(c.MaxMemoryMB*1024*1024, 10)
}

// cpuMax returns the cpu.max value ("<quota> <period>") for the constraints.
func cpuMax(c Constraints) string {
	quota := uint64(c.MaxCPUPercent) * cpuPeriodMicros / 100
	return fmt.Sprintf("%d %d", quota, cpuPeriodMicros)
}

// cgroupName turns a server name into a safe directory name.
func cgroupName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 || name == "." || name == ".." {
		return "server"
	}
	return b.String()
}

// newCgroup creates the group and writes its limits.
func newCgroup(root string, name string, c Constraints) (*cgroup, error) {
	if err := os.MkdirAll(root, perms.RegularDir); err != nil {
		return nil, fmt.Errorf("creating cgroup root: %w", err)
	}

	// Controllers must be enabled on the parent before children can use them; this fails harmlessly when they
	// already are or when the file does not exist (tests).
	_ = os.WriteFile(filepath.Join(root, "cgroup.subtree_control"), []byte("+memory +cpu"), perms.RegularFile)

	dir := filepath.Join(root, cgroupName(name))
	if err := os.Mkdir(dir, perms.RegularDir); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("creating cgroup: %w", err)
	}

	cg := &cgroup{dir: dir}
	if err := cg.write("memory.max", memoryMax(c)); err != nil {
		_ = cg.remove()
		return nil, err
	}
	if err := cg.write("cpu.max", cpuMax(c)); err != nil {
		_ = cg.remove()
		return nil, err
	}

	return cg, nil
}

func (cg *cgroup) write(file string, value string) error {
	if err := os.WriteFile(filepath.Join(cg.dir, file), []byte(value), perms.RegularFile); err != nil {
		return fmt.Errorf("writing %s: %w", file, err)
	}
	return nil
}

// addProcess moves pid into the group.
func (cg *cgroup) addProcess(pid int) error {
	return cg.write("cgroup.procs", strconv.Itoa(pid))
}

// remove deletes the group. The group must have no live processes.
func (cg *cgroup) remove() error {
	if err := os.Remove(cg.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing cgroup %s: %w", cg.dir, err)
	}
	return nil
}
