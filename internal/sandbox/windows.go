//go:build windows

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"unsafe"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/windows"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// CPU rate control flags (winnt.h); not exposed by x/sys/windows.
const (
	cpuRateControlEnable  = 0x1
	cpuRateControlHardCap = 0x4
)

// cpuRateControlInformation mirrors JOBOBJECT_CPU_RATE_CONTROL_INFORMATION.
type cpuRateControlInformation struct {
	ControlFlags uint32
	CPURate      uint32
}

// jobLimits converts c into the memory and CPU limits of a job.
// The CPU rate is expressed in 1/100 of a percent.
func jobLimits(c Constraints) (windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION, cpuRateControlInformation) {
	limits := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_PROCESS_MEMORY | windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
		ProcessMemoryLimit: uintptr(c.MaxMemoryMB * 1024 * 1024),
	}
	rate := cpuRateControlInformation{
		ControlFlags: cpuRateControlEnable | cpuRateControlHardCap,
		CPURate:      c.MaxCPUPercent * 100,
	}
	return limits, rate
}

// JobObject places each child in a Windows Job Object with memory and CPU limits.
type JobObject struct {
	logger      hclog.Logger
	constraints Constraints
}

func newPlatformSandbox(logger hclog.Logger, c Constraints) (Sandbox, error) {
	l := logger.Named("job-object")

	// Launching inside an AppContainer needs PROC_THREAD_ATTRIBUTE_SECURITY_CAPABILITIES, which os/exec cannot
	// pass, so capabilities are only derived and validated.
	for _, sid := range AppContainerCapabilities(c) {
		if _, err := windows.StringToSid(sid); err != nil {
			return nil, fmt.Errorf("invalid capability SID %s: %w", sid, err)
		}
	}
	l.Warn("AppContainer isolation is not applied, only Job Object limits are enforced")

	return &JobObject{logger: l, constraints: c}, nil
}

// Constraints implements Sandbox.
func (j *JobObject) Constraints() Constraints {
	return j.constraints
}

// Kind implements Sandbox.
func (j *JobObject) Kind() string {
	return "job-object"
}

// Spawn implements Sandbox.
func (j *JobObject) Spawn(ctx context.Context, c Command) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	job, err := j.createJob()
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "creating job object for %s", c.Name)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = BuildEnv(j.constraints.EnvInherit, c.Env)
	cmd.Dir = c.Dir

	p, err := start(cmd)
	if err != nil {
		_ = windows.CloseHandle(job)
		return nil, errors.Wrap(errors.KindSandbox, err, "spawning %s", c.Name)
	}

	if err := assignToJob(job, p.Pid()); err != nil {
		j.logger.Warn("Resource limits not applied", "server", c.Name, "error", err)
		_ = windows.CloseHandle(job)
		return p, nil
	}

	// Closing the last handle kills every process left in the job.
	p.addCleanup(func() error { return windows.CloseHandle(job) })

	return p, nil
}

func (j *JobObject) createJob() (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}

	limits, rate := jobLimits(j.constraints)
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&limits)),
		uint32(unsafe.Sizeof(limits)),
	); err != nil {
		_ = windows.CloseHandle(job)
		return 0, fmt.Errorf("setting memory limit: %w", err)
	}

	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectCpuRateControlInformation,
		uintptr(unsafe.Pointer(&rate)),
		uint32(unsafe.Sizeof(rate)),
	); err != nil {
		j.logger.Warn("CPU rate limit not applied", "error", err)
	}

	return job, nil
}

func assignToJob(job windows.Handle, pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("opening process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.AssignProcessToJobObject(job, h); err != nil {
		return fmt.Errorf("assigning process %d to job: %w", pid, err)
	}

	return nil
}

// RunInit is only used on Linux.
func RunInit(_ []string) error {
	return errors.Sandbox("%s is only supported on linux", InitCommandName)
}

func detect() Report {
	return Report{
		Backend:    "job-object",
		JobObjects: true,
		Notes:      []string{"AppContainer capabilities are derived but not applied"},
	}
}
