//go:build linux

package worker

import (
	"errors"
	"fmt"

	seccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

// addressSpaceHeadroom is added on top of the guest memory limit when
// sizing RLIMIT_AS: the Go runtime reserves virtual address space well
// beyond what the guest is allowed to touch.
const addressSpaceHeadroom = 512 * 1024 * 1024

// maxWorkerThreads caps RLIMIT_NPROC under full isolation. The runtime
// needs a handful of threads; a guest-triggered native fork bomb does not.
const maxWorkerThreads = 64

var restrictionsApplied bool

// applyRestrictions performs the one-way INIT transitions, strictly in
// order: resource limits, then privilege drop, then the syscall filter.
// The order matters: the filter removes the very syscalls the earlier
// steps need. The sequence is one-shot; a second call is an error rather
// than a silent no-op.
func applyRestrictions(cfg IsolationConfig) error {
	if restrictionsApplied {
		return errors.New("restrictions already applied to this process")
	}
	restrictionsApplied = true

	if err := applyResourceLimits(cfg); err != nil {
		return err
	}
	if err := dropPrivileges(cfg.UID, cfg.GID); err != nil {
		return err
	}
	if cfg.FullIsolation {
		if err := installSyscallFilter(); err != nil {
			return err
		}
	}
	return nil
}

func applyResourceLimits(cfg IsolationConfig) error {
	if cfg.CPULimitSeconds > 0 {
		lim := unix.Rlimit{Cur: cfg.CPULimitSeconds, Max: cfg.CPULimitSeconds}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &lim); err != nil {
			return fmt.Errorf("set cpu limit: %w", err)
		}
	}

	if cfg.MemoryLimit > 0 {
		as := cfg.MemoryLimit + addressSpaceHeadroom
		lim := unix.Rlimit{Cur: as, Max: as}
		if err := unix.Setrlimit(unix.RLIMIT_AS, &lim); err != nil {
			return fmt.Errorf("set address space limit: %w", err)
		}
	}

	if cfg.FullIsolation {
		lim := unix.Rlimit{Cur: maxWorkerThreads, Max: maxWorkerThreads}
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &lim); err != nil {
			return fmt.Errorf("set process limit: %w", err)
		}
		zero := unix.Rlimit{Cur: 0, Max: 0}
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &zero); err != nil {
			return fmt.Errorf("set file size limit: %w", err)
		}
	}
	return nil
}

// dropPrivileges switches to the configured credentials. Group first:
// setgid is not permitted anymore once the uid is dropped.
func dropPrivileges(uid, gid int) error {
	if gid >= 0 {
		if err := unix.Setgroups([]int{gid}); err != nil {
			return fmt.Errorf("set supplementary groups: %w", err)
		}
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf("drop gid: %w", err)
		}
	}
	if uid >= 0 {
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf("drop uid: %w", err)
		}
	}
	return nil
}

// allowedSyscalls is what the worker needs after initialization: the Go
// runtime's memory, scheduling, signal and poller syscalls, plus pipe
// reads/writes for the control channel. No open, no socket family, no
// exec family; a violation kills the process, which the supervisor
// reports as worker_unavailable.
var allowedSyscalls = []string{
	"read", "write", "close", "fstat", "lseek", "fcntl",
	"mmap", "munmap", "mprotect", "madvise", "brk", "mincore", "membarrier",
	"futex", "sched_yield", "sched_getaffinity", "clone", "clone3",
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack",
	"gettid", "getpid", "tgkill", "restart_syscall",
	"clock_gettime", "clock_nanosleep", "nanosleep",
	"epoll_create1", "epoll_ctl", "epoll_pwait", "epoll_wait",
	"eventfd2", "pipe2",
	"getrandom", "set_robust_list", "rseq",
	"exit", "exit_group",
}

func installSyscallFilter() error {
	filter := seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy: seccomp.Policy{
			DefaultAction: seccomp.ActionKillProcess,
			Syscalls: []seccomp.SyscallGroup{
				{
					Action: seccomp.ActionAllow,
					Names:  allowedSyscalls,
				},
			},
		},
	}
	if err := seccomp.LoadFilter(filter); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
