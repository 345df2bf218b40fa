//go:build linux

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// applySpawnIsolation configures the namespace restrictions that must be
// in place before the worker's first instruction. Full isolation drops
// the worker into fresh user and network namespaces (no interfaces, no
// routes), with the spawning user mapped inside so the worker can still
// drop to an unprivileged uid without host-level privilege. The worker is
// killed by the kernel if the host dies first.
func applySpawnIsolation(cmd *exec.Cmd, fullIsolation bool) {
	attr := &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
	if fullIsolation {
		attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET
		attr.UidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		}
		attr.GidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		}
		attr.GidMappingsEnableSetgroups = false
	}
	cmd.SysProcAttr = attr
}
