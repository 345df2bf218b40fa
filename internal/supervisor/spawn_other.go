//go:build !linux

package supervisor

import "os/exec"

// applySpawnIsolation is a no-op off Linux; the worker itself refuses any
// isolation it cannot provide.
func applySpawnIsolation(_ *exec.Cmd, _ bool) {}
