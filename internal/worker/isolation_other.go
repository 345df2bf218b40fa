//go:build !linux

package worker

import "errors"

// applyRestrictions is a stub off Linux: the harness's kernel-level
// guarantees (rlimits, privilege drop, seccomp) do not exist elsewhere,
// so anything beyond a plain unrestricted worker is refused outright
// rather than silently weakened.
func applyRestrictions(cfg IsolationConfig) error {
	if cfg.FullIsolation || cfg.UID >= 0 || cfg.GID >= 0 || cfg.CPULimitSeconds > 0 {
		return errors.New("worker isolation requires linux")
	}
	return nil
}
