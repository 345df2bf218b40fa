//go:build linux

package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  IsolationConfig
		want bool
	}{
		{"all off", IsolationConfig{UID: -1, GID: -1}, false},
		{"memory limit alone", IsolationConfig{UID: -1, GID: -1, MemoryLimit: 1 << 20}, false},
		{"uid drop", IsolationConfig{UID: 1000, GID: -1}, true},
		{"gid drop", IsolationConfig{UID: -1, GID: 1000}, true},
		{"cpu limit", IsolationConfig{UID: -1, GID: -1, CPULimitSeconds: 5}, true},
		{"full isolation", IsolationConfig{UID: -1, GID: -1, FullIsolation: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.enabled())
		})
	}
}

func TestApplyRestrictionsOneShot(t *testing.T) {
	// Nothing requested, so the first call changes no process state but
	// still consumes the one-shot.
	cfg := IsolationConfig{UID: -1, GID: -1}
	require.NoError(t, applyRestrictions(cfg))

	err := applyRestrictions(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already applied")
}

func TestDropPrivilegesUnchanged(t *testing.T) {
	// Negative ids leave credentials alone regardless of who runs this.
	assert.NoError(t, dropPrivileges(-1, -1))
}
