// Package luaward runs untrusted Lua scripts inside sandboxed, resource-
// bounded interpreters, optionally behind disposable isolated worker
// processes.
//
// Two levels of containment are available. Engine embeds the interpreter
// in-process with memory and instruction budgets and an allow-list
// namespace; Isolated adds the process harness (namespaces, rlimits,
// privilege drop, seccomp) so that even a native-level failure inside
// the guest cannot touch the host.
package luaward

import (
	"github.com/GriffinCanCode/LuaWard/internal/config"
	"github.com/GriffinCanCode/LuaWard/internal/engine"
	"github.com/GriffinCanCode/LuaWard/internal/supervisor"
)

// Value is the scalar union crossing the host/guest boundary.
type Value = engine.Value

// HostFunc is a host callback invokable from guest code.
type HostFunc = engine.HostFunc

// Error is a classified engine failure.
type Error = engine.Error

// Kind classifies engine failures.
type Kind = engine.Kind

// Error kinds, re-exported for callers switching on failure class.
const (
	KindGuestRuntime      = engine.KindGuestRuntime
	KindClosedEngine      = engine.KindClosedEngine
	KindNotCallable       = engine.KindNotCallable
	KindUnsupportedType   = engine.KindUnsupportedType
	KindResourceLimit     = engine.KindResourceLimit
	KindWorkerUnavailable = engine.KindWorkerUnavailable
)

// Value constructors.
var (
	Nothing = engine.Nothing
	Boolean = engine.Boolean
	Integer = engine.Integer
	Float   = engine.Float
	Text    = engine.Text
)

// Engine is an in-process sandboxed interpreter.
type Engine = engine.Engine

// EngineConfig configures an in-process engine.
type EngineConfig = engine.Config

// NewEngine builds an in-process sandboxed engine. Prefer Isolated for
// untrusted input unless the process boundary is provided elsewhere.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	return engine.New(cfg)
}

// Isolated is the host handle to one sandboxed engine running in its own
// restricted worker process.
type Isolated = supervisor.Engine

// IsolatedConfig configures an isolated engine.
type IsolatedConfig = supervisor.Config

// Config is the limits/isolation surface shared by host and worker.
type Config = config.Config

// DefaultConfig returns the stock limits: 5 MiB of guest memory, no
// instruction ceiling, isolation off.
func DefaultConfig() *Config { return config.Default() }

// StartIsolated spawns a worker process hosting one sandboxed engine.
func StartIsolated(cfg IsolatedConfig) (*Isolated, error) {
	return supervisor.Start(cfg)
}

// Pool runs scripts across a fixed set of isolated workers.
type Pool = supervisor.Pool

// NewPool starts size isolated workers.
func NewPool(cfg IsolatedConfig, size int) (*Pool, error) {
	return supervisor.NewPool(cfg, size)
}
