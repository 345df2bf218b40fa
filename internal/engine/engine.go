package engine

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Config is the engine construction surface.
type Config struct {
	// MemoryLimit bounds guest heap growth in bytes. Zero selects
	// DefaultMemoryLimit; the engine is never unbounded.
	MemoryLimit uint64
	// InstructionLimit bounds executed VM instructions per Execute/Call.
	// Zero means unbounded.
	InstructionLimit uint64
	// Callbacks maps guest-global names to host functions. Fixed for the
	// engine's lifetime.
	Callbacks map[string]HostFunc
	// Profile overrides the default allow-list.
	Profile *Profile
	// Output receives guest print output. Defaults to stderr; the guest
	// never writes to the process stdout.
	Output io.Writer
	// Logger receives host-side diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
}

// Engine owns one interpreter instance, one ledger, one budget
// configuration, one sandbox profile, and a read-only callback registry.
// It is strictly single-threaded: one guest execution at a time, which may
// itself block on one nested host callback.
type Engine struct {
	mu         sync.Mutex
	state      *lua.LState
	ledger     *Ledger
	instrLimit uint64
	callbacks  map[string]HostFunc
	log        *zap.Logger

	// baseline is the heap level observed at construction; guest usage is
	// growth above it. lastHeap is the previous sample fed to the ledger.
	baseline uint64
	lastHeap uint64

	lastExecuted uint64
	closed       bool
}

// New constructs a sandboxed engine. The guest namespace is fully built
// before this returns; no unfiltered symbol is ever reachable.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Profile == nil {
		cfg.Profile = DefaultProfile()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	e := &Engine{
		state:      L,
		ledger:     NewLedger(cfg.MemoryLimit),
		instrLimit: cfg.InstructionLimit,
		callbacks:  cfg.Callbacks,
		log:        cfg.Logger,
	}

	if err := cfg.Profile.apply(L, cfg.Output); err != nil {
		L.Close()
		return nil, fmt.Errorf("build sandbox profile: %w", err)
	}
	e.bindCallbacks()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	e.baseline = ms.HeapAlloc

	return e, nil
}

// Execute runs script as a top-level chunk. Global state it creates
// persists for the engine's remaining lifetime. The instruction budget is
// reset on entry and the trap removed on every exit path.
func (e *Engine) Execute(script string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	b := e.installTrap()
	defer e.removeTrap(b)

	if err := e.state.DoString(script); err != nil {
		return e.classify(err)
	}
	return nil
}

// Call invokes the guest global name with the given arguments and returns
// its single result. Multiple guest return values are truncated to one.
func (e *Engine) Call(name string, args ...Value) (Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Nothing(), ErrClosed
	}

	fn, ok := e.state.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return Nothing(), NewError(KindNotCallable, "global %q is not a function", name)
	}

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLua(a)
	}

	b := e.installTrap()
	defer e.removeTrap(b)

	err := e.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...)
	if err != nil {
		return Nothing(), e.classify(err)
	}

	ret := e.state.Get(-1)
	e.state.Pop(1)
	return fromLua(ret), nil
}

// FunctionExists reports whether name is bound to a guest function. It is
// a pure lookup: no budget, no side effects, and false (never an error)
// on a closed engine.
func (e *Engine) FunctionExists(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	_, ok := e.state.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Close releases the interpreter handle and drops the callback registry.
// Idempotent; the interpreter is released before any other teardown.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	e.state.Close()
	e.state = nil
	e.callbacks = nil
	e.ledger.Release(e.ledger.Allocated())
	return nil
}

// Instructions reports the instruction count of the most recent Execute
// or Call.
func (e *Engine) Instructions() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastExecuted
}

// MemoryAllocated reports the bytes currently tracked by the ledger.
func (e *Engine) MemoryAllocated() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Allocated()
}

// installTrap resets the budget and installs it on the interpreter for
// the duration of one entry point.
func (e *Engine) installTrap() *budget {
	var memCheck func() error
	if e.ledger.Limit() > 0 {
		memCheck = e.checkMemory
	}
	b := newBudget(e.instrLimit, memCheck)
	e.state.SetContext(b)
	return b
}

func (e *Engine) removeTrap(b *budget) {
	e.state.RemoveContext()
	e.lastExecuted = b.Executed()
}

// checkMemory samples heap growth since construction and pushes the delta
// through the ledger. The engine runs alone in its worker process, so
// process heap growth is engine usage; the address-space rlimit on the
// worker backstops anything this sampler cannot see.
func (e *Engine) checkMemory() error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var grown uint64
	if ms.HeapAlloc > e.baseline {
		grown = ms.HeapAlloc - e.baseline
	}
	prev := e.lastHeap
	e.lastHeap = grown
	return e.ledger.Reserve(prev, grown)
}

// classify converts a guest-side failure into a boundary error. The
// instruction-budget sentinel maps to KindResourceLimit; everything else
// guest-raised, including allocation refusals, is KindGuestRuntime with
// the guest text preserved.
func (e *Engine) classify(err error) error {
	msg := err.Error()
	if apiErr, ok := err.(*lua.ApiError); ok {
		msg = apiErr.Object.String()
	}
	if strings.Contains(msg, ErrInstructionLimit.Error()) {
		return NewError(KindResourceLimit, "%s", ErrInstructionLimit.Error())
	}
	return NewError(KindGuestRuntime, "%s", msg)
}
