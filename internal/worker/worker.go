package worker

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/LuaWard/internal/engine"
	"github.com/GriffinCanCode/LuaWard/internal/wire"
)

// state tracks the worker lifecycle. Transitions are one-way except the
// READY/EXECUTING loop; CLOSED is terminal and the process is expected to
// exit once it is reached.
type state int

const (
	stateInit state = iota
	stateReady
	stateExecuting
	stateAwaitingCallback
	stateClosed
)

// IsolationConfig describes the OS restrictions applied once, in order,
// before any script runs. Namespace isolation is the spawner's job (clone
// flags); everything here happens inside the worker process.
type IsolationConfig struct {
	// UID and GID to drop to after limits are set. Negative leaves the
	// credentials unchanged.
	UID int
	GID int
	// FullIsolation installs the syscall filter and the stricter limits.
	FullIsolation bool
	// CPULimitSeconds is the hard kernel CPU-time ceiling for the whole
	// process. Zero means unbounded.
	CPULimitSeconds uint64
	// MemoryLimit drives the address-space rlimit backstop.
	MemoryLimit uint64
}

// enabled reports whether any OS restriction was requested. The memory
// limit alone does not count: its rlimit backstop is only sized when some
// restriction is in play, since the engine ledger already enforces it.
func (c IsolationConfig) enabled() bool {
	return c.UID >= 0 || c.GID >= 0 || c.FullIsolation || c.CPULimitSeconds > 0
}

// Config is the worker construction surface.
type Config struct {
	Engine engine.Config
	// CallbackNames lists the host callbacks to expose as guest globals;
	// their bodies live in the host process and are reached over the
	// channel.
	CallbackNames []string
	Isolation     IsolationConfig
}

// Worker hosts exactly one engine behind a control channel.
type Worker struct {
	id    string
	codec *wire.Codec
	eng   *engine.Engine
	log   *zap.Logger
	state state
}

var errClosedDuringCallback = errors.New("worker closed while awaiting callback response")

// Run applies the OS restrictions, builds the engine, and serves commands
// from r, writing results to w, until CLOSE or channel EOF. It is the
// entire life of a worker process.
func Run(r io.Reader, w io.Writer, cfg Config, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	wk := &Worker{
		id:    uuid.NewString(),
		codec: wire.NewCodec(r, w),
		state: stateInit,
	}
	wk.log = log.With(zap.String("worker_id", wk.id))

	cfg.Isolation.MemoryLimit = cfg.Engine.MemoryLimit
	if cfg.Isolation.enabled() {
		if err := applyRestrictions(cfg.Isolation); err != nil {
			return fmt.Errorf("apply restrictions: %w", err)
		}
	}

	cfg.Engine.Logger = wk.log
	cfg.Engine.Callbacks = wk.callbackProxies(cfg.CallbackNames)
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	wk.eng = eng
	defer eng.Close()

	wk.state = stateReady
	wk.log.Info("worker ready",
		zap.Uint64("memory_limit", cfg.Engine.MemoryLimit),
		zap.Uint64("instruction_limit", cfg.Engine.InstructionLimit),
		zap.Bool("full_isolation", cfg.Isolation.FullIsolation))

	for wk.state != stateClosed {
		var req wire.Request
		if err := wk.codec.ReadRequest(&req); err != nil {
			if errors.Is(err, io.EOF) {
				wk.log.Info("host closed channel")
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		if err := wk.handle(&req); err != nil {
			return err
		}
	}
	return nil
}

// handle serves one command. Guest failures become StatusError frames;
// only channel failures propagate, since a broken channel means the host
// is gone.
func (wk *Worker) handle(req *wire.Request) error {
	switch req.Op {
	case wire.OpExecute:
		wk.state = stateExecuting
		err := wk.eng.Execute(req.Script)
		if wk.state == stateClosed {
			// CLOSE arrived during a callback round-trip; the host is no
			// longer waiting for this execution's result.
			return nil
		}
		wk.state = stateReady
		return wk.respond(engine.Nothing(), err)

	case wire.OpCall:
		wk.state = stateExecuting
		val, err := wk.eng.Call(req.Name, req.Args...)
		if wk.state == stateClosed {
			return nil
		}
		wk.state = stateReady
		return wk.respond(val, err)

	case wire.OpExists:
		exists := wk.eng.FunctionExists(req.Name)
		return wk.respond(engine.Boolean(exists), nil)

	case wire.OpClose:
		wk.state = stateClosed
		wk.eng.Close()
		return wk.codec.WriteResponse(&wire.Response{
			Status: wire.StatusOK,
			Value:  engine.Nothing(),
		})

	default:
		wk.log.Warn("unexpected command", zap.String("op", string(req.Op)))
		return wk.respond(engine.Nothing(),
			engine.NewError(engine.KindGuestRuntime, "unexpected command %q", req.Op))
	}
}

func (wk *Worker) respond(val engine.Value, err error) error {
	if err != nil {
		return wk.codec.WriteResponse(wire.ErrorResponse(err))
	}
	return wk.codec.WriteResponse(&wire.Response{Status: wire.StatusOK, Value: val})
}

// callbackProxies builds host functions that forward each invocation over
// the channel and block for the response. The round-trip is strictly
// nested inside the current execution: the worker writes one
// StatusCallback frame and the very next request must answer it.
func (wk *Worker) callbackProxies(names []string) map[string]engine.HostFunc {
	if len(names) == 0 {
		return nil
	}
	proxies := make(map[string]engine.HostFunc, len(names))
	for _, name := range names {
		name := name
		proxies[name] = func(args []engine.Value) (interface{}, error) {
			wk.state = stateAwaitingCallback
			defer func() {
				if wk.state == stateAwaitingCallback {
					wk.state = stateExecuting
				}
			}()

			err := wk.codec.WriteResponse(&wire.Response{
				Status:   wire.StatusCallback,
				Callback: name,
				Args:     args,
			})
			if err != nil {
				return nil, err
			}

			var req wire.Request
			if err := wk.codec.ReadRequest(&req); err != nil {
				return nil, err
			}
			switch req.Op {
			case wire.OpCallbackResult:
				if req.CallbackErr != "" {
					return nil, errors.New(req.CallbackErr)
				}
				return req.Result, nil
			case wire.OpClose:
				wk.state = stateClosed
				return nil, errClosedDuringCallback
			default:
				return nil, fmt.Errorf("unexpected command %q during callback", req.Op)
			}
		}
	}
	return proxies
}
