package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/LuaWard/internal/config"
	"github.com/GriffinCanCode/LuaWard/internal/engine"
	"github.com/GriffinCanCode/LuaWard/internal/monitoring"
	"github.com/GriffinCanCode/LuaWard/internal/wire"
)

// closeTimeout bounds the graceful CLOSE handshake before the worker is
// killed outright.
const closeTimeout = 3 * time.Second

// Config is the host-side construction surface for an isolated engine.
type Config struct {
	// App carries limits, isolation and worker location. Nil selects
	// config.Default().
	App *config.Config
	// Callbacks are the host functions exposed to the guest. Their names
	// travel to the worker; their bodies run here.
	Callbacks map[string]engine.HostFunc
	// WorkerArgs overrides the worker argv after the binary path.
	WorkerArgs []string
	// ExtraEnv appends to the worker environment (tests use this).
	ExtraEnv []string
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
}

// Engine is the host handle to one isolation worker. All methods are
// blocking: the protocol has exactly one outstanding request, and a guest
// execution may nest exactly one callback round-trip at a time.
//
// A hung worker (native loop, no instruction limit) can only be cancelled
// externally: Kill is safe to call from another goroutine and tears the
// process down, after which the in-flight operation returns
// worker_unavailable.
type Engine struct {
	id        string
	cmd       *exec.Cmd
	codec     *wire.Codec
	stdin     io.WriteCloser
	callbacks map[string]engine.HostFunc
	log       *zap.Logger
	metrics   *monitoring.Metrics

	mu       sync.Mutex
	waitOnce sync.Once
	waitErr  error
	closed   bool
}

// Start spawns a worker process and waits for nothing: the worker applies
// its restrictions and builds its engine before reading the first
// command, so the first request observes any startup failure as channel
// EOF plus the exit status.
func Start(cfg Config) (*Engine, error) {
	// Annotate a copy; the caller's config stays untouched.
	app := config.Default()
	if cfg.App != nil {
		clone := *cfg.App
		app = &clone
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app.Engine.CallbackNames = callbackNames(cfg.Callbacks)

	args := cfg.WorkerArgs
	cmd := exec.Command(app.Worker.Path, args...)
	cmd.Env = append(os.Environ(), app.Environ()...)
	cmd.Env = append(cmd.Env, cfg.ExtraEnv...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}

	applySpawnIsolation(cmd, app.Isolation.FullIsolation)

	if err := cmd.Start(); err != nil {
		return nil, engine.NewError(engine.KindWorkerUnavailable, "start worker: %v", err)
	}

	e := &Engine{
		id:        uuid.NewString(),
		cmd:       cmd,
		codec:     wire.NewCodec(stdout, stdin),
		stdin:     stdin,
		callbacks: cfg.Callbacks,
		metrics:   cfg.Metrics,
	}
	e.log = log.With(zap.String("engine_id", e.id), zap.Int("worker_pid", cmd.Process.Pid))
	if e.metrics != nil {
		e.metrics.WorkersActive.Inc()
	}
	e.log.Debug("worker started")
	return e, nil
}

// Execute runs a script in the worker.
func (e *Engine) Execute(script string) error {
	timer := monitoring.NewTimer(e.metrics, "execute")
	_, err := e.roundTrip(&wire.Request{Op: wire.OpExecute, Script: script})
	timer.Stop(statusLabel(err))
	e.countError(err)
	return err
}

// Call invokes a guest function. Arguments are converted before anything
// is sent: an unconvertible argument fails the whole call with no guest
// code run.
func (e *Engine) Call(name string, args ...interface{}) (engine.Value, error) {
	values := make([]engine.Value, len(args))
	for i, a := range args {
		v, err := engine.FromGo(a)
		if err != nil {
			return engine.Nothing(), err
		}
		values[i] = v
	}

	timer := monitoring.NewTimer(e.metrics, "call")
	val, err := e.roundTrip(&wire.Request{Op: wire.OpCall, Name: name, Args: values})
	timer.Stop(statusLabel(err))
	e.countError(err)
	return val, err
}

// FunctionExists reports whether the guest global is a function. The only
// possible error is worker death.
func (e *Engine) FunctionExists(name string) (bool, error) {
	val, err := e.roundTrip(&wire.Request{Op: wire.OpExists, Name: name})
	if err != nil {
		return false, err
	}
	return val.Kind == engine.KindBool && val.Bool, nil
}

// Close performs the CLOSE handshake and reaps the worker, killing it if
// it does not exit in time. Idempotent. The handshake write happens under
// the same lock as roundTrip, so a concurrent Close waits for any
// in-flight operation to drain rather than interleaving frames on the
// codec; Kill is the escape hatch for a hung worker.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	// Best effort: the worker may already be dead.
	_ = e.codec.WriteRequest(&wire.Request{Op: wire.OpClose})
	_ = e.stdin.Close()
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.WorkersActive.Dec()
	}

	done := make(chan struct{})
	go func() {
		e.reap()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		e.log.Warn("worker did not exit, killing")
		_ = e.cmd.Process.Kill()
		<-done
	}
	return nil
}

// Kill terminates the worker immediately. Any blocked operation returns
// worker_unavailable.
func (e *Engine) Kill() {
	_ = e.cmd.Process.Kill()
	e.reap()
}

// Alive reports whether the worker process is still running and the
// handle has not been closed.
func (e *Engine) Alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.cmd.ProcessState == nil
}

// roundTrip sends one request and reads frames until a terminal response,
// servicing any nested callback requests in between.
func (e *Engine) roundTrip(req *wire.Request) (engine.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.Nothing(), engine.ErrClosed
	}

	if err := e.codec.WriteRequest(req); err != nil {
		return engine.Nothing(), e.unavailable(err)
	}

	for {
		var resp wire.Response
		if err := e.codec.ReadResponse(&resp); err != nil {
			return engine.Nothing(), e.unavailable(err)
		}

		switch resp.Status {
		case wire.StatusOK:
			return resp.Value, nil
		case wire.StatusError:
			return engine.Nothing(), resp.Err()
		case wire.StatusCallback:
			if err := e.serviceCallback(&resp); err != nil {
				return engine.Nothing(), e.unavailable(err)
			}
		default:
			return engine.Nothing(), e.unavailable(fmt.Errorf("unexpected frame status %q", resp.Status))
		}
	}
}

// serviceCallback runs the named host callback and answers the worker.
// The host-side failure detail crosses back for worker diagnostics, but
// the guest only ever sees a generic callback error.
func (e *Engine) serviceCallback(resp *wire.Response) error {
	if e.metrics != nil {
		e.metrics.CallbacksTotal.Inc()
	}

	answer := &wire.Request{Op: wire.OpCallbackResult, Result: engine.Nothing()}
	fn, ok := e.callbacks[resp.Callback]
	if !ok {
		answer.CallbackErr = fmt.Sprintf("callback %q not registered", resp.Callback)
	} else if result, err := fn(resp.Args); err != nil {
		e.log.Warn("host callback failed",
			zap.String("callback", resp.Callback),
			zap.Error(err))
		answer.CallbackErr = err.Error()
	} else {
		answer.Result = engine.ResultValue(result)
	}
	return e.codec.WriteRequest(answer)
}

// unavailable classifies a channel failure. Worker death (kernel kill by
// the syscall filter, the CPU-time limit, an address-space breach, or a
// plain crash) is a first-class outcome distinct from any error payload.
func (e *Engine) unavailable(cause error) error {
	// The channel is unusable either way; make sure the process is gone
	// before reaping so Wait cannot block on a live worker.
	_ = e.cmd.Process.Kill()
	e.reap()
	if e.cmd.ProcessState != nil {
		return engine.NewError(engine.KindWorkerUnavailable,
			"worker exited (%s): %v", e.cmd.ProcessState, cause)
	}
	return engine.NewError(engine.KindWorkerUnavailable, "worker channel broken: %v", cause)
}

func (e *Engine) reap() {
	e.waitOnce.Do(func() {
		e.waitErr = e.cmd.Wait()
	})
}

func (e *Engine) countError(err error) {
	if err == nil || e.metrics == nil {
		return
	}
	e.metrics.ErrorsTotal.WithLabelValues(engine.KindOf(err).String()).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func callbackNames(callbacks map[string]engine.HostFunc) []string {
	if len(callbacks) == 0 {
		return nil
	}
	names := make([]string, 0, len(callbacks))
	for name := range callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
