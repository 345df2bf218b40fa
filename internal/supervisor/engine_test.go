package supervisor

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/LuaWard/internal/config"
	"github.com/GriffinCanCode/LuaWard/internal/engine"
	"github.com/GriffinCanCode/LuaWard/internal/worker"
)

// TestHelperWorker re-executes this test binary as a worker process. The
// supervisor tests spawn os.Args[0] with -test.run pointing here; outside
// that mode it does nothing. os.Exit keeps the test framework's PASS line
// off stdout, which carries the protocol.
func TestHelperWorker(t *testing.T) {
	if os.Getenv("LUAWARD_TEST_WORKER") != "1" {
		t.Skip("helper process for supervisor tests")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "helper worker:", err)
		os.Exit(2)
	}
	wcfg := worker.Config{
		Engine: engine.Config{
			MemoryLimit:      cfg.Engine.MemoryLimit,
			InstructionLimit: cfg.Engine.InstructionLimit,
			Output:           os.Stderr,
		},
		CallbackNames: cfg.Engine.CallbackNames,
		Isolation: worker.IsolationConfig{
			UID: cfg.Isolation.UID,
			GID: cfg.Isolation.GID,
		},
	}
	if err := worker.Run(os.Stdin, os.Stdout, wcfg, nil); err != nil {
		fmt.Fprintln(os.Stderr, "helper worker:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func testConfig() Config {
	app := config.Default()
	app.Engine.MemoryLimit = 256 * 1024 * 1024
	app.Worker.Path = os.Args[0]
	return Config{
		App:        app,
		WorkerArgs: []string{"-test.run=TestHelperWorker"},
		ExtraEnv:   []string{"LUAWARD_TEST_WORKER=1"},
	}
}

func startTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := Start(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestIsolatedExecute(t *testing.T) {
	eng := startTestEngine(t, testConfig())

	require.NoError(t, eng.Execute("x = 40 + 2"))

	err := eng.Execute(`error("boom")`)
	require.Error(t, err)
	assert.Equal(t, engine.KindGuestRuntime, engine.KindOf(err))
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, eng.Alive())
}

func TestIsolatedCall(t *testing.T) {
	eng := startTestEngine(t, testConfig())
	require.NoError(t, eng.Execute(`function greet(name) return "Hello, " .. name end`))

	val, err := eng.Call("greet", "User")
	require.NoError(t, err)
	assert.Equal(t, engine.Text("Hello, User"), val)

	t.Run("unconvertible argument fails before sending", func(t *testing.T) {
		_, err := eng.Call("greet", []int{1})
		require.Error(t, err)
		assert.Equal(t, engine.KindUnsupportedType, engine.KindOf(err))
		assert.True(t, eng.Alive())
	})

	t.Run("missing function", func(t *testing.T) {
		_, err := eng.Call("nope")
		require.Error(t, err)
		assert.Equal(t, engine.KindNotCallable, engine.KindOf(err))
	})

	t.Run("non-finite values cross intact", func(t *testing.T) {
		require.NoError(t, eng.Execute("function ident(x) return x end"))
		val, err := eng.Call("ident", math.Inf(1))
		require.NoError(t, err)
		assert.Equal(t, engine.Float(math.Inf(1)), val)

		require.NoError(t, eng.Execute("function div(a, b) return a / b end"))
		val, err = eng.Call("div", 1, 0)
		require.NoError(t, err)
		assert.Equal(t, engine.Float(math.Inf(1)), val)
		assert.True(t, eng.Alive())
	})
}

func TestIsolatedFunctionExists(t *testing.T) {
	eng := startTestEngine(t, testConfig())
	require.NoError(t, eng.Execute("function f() end v = 3"))

	exists, err := eng.FunctionExists("f")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = eng.FunctionExists("v")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = eng.FunctionExists("missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIsolatedCallbacks(t *testing.T) {
	cfg := testConfig()
	cfg.Callbacks = map[string]engine.HostFunc{
		"double": func(args []engine.Value) (interface{}, error) {
			return args[0].Int * 2, nil
		},
		"broken": func([]engine.Value) (interface{}, error) {
			return nil, errors.New("host-side secret")
		},
	}
	eng := startTestEngine(t, cfg)

	t.Run("round trip across the process boundary", func(t *testing.T) {
		require.NoError(t, eng.Execute("result = double(21)"))
		require.NoError(t, eng.Execute("function get() return result end"))
		val, err := eng.Call("get")
		require.NoError(t, err)
		assert.Equal(t, engine.Integer(42), val)
	})

	t.Run("host failure stays hidden from the guest", func(t *testing.T) {
		err := eng.Execute("broken()")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host callback failed")
		assert.NotContains(t, err.Error(), "secret")
		assert.True(t, eng.Alive(), "worker survives a failed callback")
	})
}

func TestIsolatedStatePersistsAcrossRequests(t *testing.T) {
	eng := startTestEngine(t, testConfig())

	require.NoError(t, eng.Execute("counter = 1"))
	require.NoError(t, eng.Execute("counter = counter + 1"))
	require.NoError(t, eng.Execute("function get() return counter end"))

	val, err := eng.Call("get")
	require.NoError(t, err)
	assert.Equal(t, engine.Integer(2), val)
}

func TestIsolatedClose(t *testing.T) {
	eng := startTestEngine(t, testConfig())
	require.NoError(t, eng.Execute("x = 1"))

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close(), "close is idempotent")
	assert.False(t, eng.Alive())

	err := eng.Execute("x = 2")
	require.Error(t, err)
	assert.Equal(t, engine.KindClosedEngine, engine.KindOf(err))
}

func TestIsolatedCloseDuringExecute(t *testing.T) {
	eng := startTestEngine(t, testConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	var execErr error
	go func() {
		defer wg.Done()
		execErr = eng.Execute("local n = 0 for i = 1, 5000000 do n = n + i end")
	}()

	// Close serializes behind the in-flight execution instead of
	// interleaving frames with it.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, eng.Close())
	wg.Wait()

	if execErr != nil {
		assert.Equal(t, engine.KindClosedEngine, engine.KindOf(execErr))
	}
	assert.False(t, eng.Alive())
}

func TestStartLeavesCallerConfigAlone(t *testing.T) {
	cfg := testConfig()
	cfg.Callbacks = map[string]engine.HostFunc{
		"double": func(args []engine.Value) (interface{}, error) {
			return args[0].Int * 2, nil
		},
	}

	eng, err := Start(cfg)
	require.NoError(t, err)
	defer eng.Close()

	assert.Empty(t, cfg.App.Engine.CallbackNames)
}

func TestIsolatedWorkerDeath(t *testing.T) {
	eng := startTestEngine(t, testConfig())
	require.NoError(t, eng.Execute("x = 1"))

	eng.Kill()

	// Give the pipe a moment to report the broken channel.
	require.Eventually(t, func() bool {
		err := eng.Execute("x = 2")
		return err != nil && engine.KindOf(err) == engine.KindWorkerUnavailable
	}, 5*time.Second, 50*time.Millisecond)
	assert.False(t, eng.Alive())
}

func TestIsolatedStartFailure(t *testing.T) {
	app := config.Default()
	app.Worker.Path = "/nonexistent/luaward-worker"
	_, err := Start(Config{App: app})
	require.Error(t, err)
	assert.Equal(t, engine.KindWorkerUnavailable, engine.KindOf(err))
}
