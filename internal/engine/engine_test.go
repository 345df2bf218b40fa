package engine

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	// A generous limit keeps heap sampling noise from other tests out of
	// the way; the limit-specific tests set their own.
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = 256 * 1024 * 1024
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecute(t *testing.T) {
	e := newTestEngine(t, Config{})

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{"empty chunk", "", false},
		{"assignment", "x = 1 + 2", false},
		{"function definition", "function f() return 1 end", false},
		{"syntax error", "this is not lua", true},
		{"runtime error", `error("boom")`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Execute(tt.script)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindGuestRuntime, KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecuteStatePersists(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Execute("counter = 10"))
	require.NoError(t, e.Execute("counter = counter + 5"))

	require.NoError(t, e.Execute("function get() return counter end"))
	val, err := e.Call("get")
	require.NoError(t, err)
	assert.Equal(t, Integer(15), val)
}

func TestCall(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Execute(`
		function greet(name) return "Hello, " .. name end
		function add(a, b) return a + b end
		function nothing() end
		function multi() return 1, 2, 3 end
		not_a_function = 42
	`))

	t.Run("string result", func(t *testing.T) {
		val, err := e.Call("greet", Text("User"))
		require.NoError(t, err)
		assert.Equal(t, Text("Hello, User"), val)
	})

	t.Run("integer arithmetic", func(t *testing.T) {
		val, err := e.Call("add", Integer(2), Integer(3))
		require.NoError(t, err)
		assert.Equal(t, Integer(5), val)
	})

	t.Run("float arithmetic", func(t *testing.T) {
		val, err := e.Call("add", Float(1.5), Integer(1))
		require.NoError(t, err)
		assert.Equal(t, Float(2.5), val)
	})

	t.Run("no return is nothing", func(t *testing.T) {
		val, err := e.Call("nothing")
		require.NoError(t, err)
		assert.Equal(t, Nothing(), val)
	})

	t.Run("multiple returns truncated to first", func(t *testing.T) {
		val, err := e.Call("multi")
		require.NoError(t, err)
		assert.Equal(t, Integer(1), val)
	})

	t.Run("missing global", func(t *testing.T) {
		_, err := e.Call("no_such_fn")
		require.Error(t, err)
		assert.Equal(t, KindNotCallable, KindOf(err))
	})

	t.Run("non-function global", func(t *testing.T) {
		_, err := e.Call("not_a_function")
		require.Error(t, err)
		assert.Equal(t, KindNotCallable, KindOf(err))
	})

	t.Run("guest error", func(t *testing.T) {
		require.NoError(t, e.Execute(`function fail() error("inner") end`))
		_, err := e.Call("fail")
		require.Error(t, err)
		assert.Equal(t, KindGuestRuntime, KindOf(err))
		assert.Contains(t, err.Error(), "inner")
	})
}

func TestFunctionExists(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Execute(`
		function f() end
		v = 1
	`))

	assert.True(t, e.FunctionExists("f"))
	assert.False(t, e.FunctionExists("v"), "non-function global")
	assert.False(t, e.FunctionExists("missing"))
}

func TestCallbacks(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		e := newTestEngine(t, Config{
			Callbacks: map[string]HostFunc{
				"double": func(args []Value) (interface{}, error) {
					return args[0].Int * 2, nil
				},
			},
		})
		require.NoError(t, e.Execute("result = double(21)"))
		require.NoError(t, e.Execute("function get() return result end"))
		val, err := e.Call("get")
		require.NoError(t, err)
		assert.Equal(t, Integer(42), val)
	})

	t.Run("host error hidden from guest", func(t *testing.T) {
		e := newTestEngine(t, Config{
			Callbacks: map[string]HostFunc{
				"broken": func([]Value) (interface{}, error) {
					return nil, errors.New("secret database password leaked")
				},
			},
		})
		err := e.Execute("broken()")
		require.Error(t, err)
		assert.Equal(t, KindGuestRuntime, KindOf(err))
		assert.Contains(t, err.Error(), "host callback failed")
		assert.NotContains(t, err.Error(), "secret")
	})

	t.Run("guest can catch host error", func(t *testing.T) {
		e := newTestEngine(t, Config{
			Callbacks: map[string]HostFunc{
				"broken": func([]Value) (interface{}, error) {
					return nil, errors.New("nope")
				},
			},
		})
		require.NoError(t, e.Execute(`
			ok, msg = pcall(broken)
			assert(ok == false)
		`))
	})

	t.Run("unconvertible result degrades to text", func(t *testing.T) {
		e := newTestEngine(t, Config{
			Callbacks: map[string]HostFunc{
				"listy": func([]Value) (interface{}, error) {
					return []int{1, 2}, nil
				},
			},
		})
		require.NoError(t, e.Execute(`
			v = listy()
			assert(type(v) == "string")
		`))
	})
}

func TestInstructionLimit(t *testing.T) {
	e := newTestEngine(t, Config{InstructionLimit: 10000})

	err := e.Execute("while true do end")
	require.Error(t, err)
	assert.Equal(t, KindResourceLimit, KindOf(err))
	assert.Contains(t, err.Error(), "instruction limit exceeded")
}

func TestInstructionBudgetResetsPerEntry(t *testing.T) {
	e := newTestEngine(t, Config{InstructionLimit: 200000})

	// Each execution gets a fresh budget: repeating a chunk that fits the
	// limit must keep succeeding.
	script := "local n = 0 for i = 1, 1000 do n = n + i end"
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Execute(script))
	}
	assert.Greater(t, e.Instructions(), uint64(0))
}

func TestMemoryLimit(t *testing.T) {
	e := newTestEngine(t, Config{MemoryLimit: 1024 * 1024})

	// Bounded per-iteration growth, so the periodic sample catches the
	// breach long before the process itself is at risk.
	err := e.Execute(`local t={} for i=1,10^7 do t[i]=i end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough memory")
}

func TestClose(t *testing.T) {
	e, err := New(Config{MemoryLimit: 64 * 1024 * 1024})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")

	t.Run("execute after close", func(t *testing.T) {
		err := e.Execute("x = 1")
		require.Error(t, err)
		assert.Equal(t, KindClosedEngine, KindOf(err))
	})

	t.Run("call after close", func(t *testing.T) {
		_, err := e.Call("f")
		require.Error(t, err)
		assert.Equal(t, KindClosedEngine, KindOf(err))
	})

	t.Run("exists after close", func(t *testing.T) {
		assert.False(t, e.FunctionExists("f"))
	})

	assert.Equal(t, uint64(0), e.MemoryAllocated())
}

func TestGuestPrintGoesToOutput(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, Config{Output: &buf})

	require.NoError(t, e.Execute(`print("hello from guest")`))
	assert.Equal(t, "hello from guest\n", buf.String())
}

func TestSandboxedByDefault(t *testing.T) {
	e := newTestEngine(t, Config{})

	for _, script := range []string{
		`assert(os == nil)`,
		`assert(io == nil)`,
		`assert(load == nil)`,
		`assert(debug == nil)`,
	} {
		require.NoError(t, e.Execute(script), script)
	}
}

func TestInstructionsObservable(t *testing.T) {
	e := newTestEngine(t, Config{})
	require.NoError(t, e.Execute("local n = 0 for i = 1, 100 do n = n + 1 end"))
	assert.Greater(t, e.Instructions(), uint64(100))
}

func TestClassify(t *testing.T) {
	e := newTestEngine(t, Config{})

	err := e.Execute(fmt.Sprintf(`error(%q)`, "plain message"))
	require.Error(t, err)
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, KindGuestRuntime, engErr.Kind)
	assert.Contains(t, engErr.Message, "plain message")
}
