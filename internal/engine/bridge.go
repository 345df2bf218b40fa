package engine

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// HostFunc is a host callback invokable from guest code. Arguments arrive
// already converted; the result may be any supported scalar (or a Value),
// with a text fallback for anything else. Returning an error fails the
// guest call with a generic catchable error; the host-side detail is
// never re-exposed into the guest.
type HostFunc func(args []Value) (interface{}, error)

// bindCallbacks installs one guest global per registered callback. The
// registry is populated only here and read-only afterward, so dispatch
// needs no locking. The guest sees a plain callable; the host reference
// behind it lives as long as the engine does.
func (e *Engine) bindCallbacks() {
	for name, fn := range e.callbacks {
		name, fn := name, fn
		e.state.SetGlobal(name, e.state.NewFunction(func(L *lua.LState) int {
			top := L.GetTop()
			args := make([]Value, 0, top)
			for i := 1; i <= top; i++ {
				args = append(args, fromLua(L.Get(i)))
			}

			result, err := fn(args)
			if err != nil {
				e.log.Warn("host callback failed",
					zap.String("callback", name),
					zap.Error(err))
				L.RaiseError("host callback failed")
				return 0
			}

			L.Push(toLua(ResultValue(result)))
			return 1
		}))
	}
}
