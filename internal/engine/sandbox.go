package engine

import (
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Profile is the immutable allow-list the guest namespace is built from.
// It is fixed at engine construction; any symbol not listed here is
// unreachable from guest code through global lookup, library lookup, or
// built-in method dispatch.
type Profile struct {
	// Base lists the base-namespace names that survive.
	Base []string
	// Libraries maps a standard library name to its surviving symbols.
	Libraries map[string][]string
}

// denyList names are unset explicitly after filtering, regardless of any
// allow-list: everything that loads code, reflects into the runtime, or
// reaches external modules.
var denyList = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "getmetatable", "setmetatable",
	"rawget", "rawset", "rawequal",
	"os", "io", "debug", "package", "coroutine", "channel", "newproxy",
}

// libLoaders pairs each sandboxed library with its loader, in open order.
// The package library is opened first because the others register through
// it; it is denied again before any guest code runs.
var libLoaders = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.StringLibName, lua.OpenString},
	{lua.TabLibName, lua.OpenTable},
	{lua.MathLibName, lua.OpenMath},
}

// DefaultProfile returns the stock allow-list: pure computation only.
func DefaultProfile() *Profile {
	return &Profile{
		Base: []string{
			"_G", "_VERSION", "assert", "error", "ipairs", "next", "pairs",
			"pcall", "print", "select", "tonumber", "tostring", "type",
			"unpack", "xpcall",
		},
		Libraries: map[string][]string{
			lua.StringLibName: {
				"byte", "char", "find", "format", "gmatch", "gsub", "len",
				"lower", "match", "rep", "reverse", "sub", "upper",
			},
			lua.TabLibName: {
				"concat", "insert", "remove", "sort",
			},
			lua.MathLibName: {
				"abs", "acos", "asin", "atan", "ceil", "cos", "deg", "exp",
				"floor", "fmod", "huge", "log", "max", "min", "modf", "pi",
				"rad", "random", "randomseed", "sin", "sqrt", "tan",
			},
		},
	}
}

// apply builds the guest global namespace from scratch: open each library
// without trusting its global binding, copy only allow-listed symbols into
// a fresh table, rebind, then repair the string metatable and unset the
// deny-list. The metatable repair and deny-list must run after every
// library is filtered; doing either earlier leaves the unfiltered tables
// reachable for a window.
func (p *Profile) apply(L *lua.LState, output io.Writer) error {
	for _, lib := range libLoaders {
		err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			return fmt.Errorf("open %s library: %w", lib.name, err)
		}
	}

	filtered := make(map[string]*lua.LTable, len(p.Libraries))
	for name, symbols := range p.Libraries {
		orig, ok := L.GetGlobal(name).(*lua.LTable)
		if !ok {
			return fmt.Errorf("library %q did not register a table", name)
		}
		fresh := L.NewTable()
		for _, sym := range symbols {
			fresh.RawSetString(sym, orig.RawGetString(sym))
		}
		L.SetGlobal(name, fresh)
		filtered[name] = fresh
	}

	p.scrubBase(L)

	// Built-in string values dispatch through a shared metatable whose
	// __index still points at the discarded unfiltered library.
	if strTable, ok := filtered[lua.StringLibName]; ok {
		if mt, ok := L.GetMetatable(lua.LString("")).(*lua.LTable); ok {
			mt.RawSetString("__index", strTable)
		}
	}

	for _, name := range denyList {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(printTo(output)))
	return nil
}

// scrubBase removes every global that is neither allow-listed base nor a
// filtered library binding.
func (p *Profile) scrubBase(L *lua.LState) {
	keep := make(map[string]bool, len(p.Base)+len(p.Libraries))
	for _, name := range p.Base {
		keep[name] = true
	}
	for name := range p.Libraries {
		keep[name] = true
	}

	var remove []string
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if !keep[string(name)] {
			remove = append(remove, string(name))
		}
	})
	for _, name := range remove {
		L.SetGlobal(name, lua.LNil)
	}
}

// printTo rebinds print to an engine-owned writer. The process stdout is
// never handed to the guest: in a worker it carries the control channel.
func printTo(w io.Writer) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fmt.Fprintln(w, strings.Join(parts, "\t"))
		return 0
	}
}
