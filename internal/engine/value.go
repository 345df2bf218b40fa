package engine

import (
	"fmt"
	"math"
	"strconv"

	"github.com/bytedance/sonic"
	lua "github.com/yuin/gopher-lua"
)

// ValueKind tags the closed set of scalar types that cross the host/guest
// boundary. Adding a kind is a compile-time-visible change: every switch
// over ValueKind in this package enumerates all five.
type ValueKind int

const (
	KindNothing ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindText
)

// Value is the tagged scalar union exchanged between host and guest. It
// is plain data; the custom JSON form below lets it travel over the wire
// even when the float has no JSON representation.
//
// The guest interpreter has a single number type; integral guest numbers
// surface as KindInt, everything else as KindFloat. Host integers lower
// through that same number type, so magnitudes beyond 2^53 lose precision
// entering the guest (see toLua).
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Text  string
}

// wireValue is the JSON shape of Value. Non-finite floats (Inf, NaN) have
// no JSON number form and sonic refuses them, so they travel as text in
// float_text instead of killing the channel.
type wireValue struct {
	Kind      ValueKind `json:"kind"`
	Bool      bool      `json:"bool,omitempty"`
	Int       int64     `json:"int,omitempty"`
	Float     float64   `json:"float,omitempty"`
	FloatText string    `json:"float_text,omitempty"`
	Text      string    `json:"text,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.Kind, Bool: v.Bool, Int: v.Int, Text: v.Text}
	if v.Kind == KindFloat {
		if math.IsInf(v.Float, 0) || math.IsNaN(v.Float) {
			w.FloatText = strconv.FormatFloat(v.Float, 'g', -1, 64)
		} else {
			w.Float = v.Float
		}
	}
	return sonic.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := sonic.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = Value{Kind: w.Kind, Bool: w.Bool, Int: w.Int, Float: w.Float, Text: w.Text}
	if w.FloatText != "" {
		f, err := strconv.ParseFloat(w.FloatText, 64)
		if err != nil {
			return fmt.Errorf("decode float %q: %w", w.FloatText, err)
		}
		v.Float = f
	}
	return nil
}

// Nothing is the absent value (guest nil).
func Nothing() Value { return Value{Kind: KindNothing} }

// Boolean wraps a bool.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Integer wraps a signed 64-bit integer.
func Integer(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float wraps a 64-bit float.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Text wraps a UTF-8 string.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// FromGo converts a host value into a Value. Anything outside the
// supported scalar set fails with KindUnsupportedType; nothing is coerced
// silently.
func FromGo(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Nothing(), nil
	case Value:
		return x, nil
	case bool:
		return Boolean(x), nil
	case int:
		return Integer(int64(x)), nil
	case int8:
		return Integer(int64(x)), nil
	case int16:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case uint:
		return Integer(int64(x)), nil
	case uint8:
		return Integer(int64(x)), nil
	case uint16:
		return Integer(int64(x)), nil
	case uint32:
		return Integer(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, NewError(KindUnsupportedType, "uint64 value %d overflows int64", x)
		}
		return Integer(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return Text(x), nil
	default:
		return Value{}, NewError(KindUnsupportedType, "unsupported host type %T", v)
	}
}

// ResultValue converts a host callback result, falling back to its text
// representation when the type has no direct mapping. The fallback exists
// only for callback results; arguments never degrade this way.
func ResultValue(v interface{}) Value {
	val, err := FromGo(v)
	if err != nil {
		return Text(fmt.Sprint(v))
	}
	return val
}

// toLua lowers a Value into the interpreter. The interpreter's number
// type is a float64, so integers keep their exact value only within
// ±2^53; larger magnitudes land on the nearest representable float.
func toLua(v Value) lua.LValue {
	switch v.Kind {
	case KindNothing:
		return lua.LNil
	case KindBool:
		return lua.LBool(v.Bool)
	case KindInt:
		return lua.LNumber(float64(v.Int))
	case KindFloat:
		return lua.LNumber(v.Float)
	case KindText:
		return lua.LString(v.Text)
	default:
		return lua.LNil
	}
}

// fromLua lifts a guest value. Composite guest values (tables, functions,
// userdata) have no scalar mapping and degrade to Nothing.
func fromLua(lv lua.LValue) Value {
	switch x := lv.(type) {
	case *lua.LNilType:
		return Nothing()
	case lua.LBool:
		return Boolean(bool(x))
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return Integer(int64(f))
		}
		return Float(f)
	case lua.LString:
		return Text(string(x))
	default:
		return Nothing()
	}
}

// Interface returns the Value as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindNothing:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNothing:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindText:
		return v.Text
	default:
		return "nil"
	}
}
