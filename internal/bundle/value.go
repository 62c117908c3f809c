package bundle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// tag is the one-letter wire prefix for a kind.
func (k Kind) tag() byte {
	switch k {
	case KindString:
		return 's'
	case KindInt:
		return 'i'
	case KindFloat:
		return 'f'
	case KindBool:
		return 'b'
	default:
		return 0
	}
}

func kindForTag(c byte) (Kind, bool) {
	switch c {
	case 's':
		return KindString, true
	case 'i':
		return KindInt, true
	case 'f':
		return KindFloat, true
	case 'b':
		return KindBool, true
	default:
		return 0, false
	}
}

// Value is one scalar in a Bundle. The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Float panics on NaN or Inf because neither survives the equality round-trip.
// Use ValueOf for unchecked input.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic("bundle: non-finite float")
	}
	return Value{kind: KindFloat, f: f}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) Valid() bool { return v.kind != 0 }
func (v Value) Str() string { return v.s }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool { return v.b }

func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

func (v Value) String() string {
	if v.kind == KindString {
		return strconv.Quote(v.s)
	}
	return v.Text()
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// ValueOf converts a Go scalar into a Value. Anything outside the closed
// scalar set is rejected.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		if !t.Valid() {
			return Value{}, fmt.Errorf("invalid value")
		}
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return uintValue(uint64(t))
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return uintValue(t)
	case float32:
		return floatValue(float64(t))
	case float64:
		return floatValue(t)
	case nil:
		return Value{}, fmt.Errorf("nil value")
	default:
		return Value{}, fmt.Errorf("unsupported type %T", x)
	}
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("unsigned value %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("non-finite float %v", f)
	}
	return Value{kind: KindFloat, f: f}, nil
}

func parseValue(k Kind, text string) (Value, error) {
	switch k {
	case KindString:
		return String(text), nil
	case KindInt:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, err
		}
		return floatValue(f)
	case KindBool:
		switch text {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, fmt.Errorf("invalid bool %q", text)
	default:
		return Value{}, fmt.Errorf("unknown kind")
	}
}

// ParseValue reads the "<kind>:<text>" form used on command lines, where kind
// is a wire tag (s, i, f, b) or a kind name (string, int, float, bool).
func ParseValue(kindText string) (Value, error) {
	name, text, ok := strings.Cut(kindText, ":")
	if !ok {
		return Value{}, fmt.Errorf("missing kind in %q (expected kind:value)", kindText)
	}
	var k Kind
	switch name {
	case "s", "string":
		k = KindString
	case "i", "int":
		k = KindInt
	case "f", "float":
		k = KindFloat
	case "b", "bool":
		k = KindBool
	default:
		return Value{}, fmt.Errorf("unknown kind %q", name)
	}
	return parseValue(k, text)
}
