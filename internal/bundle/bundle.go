// Package bundle implements the parameter bundle a parent hands to a spawned
// child: a flat, immutable mapping of string keys to scalars, and its
// transport encoding.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/marcohefti/multiproc-lab/internal/codes"
)

// ReservedPrefix namespaces internal control keys. User keys may not use it.
const ReservedPrefix = "mpt."

// Bundle is immutable once built. The zero Bundle is empty and usable.
type Bundle struct {
	m map[string]Value
}

func Empty() Bundle { return Bundle{} }

// Of validates every entry of in and returns the resulting bundle. All
// violations are reported together as one MPT_E_MALFORMED_BUNDLE error.
func Of(in map[string]any) (Bundle, error) {
	if len(in) == 0 {
		return Bundle{}, nil
	}
	var merr *multierror.Error
	m := make(map[string]Value, len(in))
	for _, k := range sortedKeys(in) {
		if err := ValidateKey(k); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		v, err := ValueOf(in[k])
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("key %q: %w", k, err))
			continue
		}
		m[k] = v
	}
	if err := merr.ErrorOrNil(); err != nil {
		return Bundle{}, codes.Wrap(codes.MalformedBundle, err, "invalid bundle")
	}
	return Bundle{m: m}, nil
}

func MustOf(in map[string]any) Bundle {
	b, err := Of(in)
	if err != nil {
		panic(err)
	}
	return b
}

func ValidateKey(k string) error {
	if k == "" {
		return fmt.Errorf("empty key")
	}
	if !utf8.ValidString(k) {
		return fmt.Errorf("key %q is not valid utf-8", k)
	}
	if strings.HasPrefix(strings.ToLower(k), ReservedPrefix) {
		return fmt.Errorf("key %q uses reserved prefix %q", k, ReservedPrefix)
	}
	return nil
}

func (b Bundle) Len() int { return len(b.m) }

func (b Bundle) Keys() []string {
	keys := make([]string, 0, len(b.m))
	for k := range b.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b Bundle) Get(key string) (Value, bool) {
	v, ok := b.m[key]
	return v, ok
}

func (b Bundle) String(key string) (string, bool) {
	v, ok := b.m[key]
	if !ok || v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (b Bundle) Int(key string) (int64, bool) {
	v, ok := b.m[key]
	if !ok || v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (b Bundle) Float(key string) (float64, bool) {
	v, ok := b.m[key]
	if !ok || v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (b Bundle) Bool(key string) (bool, bool) {
	v, ok := b.m[key]
	if !ok || v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (b Bundle) Map() map[string]any {
	out := make(map[string]any, len(b.m))
	for k, v := range b.m {
		out[k] = v.Any()
	}
	return out
}

func (b Bundle) Equal(o Bundle) bool {
	if len(b.m) != len(o.m) {
		return false
	}
	for k, v := range b.m {
		ov, ok := o.m[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (b Bundle) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range b.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(b.m[k].Any())
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sortedKeys(in map[string]any) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
