package bundle

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/marcohefti/multiproc-lab/internal/codes"
)

// wireVersion prefixes every encoded bundle; decode refuses anything else.
const wireVersion = "v1:"

// Encode renders b as a single line safe for an environment variable or
// argv entry: keys sorted, entries joined by '&', each entry
// escape(key)=<tag>:escape(text).
func Encode(b Bundle) string {
	var sb strings.Builder
	sb.WriteString(wireVersion)
	for i, k := range b.Keys() {
		if i > 0 {
			sb.WriteByte('&')
		}
		v := b.m[k]
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteByte(v.kind.tag())
		sb.WriteByte(':')
		sb.WriteString(url.QueryEscape(v.Text()))
	}
	return sb.String()
}

// Decode is the inverse of Encode. Any inconsistency is MPT_E_MALFORMED_BUNDLE.
func Decode(s string) (Bundle, error) {
	rest, ok := strings.CutPrefix(s, wireVersion)
	if !ok {
		return Bundle{}, malformed("missing %q marker", wireVersion)
	}
	if rest == "" {
		return Bundle{}, nil
	}
	parts := strings.Split(rest, "&")
	m := make(map[string]Value, len(parts))
	for i, part := range parts {
		rawKey, rawVal, ok := strings.Cut(part, "=")
		if !ok {
			return Bundle{}, malformed("entry %d: missing '=' delimiter", i)
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return Bundle{}, malformed("entry %d: bad key escape: %v", i, err)
		}
		if err := ValidateKey(key); err != nil {
			return Bundle{}, malformed("entry %d: %v", i, err)
		}
		if _, dup := m[key]; dup {
			return Bundle{}, malformed("duplicate key %q", key)
		}
		if len(rawVal) < 2 || rawVal[1] != ':' {
			return Bundle{}, malformed("key %q: missing kind tag", key)
		}
		kind, ok := kindForTag(rawVal[0])
		if !ok {
			return Bundle{}, malformed("key %q: unknown kind tag %q", key, rawVal[0])
		}
		text, err := url.QueryUnescape(rawVal[2:])
		if err != nil {
			return Bundle{}, malformed("key %q: bad value escape: %v", key, err)
		}
		v, err := parseValue(kind, text)
		if err != nil {
			return Bundle{}, malformed("key %q: %v", key, err)
		}
		m[key] = v
	}
	return Bundle{m: m}, nil
}

func malformed(format string, args ...any) error {
	return codes.New(codes.MalformedBundle, fmt.Sprintf(format, args...))
}
