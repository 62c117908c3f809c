package cli

import (
	"strings"
)

// formatEnv renders KEY=VALUE lines for a shell (sh) or a .env file (dotenv).
// Lines keep their order.
func formatEnv(environ []string, format string) (string, bool) {
	var quote func(string) string
	prefix := ""
	switch strings.TrimSpace(format) {
	case "", "sh":
		quote, prefix = shQuote, "export "
	case "dotenv":
		quote = dotenvQuote
	default:
		return "", false
	}
	var b strings.Builder
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		b.WriteString(prefix)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quote(v))
		b.WriteByte('\n')
	}
	return b.String(), true
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

// shQuote single-quotes s for POSIX shells: ' becomes '\''.
func shQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func dotenvQuote(s string) string {
	if s == "" {
		return `""`
	}
	if strings.IndexFunc(s, func(c rune) bool { return !dotenvSafe(c) }) < 0 {
		return s
	}
	esc := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	).Replace(s)
	return `"` + esc + `"`
}

func dotenvSafe(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.ContainsRune("_-./:", c)
}
