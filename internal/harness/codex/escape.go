package codex

import (
	"fmt"
	"strconv"
	"strings"
)

// Escape makes value safe inside a double-quoted config scalar, which follows
// TOML basic-string rules. Backslash, quote, newline, carriage return and tab
// get their short escapes; every other control character becomes \uXXXX.
// Unescape(Escape(s)) == s for every s.
func Escape(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		switch c := value[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Quote wraps the escaped value in double quotes.
func Quote(value string) string {
	return `"` + Escape(value) + `"`
}

// Unescape reverses Escape. Unknown or malformed escape sequences are kept verbatim.
func Unescape(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i == len(value)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch value[i] {
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u', 'U':
			width := 4
			if value[i] == 'U' {
				width = 8
			}
			if r, ok := hexRune(value, i+1, width); ok {
				b.WriteRune(r)
				i += width
				continue
			}
			b.WriteByte('\\')
			b.WriteByte(value[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

func hexRune(value string, start, width int) (rune, bool) {
	if start+width > len(value) {
		return 0, false
	}
	code, err := strconv.ParseUint(value[start:start+width], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(code), true
}
