package hivescript

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for codec failures. Encode failures are fatal to the call;
// decode failures are recoverable at the line level.
var (
	ErrUnknownType      = errors.New("unknown record type")
	ErrInvalidFormat    = errors.New("no registered prefix matches line")
	ErrMalformedPayload = errors.New("malformed record payload")
)

// escaper applies the wire escaping in a single left-to-right pass: backslash
// first, then newline, carriage return, and colon. Escaping the marker itself
// first is what makes the transform unambiguous for payloads that already
// contain backslashes.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	":", `\:`,
)

// Codec encodes records to wire lines and back using a validated registry.
// It is a pure function over its inputs plus the registry and is safe for
// concurrent use.
type Codec struct {
	registry *Registry
}

// NewCodec returns a codec bound to the given registry.
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// Registry returns the registry the codec was built with.
func (c *Codec) Registry() *Registry { return c.registry }

// Encode turns a (type, payload) pair into one wire line: the registered
// prefix followed by the escaped payload.
func (c *Codec) Encode(typ RecordType, payload string) (string, error) {
	prefix, ok := c.registry.Prefix(typ)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return prefix + escaper.Replace(payload), nil
}

// EncodeFields encodes a structured record whose payload is n colon-separated
// fields. Each field is escaped independently, so literal colons inside a
// field survive while the separators stay bare on the wire.
func (c *Codec) EncodeFields(typ RecordType, fields ...string) (string, error) {
	prefix, ok := c.registry.Prefix(typ)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = escaper.Replace(f)
	}
	return prefix + strings.Join(escaped, ":"), nil
}

// Decode parses a wire line back into its record type and unescaped payload.
// The longest registered prefix wins; a line with no registered prefix fails
// with ErrInvalidFormat.
func (c *Codec) Decode(line string) (RecordType, string, error) {
	typ, rest, ok := c.registry.Match(line)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidFormat, truncateForError(line))
	}
	return typ, unescape(rest), nil
}

// DecodeFields parses a structured line into its record type and the
// unescaped fields, splitting only on separators that are not escaped.
func (c *Codec) DecodeFields(line string) (RecordType, []string, error) {
	typ, rest, ok := c.registry.Match(line)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidFormat, truncateForError(line))
	}
	raw := splitUnescaped(rest)
	fields := make([]string, len(raw))
	for i, f := range raw {
		fields[i] = unescape(f)
	}
	return typ, fields, nil
}

// unescape reverses the escaper in a single scan. It is lenient: an escape
// sequence it does not recognize is passed through unchanged rather than
// failing the line.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(':')
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

// splitUnescaped splits on colons that are not preceded by a backslash
// escape. The returned segments are still escaped.
func splitUnescaped(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++ // skip the escaped character
		case ':':
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// splitSettingPairs splits a settings payload on commas that are not
// backslash-escaped. The returned pairs still carry their escapes.
func splitSettingPairs(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++ // skip the escaped character
		case ',':
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// cutSettingPair splits a pair at its first unescaped '='.
func cutSettingPair(pair string) (key, value string, ok bool) {
	for i := 0; i < len(pair); i++ {
		switch pair[i] {
		case '\\':
			i++
		case '=':
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}

// unescapeSetting reverses the settings escaping. Like unescape it is
// lenient with sequences it does not recognize.
func unescapeSetting(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
		case ',':
			b.WriteByte(',')
		case '=':
			b.WriteByte('=')
		default:
			b.WriteByte(s[i])
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

const maxErrorLineLen = 80

func truncateForError(line string) string {
	if len(line) > maxErrorLineLen {
		return line[:maxErrorLineLen] + "..."
	}
	return line
}
