package links

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformedEscape = errors.New("malformed percent escape")
	ErrInvalidUTF8     = errors.New("escape sequence is not valid UTF-8")
	ErrTokenEncoding   = errors.New("undecodable placeholder bytes")
	ErrTokenOverflow   = errors.New("more placeholders than encoded characters")
)

// DecodeError reports a capture that matched a format but could not be
// decoded.
type DecodeError struct {
	Format  Format
	Capture string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s capture %q: %v", e.Format, e.Capture, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// percentDecode behaves like decodeURIComponent: '+' is left alone and both
// malformed escapes and escapes that do not form UTF-8 are rejected. Raw
// bytes outside escapes pass through as they are.
func percentDecode(s string) (string, error) {
	out, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEscape, err)
	}
	if !validEscapes(s) {
		return "", ErrInvalidUTF8
	}
	return out, nil
}

// validEscapes reports whether every run of consecutive %XX escapes in s
// decodes to valid UTF-8. s must already have passed url.PathUnescape.
func validEscapes(s string) bool {
	var run []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			if len(run) > 0 && !utf8.Valid(run) {
				return false
			}
			run = run[:0]
			continue
		}
		b, err := hex.DecodeString(s[i+1 : i+3])
		if err != nil {
			return false
		}
		run = append(run, b[0])
		i += 2
	}
	return utf8.Valid(run)
}

// unmangle reverses the URL Defense transport encoding, which writes '%' as
// '-' and '/' as '_'.
func unmangle(capture string) (string, error) {
	s := strings.ReplaceAll(capture, "-", "%")
	s = strings.ReplaceAll(s, "_", "/")
	return percentDecode(s)
}

// runLengths maps the character after "**" to the number of encoded
// characters the token stands for, starting at 2.
var runLengths = func() map[byte]int {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	m := make(map[byte]int, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		m[alphabet[i]] = i + 2
	}
	return m
}()

// fillTokens replaces the V3 placeholders in capture with characters taken
// in order from encoded, the base64url run that follows "__;". A single '*'
// takes one character, "**x" takes runLengths[x]. With no encoded run the
// capture is returned as is, '*' included.
func fillTokens(capture, encoded string) (string, error) {
	encoded = strings.TrimRight(encoded, "=")
	if encoded == "" || !strings.Contains(capture, "*") {
		return capture, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenEncoding, err)
	}
	if !utf8.Valid(raw) {
		return "", ErrTokenEncoding
	}
	chars := []rune(string(raw))
	next := 0
	take := func(n int) (string, error) {
		if next+n > len(chars) {
			return "", ErrTokenOverflow
		}
		s := string(chars[next : next+n])
		next += n
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(capture))
	for i := 0; i < len(capture); i++ {
		c := capture[i]
		if c != '*' {
			b.WriteByte(c)
			continue
		}
		n := 1
		if i+2 < len(capture) && capture[i+1] == '*' {
			if l, ok := runLengths[capture[i+2]]; ok {
				n = l
				i += 2
			}
		}
		s, err := take(n)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}
