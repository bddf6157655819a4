// Package keys encodes key sequences for injection into a remote editor.
//
// Callers write keys the way they would in a mapping: plain text mixed with
// angle-bracket notation such as <Esc>, <CR> or <C-w>. The encoded form is
// meant to sit inside a double-quoted Vim string (typically the argument of
// feedkeys()) that is itself delivered with --remote-send. That path expands
// key notation twice, so recognised tokens are rewritten to survive the first
// expansion and literal text is escaped for the string.
package keys

import (
	"fmt"
	"regexp"
	"strings"
)

// Marker is the no-op key inserted before the closing bracket of every
// recognised token. --remote-send expands it to nothing, which leaves the
// `\<Name>` form for the double-quoted string to turn into one keypress.
const Marker = "<Ignore>"

var (
	tokenPattern    = regexp.MustCompile(`<[^<>\s"]+>`)
	modifierPattern = regexp.MustCompile(`(?i)^(?:[CSMAD]-)+(?:[^<>\s"-]|[a-z][a-z0-9]+|-)$`)
)

// named lists the recognised key names, lowercased.
var named = map[string]bool{
	"cr": true, "enter": true, "return": true, "nl": true,
	"esc": true, "space": true, "tab": true, "bs": true,
	"del": true, "insert": true, "home": true, "end": true,
	"pageup": true, "pagedown": true,
	"up": true, "down": true, "left": true, "right": true,
	"bar": true, "bslash": true, "lt": true,
}

func init() {
	for i := 1; i <= 12; i++ {
		named[fmt.Sprintf("f%d", i)] = true
	}
}

// IsSymbolic reports whether token (brackets included) names a key rather
// than literal text.
func IsSymbolic(token string) bool {
	if len(token) < 3 || token[0] != '<' || token[len(token)-1] != '>' {
		return false
	}
	name := token[1 : len(token)-1]
	if named[strings.ToLower(name)] {
		return true
	}
	return modifierPattern.MatchString(name)
}

// Token is one piece of a key sequence.
type Token struct {
	Text     string
	Symbolic bool
}

// Tokenize splits s into literal runs and symbolic keys. Angle-bracket text
// that is not a recognised key stays part of the surrounding literal run.
func Tokenize(s string) []Token {
	var tokens []Token
	literal := func(text string) {
		if text == "" {
			return
		}
		if n := len(tokens); n > 0 && !tokens[n-1].Symbolic {
			tokens[n-1].Text += text
			return
		}
		tokens = append(tokens, Token{Text: text})
	}

	last := 0
	for _, loc := range tokenPattern.FindAllStringIndex(s, -1) {
		token := s[loc[0]:loc[1]]
		if !IsSymbolic(token) {
			continue
		}
		literal(s[last:loc[0]])
		tokens = append(tokens, Token{Text: token, Symbolic: true})
		last = loc[1]
	}
	literal(s[last:])
	return tokens
}

// Encode joins parts and returns the escaped sequence.
func Encode(parts ...string) string {
	var b strings.Builder
	for _, tok := range Tokenize(strings.Join(parts, "")) {
		if tok.Symbolic {
			b.WriteString(`\`)
			b.WriteString(tok.Text[:len(tok.Text)-1])
			b.WriteString(Marker)
			b.WriteString(">")
			continue
		}
		escapeLiteral(&b, tok.Text)
	}
	return b.String()
}

func escapeLiteral(b *strings.Builder, s string) {
	for _, r := range s {
		switch {
		case r == '"' || r == '\\' || r == '(' || r == ')':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
}

// Literal escapes s so it reaches a double-quoted string as plain text with
// no key notation recognised at either expansion. Use it for file names and
// other data that must not be interpreted as keys.
func Literal(s string) string {
	var b strings.Builder
	for _, part := range strings.SplitAfter(s, "<") {
		if text, ok := strings.CutSuffix(part, "<"); ok {
			escapeLiteral(&b, text)
			b.WriteString(`\x3c`)
			continue
		}
		escapeLiteral(&b, part)
	}
	return b.String()
}
