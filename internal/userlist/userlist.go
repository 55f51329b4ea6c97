// Package userlist decodes user-id list fields that arrive in several shapes:
// a JSON array, a bracketed list literal such as ['U1', 'U2'], or a single
// bare identifier. Literals are parsed by a small dedicated scanner and are
// never evaluated.
package userlist

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind records which shape a value was decoded from.
type Kind int

const (
	KindEmpty Kind = iota
	KindJSON
	KindLiteral
	KindSingle
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindJSON:
		return "json"
	case KindLiteral:
		return "literal"
	case KindSingle:
		return "single"
	default:
		return "unknown"
	}
}

// Parse returns the ids contained in value. Blank ids are dropped and the
// rest are trimmed.
func Parse(value string) []string {
	ids, _ := ParseKind(value)
	return ids
}

// ParseKind is Parse that also reports the detected shape.
func ParseKind(value string) ([]string, Kind) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, KindEmpty
	}

	if ids, ok := parseJSON(v); ok {
		return ids, KindJSON
	}

	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		if ids, err := parseLiteral(v); err == nil {
			return ids, KindLiteral
		}
	}

	return []string{v}, KindSingle
}

func parseJSON(v string) ([]string, bool) {
	if !strings.HasPrefix(v, "[") && !strings.HasPrefix(v, "\"") {
		return nil, false
	}

	var list []string
	if err := json.Unmarshal([]byte(v), &list); err == nil {
		return clean(list), true
	}

	var single string
	if err := json.Unmarshal([]byte(v), &single); err == nil {
		return clean([]string{single}), true
	}

	return nil, false
}

// parseLiteral accepts '[' [item {',' item}] [','] ']' where an item is a
// single- or double-quoted string with backslash escapes, or a bare run of
// letters, digits, '_' and '-'.
func parseLiteral(v string) ([]string, error) {
	s := scanner{src: v}

	if !s.consume('[') {
		return nil, fmt.Errorf("expected '[' at %d", s.pos)
	}

	var out []string
	for {
		s.skipSpace()
		if s.consume(']') {
			break
		}

		item, err := s.item()
		if err != nil {
			return nil, err
		}
		out = append(out, item)

		s.skipSpace()
		if s.consume(',') {
			continue
		}
		if s.consume(']') {
			break
		}
		return nil, fmt.Errorf("expected ',' or ']' at %d", s.pos)
	}

	s.skipSpace()
	if !s.done() {
		return nil, fmt.Errorf("trailing input at %d", s.pos)
	}
	return clean(out), nil
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }

func (s *scanner) skipSpace() {
	for !s.done() && strings.ContainsRune(" \t\r\n", rune(s.src[s.pos])) {
		s.pos++
	}
}

func (s *scanner) consume(c byte) bool {
	if !s.done() && s.src[s.pos] == c {
		s.pos++
		return true
	}
	return false
}

func (s *scanner) item() (string, error) {
	if s.done() {
		return "", fmt.Errorf("unexpected end of input")
	}

	switch q := s.src[s.pos]; q {
	case '\'', '"':
		s.pos++
		var b strings.Builder
		for !s.done() {
			c := s.src[s.pos]
			s.pos++
			switch {
			case c == '\\':
				if s.done() {
					return "", fmt.Errorf("dangling escape")
				}
				b.WriteByte(s.src[s.pos])
				s.pos++
			case c == q:
				return b.String(), nil
			default:
				b.WriteByte(c)
			}
		}
		return "", fmt.Errorf("unterminated string")
	default:
		start := s.pos
		for !s.done() && isBare(s.src[s.pos]) {
			s.pos++
		}
		if start == s.pos {
			return "", fmt.Errorf("unexpected %q at %d", s.src[s.pos], s.pos)
		}
		return s.src[start:s.pos], nil
	}
}

func isBare(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

func clean(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
