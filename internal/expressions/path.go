package expressions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/toolweave/toolweave/pkg/schema"
)

// Path scopes available for variable resolution.
const (
	ScopeVars  = "vars"
	ScopeSteps = "steps"
	ScopeEnv   = "env"
)

// SegmentKind discriminates path segments.
type SegmentKind int

const (
	// SegmentKey indexes into a map by key.
	SegmentKey SegmentKind = iota
	// SegmentIndex indexes into a list by position.
	SegmentIndex
	// SegmentStar short-circuits navigation and yields the remaining list.
	SegmentStar
)

// Segment is one navigation step in a parsed path.
type Segment struct {
	Kind  SegmentKind
	Key   string
	Index int
}

func (s Segment) String() string {
	switch s.Kind {
	case SegmentIndex:
		return fmt.Sprintf("[%d]", s.Index)
	case SegmentStar:
		return "*"
	default:
		return s.Key
	}
}

// Path is the parsed form of a ${scope.segment...} reference.
type Path struct {
	Scope    string
	Segments []Segment
	Raw      string // original text, for error reporting
}

// pathParser is a small recursive-descent parser over a path expression.
// Grammar:
//
//	path     := scope ("." segment)+
//	segment  := (ident | integer | "*") suffix*
//	suffix   := "[" (integer | "*") "]"
//
// Both "items.0" and "items[0]" index into a list; "*" yields the whole
// remaining list.
type pathParser struct {
	input string
	pos   int
}

// ParsePath parses a path expression like "steps.search.result.urls[0]".
func ParsePath(raw string) (*Path, error) {
	p := &pathParser{input: raw}

	scope, err := p.ident()
	if err != nil {
		return nil, unresolvable(raw, err.Error())
	}
	switch scope {
	case ScopeVars, ScopeSteps, ScopeEnv:
	default:
		return nil, unresolvable(raw, fmt.Sprintf("unknown scope %q (want vars, steps, or env)", scope))
	}

	path := &Path{Scope: scope, Raw: raw}
	for !p.eof() {
		if !p.consume('.') {
			if p.peek() == '[' {
				segs, err := p.suffixes()
				if err != nil {
					return nil, unresolvable(raw, err.Error())
				}
				path.Segments = append(path.Segments, segs...)
				continue
			}
			return nil, unresolvable(raw, fmt.Sprintf("unexpected character %q at position %d", p.peek(), p.pos))
		}
		segs, err := p.segment()
		if err != nil {
			return nil, unresolvable(raw, err.Error())
		}
		path.Segments = append(path.Segments, segs...)
	}

	if len(path.Segments) == 0 {
		return nil, unresolvable(raw, "path has no segments after scope")
	}
	return path, nil
}

// segment parses one dot-delimited segment plus any [..] suffixes.
func (p *pathParser) segment() ([]Segment, error) {
	var head Segment
	switch {
	case p.consume('*'):
		head = Segment{Kind: SegmentStar}
	default:
		word, err := p.word()
		if err != nil {
			return nil, err
		}
		if idx, ok := asInt(word); ok {
			head = Segment{Kind: SegmentIndex, Index: idx}
		} else {
			head = Segment{Kind: SegmentKey, Key: word}
		}
	}

	segs := []Segment{head}
	tail, err := p.suffixes()
	if err != nil {
		return nil, err
	}
	return append(segs, tail...), nil
}

// suffixes parses zero or more bracketed index suffixes.
func (p *pathParser) suffixes() ([]Segment, error) {
	var segs []Segment
	for p.consume('[') {
		if p.consume('*') {
			segs = append(segs, Segment{Kind: SegmentStar})
		} else {
			word, err := p.bracketWord()
			if err != nil {
				return nil, err
			}
			idx, ok := asInt(word)
			if !ok {
				return nil, fmt.Errorf("non-integer list index %q", word)
			}
			segs = append(segs, Segment{Kind: SegmentIndex, Index: idx})
		}
		if !p.consume(']') {
			return nil, fmt.Errorf("missing closing ] at position %d", p.pos)
		}
	}
	return segs, nil
}

// ident parses a leading identifier (the scope name).
func (p *pathParser) ident() (string, error) {
	start := p.pos
	for !p.eof() && isIdentChar(p.peek()) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier at position %d", start)
	}
	return p.input[start:p.pos], nil
}

// word parses a segment name: any run of characters up to '.', '[' or end.
func (p *pathParser) word() (string, error) {
	start := p.pos
	for !p.eof() && p.peek() != '.' && p.peek() != '[' {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("empty path segment at position %d", start)
	}
	return p.input[start:p.pos], nil
}

// bracketWord parses the contents of a [..] suffix up to the closing bracket.
func (p *pathParser) bracketWord() (string, error) {
	start := p.pos
	for !p.eof() && p.peek() != ']' {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("empty list index at position %d", start)
	}
	return p.input[start:p.pos], nil
}

func (p *pathParser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *pathParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *pathParser) consume(c byte) bool {
	if !p.eof() && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func asInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// unresolvable builds an UnresolvedReference error identifying the full
// original path.
func unresolvable(raw, reason string) *schema.WeaveError {
	return schema.NewErrorf(schema.ErrCodeUnresolvedRef, "cannot resolve ${%s}: %s", raw, reason).
		WithDetails(map[string]any{"path": raw})
}

// navigate walks segments into nested maps and lists. A star segment
// short-circuits and returns the entire remaining list unindexed. Every
// failure mode (missing key, out-of-range index, indexing a scalar) is an
// UnresolvedReference error, never a silent nil.
func navigate(root any, segs []Segment, raw string) (any, error) {
	current := root
	for _, seg := range segs {
		switch seg.Kind {
		case SegmentStar:
			list, ok := current.([]any)
			if !ok {
				return nil, unresolvable(raw, fmt.Sprintf("* applies to lists, found %T", current))
			}
			return list, nil

		case SegmentIndex:
			list, ok := current.([]any)
			if !ok {
				// An integer segment on a map is a plain key lookup.
				if m, isMap := current.(map[string]any); isMap {
					key := strconv.Itoa(seg.Index)
					val, found := m[key]
					if !found {
						return nil, unresolvable(raw, fmt.Sprintf("key %q not found", key))
					}
					current = val
					continue
				}
				return nil, unresolvable(raw, fmt.Sprintf("cannot index into %T with [%d]", current, seg.Index))
			}
			if seg.Index < 0 || seg.Index >= len(list) {
				return nil, unresolvable(raw, fmt.Sprintf("index %d out of range (list has %d elements)", seg.Index, len(list)))
			}
			current = list[seg.Index]

		default: // SegmentKey
			m, ok := current.(map[string]any)
			if !ok {
				return nil, unresolvable(raw, fmt.Sprintf("cannot traverse into %T at %q", current, seg.Key))
			}
			val, found := m[seg.Key]
			if !found {
				return nil, unresolvable(raw, fmt.Sprintf("key %q not found; available: [%s]", seg.Key, strings.Join(sortedKeys(m), ", ")))
			}
			current = val
		}
	}
	return current, nil
}

// sortedKeys returns sorted keys from a map[string]any.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
