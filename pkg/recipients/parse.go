package recipients

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sw33tLie/nstg/pkg/monitor"
	"github.com/sw33tLie/nstg/pkg/providers"
)

const (
	kindSeparator = ":"
	argSeparator  = ";"
)

// ParseError reports a malformed token, an invalid regex or an unknown tag.
type ParseError struct {
	Input string
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid recipient %q: %s: %v", e.Input, e.Msg, e.Err)
	}
	return fmt.Sprintf("invalid recipient %q: %s", e.Input, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Most specific first, so "+regex:" is never read as "+".
var filterPrefixes = []FilterKind{RegexInclude, RegexExclude, Include, Exclude}

// Longest first, so "region_tag:" wins over "region:".
var kindOrder = func() []TargetKind {
	kinds := make([]TargetKind, 0, len(kindPrefixes))
	for k := range kindPrefixes {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		pi, pj := kindPrefixes[kinds[i]], kindPrefixes[kinds[j]]
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		return pi < pj
	})
	return kinds
}()

var tagNames = map[string]bool{"wa": true, "delegates": true, "new": true}

// Parse reads one line into a Token.
func Parse(line string) (Token, error) {
	raw := line
	s := strings.TrimSpace(line)
	if s == "" {
		return Token{}, &ParseError{Input: raw, Msg: "empty line"}
	}
	if strings.HasPrefix(s, "--") || strings.HasPrefix(s, "->") {
		return Token{}, &ParseError{Input: raw, Msg: "legacy operator, use + or - instead"}
	}

	tok := Token{Filter: Normal, Raw: raw}
	for _, f := range filterPrefixes {
		if hasPrefixFold(s, f.Prefix()) {
			tok.Filter = f
			s = strings.TrimSpace(s[len(f.Prefix()):])
			break
		}
	}

	if tok.Filter.IsRegex() {
		if s == "" {
			return Token{}, &ParseError{Input: raw, Msg: "empty pattern"}
		}
		tok.Kind = None
		tok.Name = s
		if _, err := compilePattern(s); err != nil {
			return Token{}, &ParseError{Input: raw, Msg: "bad pattern", Err: err}
		}
		return tok, nil
	}

	tok.Kind = Nation
	matched := false
	for _, k := range kindOrder {
		if hasPrefixFold(s, k.Prefix()) {
			tok.Kind = k
			s = s[len(k.Prefix()):]
			matched = true
			break
		}
	}
	if strings.Contains(s, kindSeparator) {
		if !matched {
			return Token{}, &ParseError{Input: raw, Msg: "unknown target kind"}
		}
		s = s[strings.LastIndex(s, kindSeparator)+1:]
	}

	if tok.Kind.Stateful() {
		name, err := canonicalArgs(tok.Kind, s)
		if err != nil {
			return Token{}, &ParseError{Input: raw, Msg: err.Error()}
		}
		tok.Name = name
		return tok, nil
	}

	tok.Name = Canonical(s)
	if tok.Name == "" {
		return Token{}, &ParseError{Input: raw, Msg: "empty name"}
	}
	if tok.Kind == Tag && !tagNames[tok.Name] {
		return Token{}, &ParseError{Input: raw, Msg: "unknown tag " + tok.Name + " (want wa, delegates or new)"}
	}
	return tok, nil
}

// ParseAll parses a recipient list, skipping blank lines and lines starting
// with #. The first bad line aborts parsing.
func ParseAll(lines []string) ([]Token, error) {
	tokens := make([]Token, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		tok, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func hasPrefixFold(s, prefix string) bool {
	return prefix != "" && len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// canonicalArgs checks a stateful token's arguments and renders them in
// canonical form.
func canonicalArgs(kind TargetKind, s string) (string, error) {
	parts := strings.Split(s, argSeparator)
	for i := range parts {
		if kind == Voting && i == 2 {
			parts[i] = canonicalList(parts[i])
		} else {
			parts[i] = Canonical(parts[i])
		}
		if parts[i] == "" {
			return "", fmt.Errorf("empty argument %d", i+1)
		}
	}

	least, most := 2, 2
	switch kind {
	case Happenings:
		least, most = 1, 1
	case Voting:
		// An optional third argument restricts voters to a list of regions.
		most = 3
	}
	if len(parts) < least || len(parts) > most {
		if least == most {
			return "", fmt.Errorf("%s takes %d arguments, got %d", kind.MonitorKind(), least, len(parts))
		}
		return "", fmt.Errorf("%s takes %d to %d arguments, got %d", kind.MonitorKind(), least, most, len(parts))
	}

	var err error
	switch kind {
	case Happenings:
		if parts[0] != "all" && parts[0] != "delegates" {
			err = fmt.Errorf("unknown happenings filter %q (want all or delegates)", parts[0])
		}
	case Movement:
		_, err = monitor.ParseDirection(parts[0])
	case Voting:
		if _, err = providers.ParseChamber(parts[0]); err == nil {
			_, err = providers.ParseSide(parts[1])
		}
	case Approvals:
		if parts[0] != "removed" {
			err = fmt.Errorf("unknown approval action %q (want removed)", parts[0])
		}
	}
	if err != nil {
		return "", err
	}
	return strings.Join(parts, argSeparator), nil
}

// canonicalList canonicalizes every element of a comma-separated list. It
// returns "" if any element is empty.
func canonicalList(s string) string {
	items := strings.Split(s, ",")
	for i := range items {
		items[i] = Canonical(items[i])
		if items[i] == "" {
			return ""
		}
	}
	return strings.Join(items, ",")
}
