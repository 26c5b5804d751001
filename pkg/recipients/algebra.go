package recipients

import (
	"fmt"
	"regexp"
	"unicode"
)

type filterFunc func(set *Set, tok Token, names []string) (*Set, error)

var filters = map[FilterKind]filterFunc{
	Normal: func(set *Set, _ Token, names []string) (*Set, error) {
		out := set.Clone()
		out.Add(names...)
		return out, nil
	},
	Include: func(set *Set, _ Token, names []string) (*Set, error) {
		other := NewSet(names...)
		return set.Filter(other.Contains), nil
	},
	Exclude: func(set *Set, _ Token, names []string) (*Set, error) {
		other := NewSet(names...)
		return set.Filter(func(n string) bool { return !other.Contains(n) }), nil
	},
	RegexInclude: func(set *Set, tok Token, _ []string) (*Set, error) {
		re, err := tokenPattern(tok)
		if err != nil {
			return nil, err
		}
		return set.Filter(re.MatchString), nil
	},
	RegexExclude: func(set *Set, tok Token, _ []string) (*Set, error) {
		re, err := tokenPattern(tok)
		if err != nil {
			return nil, err
		}
		return set.Filter(func(n string) bool { return !re.MatchString(n) }), nil
	},
}

// Apply combines set with a token's decomposed names according to the token's
// filter and returns the result as a new set. Regex tokens ignore names.
func Apply(set *Set, tok Token, names []string) (*Set, error) {
	f, ok := filters[tok.Filter]
	if !ok {
		return nil, fmt.Errorf("unknown filter kind %d", tok.Filter)
	}
	return f(set, tok, names)
}

// compilePattern anchors pattern so that only full matches count.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

func tokenPattern(tok Token) (*regexp.Regexp, error) {
	re, err := compilePattern(tok.Name)
	if err != nil {
		return nil, &ParseError{Input: tok.Raw, Msg: "bad pattern", Err: err}
	}
	return re, nil
}

// MixedCase reports whether a pattern contains upper-case letters outside
// escape sequences. Names are always lower case, so such letters can never
// match literally.
func MixedCase(pattern string) bool {
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case unicode.IsUpper(r):
			return true
		}
	}
	return false
}
