// Package recipients parses the recipient language and resolves token lists
// into ordered, de-duplicated lists of canonical nation names.
//
// Each line of a recipient list is one Token: an optional filter prefix
// (+, -, +regex:, -regex:) followed by an optional kind prefix (nation:,
// region:, region_tag:, tag:, endorsers:, or a stateful _kind:) and a name.
// Resolving folds the tokens left to right over an initially empty set.
package recipients

import (
	"strings"
)

// FilterKind says how a token's nations combine with the running set.
type FilterKind int

const (
	// Normal appends the token's nations.
	Normal FilterKind = iota
	// Include keeps only running nations that the token also yields.
	Include
	// Exclude drops running nations that the token yields.
	Exclude
	// RegexInclude keeps running nations fully matching the pattern.
	RegexInclude
	// RegexExclude drops running nations fully matching the pattern.
	RegexExclude
)

// Prefix returns the text that introduces the filter in a token line.
func (f FilterKind) Prefix() string {
	switch f {
	case Include:
		return "+"
	case Exclude:
		return "-"
	case RegexInclude:
		return "+regex:"
	case RegexExclude:
		return "-regex:"
	}
	return ""
}

func (f FilterKind) String() string {
	switch f {
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	case RegexInclude:
		return "regex_include"
	case RegexExclude:
		return "regex_exclude"
	}
	return "normal"
}

// IsRegex reports whether the filter matches names against a pattern instead
// of decomposing a target.
func (f FilterKind) IsRegex() bool {
	return f == RegexInclude || f == RegexExclude
}

// TargetKind says how a token's name expands into nations.
type TargetKind int

const (
	// None is the kind of regex tokens, which name no target.
	None TargetKind = iota
	Nation
	Region
	RegionTag
	Tag
	EndorsersOf
	Happenings
	Movement
	Approvals
	Voting
)

var kindPrefixes = map[TargetKind]string{
	Nation:      "nation:",
	Region:      "region:",
	RegionTag:   "region_tag:",
	Tag:         "tag:",
	EndorsersOf: "endorsers:",
	Happenings:  "_happenings:",
	Movement:    "_movement:",
	Approvals:   "_approvals:",
	Voting:      "_voting:",
}

// Prefix returns the kind's token prefix, empty for None.
func (k TargetKind) Prefix() string { return kindPrefixes[k] }

func (k TargetKind) String() string {
	if k == None {
		return "none"
	}
	return strings.TrimSuffix(strings.TrimPrefix(kindPrefixes[k], "_"), ":")
}

// Stateful reports whether the kind is backed by a polling monitor.
func (k TargetKind) Stateful() bool {
	return strings.HasPrefix(kindPrefixes[k], "_")
}

// MonitorKind is the monitor registry key for a stateful kind.
func (k TargetKind) MonitorKind() string {
	return strings.TrimSuffix(kindPrefixes[k], ":")
}

// Token is one parsed line of a recipient list.
type Token struct {
	Filter FilterKind
	Kind   TargetKind
	// Name is the canonical target name. Stateful tokens hold their
	// ;-separated arguments here. Regex tokens hold the pattern as written.
	Name string
	// Raw is the line the token was parsed from.
	Raw string
}

// String renders the token in canonical form. Parsing the result yields an
// equivalent token.
func (t Token) String() string {
	return t.Filter.Prefix() + t.Kind.Prefix() + t.Name
}

// Args splits a stateful token's name into its arguments.
func (t Token) Args() []string {
	return strings.Split(t.Name, argSeparator)
}

// Equal compares filter, kind and name, ignoring Raw.
func (t Token) Equal(o Token) bool {
	return t.Filter == o.Filter && t.Kind == o.Kind && t.Name == o.Name
}

// Canonical normalizes a nation or region name: trimmed, lower-cased, with
// spaces replaced by underscores.
func Canonical(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
