package rowkey

import (
	"bytes"
	"fmt"
	"regexp"
)

// regexMeta is the set of characters whose presence in a qualifier marks a
// column spec as a regex rather than a literal qualifier.
const regexMeta = `\+|^&*$[]{}()`

// looksLikeRegex reports whether qualifier should be treated as a pattern,
// per the column-matcher classification rule: the qualifier contains any of
// the regex metacharacters.
func looksLikeRegex(qualifier []byte) bool {
	return bytes.ContainsAny(qualifier, regexMeta)
}

// ColumnMatcher accepts or rejects a column (family:qualifier) for a
// scanner. The three concrete forms are family-only, regex, and literal;
// Wildcard is true for every form except literal.
type ColumnMatcher interface {
	// Family is the column family this matcher is scoped to.
	Family() []byte
	// Match reports whether column (a full family:qualifier spec) is
	// accepted by this matcher.
	Match(column []byte) bool
	// Wildcard reports whether this matcher accepts more than one exact
	// qualifier.
	Wildcard() bool
}

type familyMatcher struct {
	family []byte
}

func (m *familyMatcher) Family() []byte   { return m.family }
func (m *familyMatcher) Wildcard() bool   { return true }
func (m *familyMatcher) Match(col []byte) bool {
	fam, _ := SplitColumn(col)
	return bytes.Equal(fam, m.family)
}

type regexMatcher struct {
	family []byte
	re     *regexp.Regexp
}

func (m *regexMatcher) Family() []byte { return m.family }
func (m *regexMatcher) Wildcard() bool { return true }
func (m *regexMatcher) Match(col []byte) bool {
	fam, qual := SplitColumn(col)
	if !bytes.Equal(fam, m.family) {
		return false
	}
	return m.re.Match(qual)
}

type literalMatcher struct {
	family    []byte
	qualifier []byte
}

func (m *literalMatcher) Family() []byte { return m.family }
func (m *literalMatcher) Wildcard() bool { return false }
func (m *literalMatcher) Match(col []byte) bool {
	fam, qual := SplitColumn(col)
	return bytes.Equal(fam, m.family) && bytes.Equal(qual, m.qualifier)
}

// ParseColumnSpec classifies a target column spec into one of the three
// matcher forms: family-only when there is no qualifier, regex when the
// qualifier contains a regex metacharacter, literal otherwise.
func ParseColumnSpec(spec []byte) (ColumnMatcher, error) {
	family, qualifier := SplitColumn(spec)
	family = append([]byte(nil), family...)
	if len(qualifier) == 0 {
		return &familyMatcher{family: family}, nil
	}
	if looksLikeRegex(qualifier) {
		re, err := regexp.Compile(string(qualifier))
		if err != nil {
			return nil, fmt.Errorf("invalid column matcher regex %q: %w", qualifier, err)
		}
		return &regexMatcher{family: family, re: re}, nil
	}
	return &literalMatcher{family: family, qualifier: append([]byte(nil), qualifier...)}, nil
}

// ParseColumnSpecs parses every spec in specs, returning the first error
// encountered (an invalid-column-matcher condition per the error design).
func ParseColumnSpecs(specs [][]byte) ([]ColumnMatcher, error) {
	matchers := make([]ColumnMatcher, 0, len(specs))
	for _, s := range specs {
		m, err := ParseColumnSpec(s)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

// AnyMatch reports whether column matches any of matchers. An empty matcher
// set matches everything (no column restriction).
func AnyMatch(matchers []ColumnMatcher, column []byte) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if m.Match(column) {
			return true
		}
	}
	return false
}

// AnyWildcard reports whether any matcher in the set is a wildcard matcher;
// an empty set counts as a wildcard.
func AnyWildcard(matchers []ColumnMatcher) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if m.Wildcard() {
			return true
		}
	}
	return false
}

// MultiMatcher reports whether any family has two or more matchers
// associated with it (the store scanner's "multi-matcher" flag).
func MultiMatcher(matchers []ColumnMatcher) bool {
	counts := map[string]int{}
	for _, m := range matchers {
		counts[string(m.Family())]++
		if counts[string(m.Family())] >= 2 {
			return true
		}
	}
	return false
}
