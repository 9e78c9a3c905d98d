// Package filter decides which harvested items are kept, using keyword and regex rules.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"digest_bot/internal/model"
)

// RegexPrefix marks a rule value as a regular expression.
const RegexPrefix = "re:"

// Kind tells whether a rule admits or rejects matching items.
type Kind int

// Rule kinds.
const (
	Include Kind = iota
	Exclude
)

// Rule is one compiled matching rule.
type Rule struct {
	Kind  Kind
	Value string
	re    *regexp.Regexp
}

// Set is an immutable group of rules. A nil Set keeps every item.
type Set struct {
	rules []Rule
}

// Parse compiles include and exclude rules. Values starting with "re:" are
// case-insensitive regular expressions; others are case-insensitive substrings.
func Parse(include, exclude []string) (*Set, error) {
	s := &Set{}
	for _, group := range []struct {
		kind   Kind
		values []string
	}{{Include, include}, {Exclude, exclude}} {
		for _, v := range group.values {
			r, err := newRule(group.kind, v)
			if err != nil {
				return nil, err
			}
			s.rules = append(s.rules, r)
		}
	}
	return s, nil
}

func newRule(kind Kind, value string) (Rule, error) {
	if pattern, ok := strings.CutPrefix(value, RegexPrefix); ok {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
		return Rule{Kind: kind, Value: value, re: re}, nil
	}
	return Rule{Kind: kind, Value: strings.ToLower(value)}, nil
}

// Len returns the number of rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Match checks whether an item passes the rules.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func (s *Set) Match(item model.FeedItem) bool {
	if s.Len() == 0 {
		return true
	}

	text := strings.ToLower(item.Title + " " + item.Body)
	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range s.rules {
		switch r.Kind {
		case Include:
			hasIncludes = true
			if r.matches(text) {
				anyIncludeMatched = true
			}
		case Exclude:
			if r.matches(text) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

func (r Rule) matches(text string) bool {
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.Value)
}
