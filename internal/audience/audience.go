// Package audience models the student populations an event is aimed at.
//
// Audience is a closed enumeration and Set is a bit set over it, so every
// switch over Audience can be exhaustive and set operations never allocate.
package audience

import (
	"fmt"
	"strings"
)

// Audience is a single audience tag.
type Audience uint8

const (
	FirstYear Audience = iota
	SecondYear
	ExchangeOrIGSP
	FGLI
	International
	Transfer
	Any

	numAudiences = iota
)

// All lists every Audience in canonical order.
var All = [numAudiences]Audience{
	FirstYear,
	SecondYear,
	ExchangeOrIGSP,
	FGLI,
	International,
	Transfer,
	Any,
}

// String returns the label used by the upstream site's event badges.
func (a Audience) String() string {
	switch a {
	case FirstYear:
		return "First-Year"
	case SecondYear:
		return "Second-Year"
	case ExchangeOrIGSP:
		return "Exchange/IGSP"
	case FGLI:
		return "FGLI"
	case International:
		return "International"
	case Transfer:
		return "Transfer"
	case Any:
		return "ANY"
	default:
		return fmt.Sprintf("Audience(%d)", uint8(a))
	}
}

// Valid reports whether a is one of the declared constants.
func (a Audience) Valid() bool {
	return a < numAudiences
}

// Parse maps a badge label to an Audience. Matching ignores case and
// surrounding whitespace.
func Parse(label string) (Audience, error) {
	label = strings.TrimSpace(label)
	for _, a := range All {
		if strings.EqualFold(a.String(), label) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown audience label %q", label)
}

// Set is an immutable set of Audience values.
type Set uint8

// NewSet builds a Set from the given members. Invalid values are ignored.
func NewSet(members ...Audience) Set {
	var s Set
	for _, a := range members {
		s = s.Add(a)
	}
	return s
}

// ParseSet parses a list of labels. The first unknown label is an error.
func ParseSet(labels []string) (Set, error) {
	var s Set
	for _, l := range labels {
		a, err := Parse(l)
		if err != nil {
			return 0, err
		}
		s = s.Add(a)
	}
	return s, nil
}

// Add returns s with a added.
func (s Set) Add(a Audience) Set {
	if !a.Valid() {
		return s
	}
	return s | 1<<a
}

// Has reports whether a is a member of s.
func (s Set) Has(a Audience) bool {
	return a.Valid() && s&(1<<a) != 0
}

// Intersects reports whether s and o share at least one member.
func (s Set) Intersects(o Set) bool {
	return s&o != 0
}

func (s Set) Empty() bool {
	return s == 0
}

func (s Set) Len() int {
	n := 0
	for _, a := range All {
		if s.Has(a) {
			n++
		}
	}
	return n
}

// OrAny returns {Any} when s is empty and s otherwise.
func (s Set) OrAny() Set {
	if s.Empty() {
		return NewSet(Any)
	}
	return s
}

// Members returns the members of s in canonical order.
func (s Set) Members() []Audience {
	out := make([]Audience, 0, numAudiences)
	for _, a := range All {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Labels returns the badge labels of the members in canonical order.
func (s Set) Labels() []string {
	members := s.Members()
	out := make([]string, len(members))
	for i, a := range members {
		out[i] = a.String()
	}
	return out
}

// String joins the labels with single spaces.
func (s Set) String() string {
	return strings.Join(s.Labels(), " ")
}
