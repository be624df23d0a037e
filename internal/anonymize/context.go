package anonymize

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrEmptyPseudonym is returned when a real identity is given without a pseudonym.
	ErrEmptyPseudonym = errors.New("pseudonym is required when an identity is set")
	// ErrPseudonymMatchesIdentity is returned when the pseudonym equals the real identity.
	ErrPseudonymMatchesIdentity = errors.New("pseudonym must differ from the real identity")
	// ErrPseudonymNotStable is returned when the pseudonym reuses identity
	// words in a way that would make substitution non-idempotent.
	ErrPseudonymNotStable = errors.New("pseudonym reuses identity words at other positions")
)

var honorifics = map[string]bool{
	"m": true, "mr": true, "mrs": true, "ms": true, "mme": true, "mlle": true,
	"mmes": true, "dr": true, "pr": true, "me": true, "madame": true,
	"monsieur": true, "mademoiselle": true, "docteur": true, "professeur": true,
}

// Context pairs a patient's real identity with the pseudonym that replaces
// it for one request. Identities are written "LAST First [Middle...]".
// A Context is immutable and must not outlive the request that built it.
type Context struct {
	real    []string
	pseudo  []string
	forward *RuleSet
	inverse *RuleSet
}

// NewContext validates the pair and precompiles the substitution rules in
// both directions. An empty real identity yields a no-op context.
func NewContext(realIdentity, pseudonym string) (Context, error) {
	real := SplitName(realIdentity)
	if len(real) == 0 {
		return Context{}, nil
	}

	pseudo := SplitName(pseudonym)
	if len(pseudo) == 0 {
		return Context{}, ErrEmptyPseudonym
	}
	if strings.EqualFold(strings.Join(real, " "), strings.Join(pseudo, " ")) {
		return Context{}, ErrPseudonymMatchesIdentity
	}

	c := Context{real: real, pseudo: pseudo}
	forward, inverse := c.identityRules()
	c.forward = Compile(forward)
	c.inverse = Compile(inverse)

	// a second pass over anonymized output must change nothing
	for _, r := range forward {
		if out, n := c.forward.replace(r.Replacement); n > 0 && !strings.EqualFold(out, r.Replacement) {
			return Context{}, ErrPseudonymNotStable
		}
	}

	return c, nil
}

// RealIdentity returns the normalized real identity.
func (c Context) RealIdentity() string { return strings.Join(c.real, " ") }

// Pseudonym returns the normalized pseudonym.
func (c Context) Pseudonym() string { return strings.Join(c.pseudo, " ") }

// IsEmpty reports whether the context substitutes nothing.
func (c Context) IsEmpty() bool { return len(c.real) == 0 }

// HasRealPart reports whether word equals one of the identity words.
func (c Context) HasRealPart(word string) bool {
	for _, p := range c.real {
		if strings.EqualFold(p, word) {
			return true
		}
	}
	return false
}

// identityRules returns the forward and inverse rules for the exact order,
// the reversed order ("First... LAST") and each individual word.
func (c Context) identityRules() (forward, inverse []Rule) {
	real, pseudo := c.real, c.pseudo

	add := func(from, to []string) {
		f, t := strings.Join(from, " "), strings.Join(to, " ")
		forward = append(forward, Rule{Match: f, Replacement: t, MatchCase: true})
		inverse = append(inverse, Rule{Match: t, Replacement: f, MatchCase: true})
	}

	add(real, pseudo)
	if len(real) == 1 {
		return forward, inverse
	}

	add(reversed(real), reversed(pseudo))
	for i, part := range real {
		add([]string{part}, []string{c.counterpart(i)})
	}
	return forward, inverse
}

// counterpart maps identity word i onto a pseudonym word: first to first,
// last to last, intermediate to intermediate, otherwise the first word.
func (c Context) counterpart(i int) string {
	n, m := len(c.real), len(c.pseudo)
	switch {
	case i == 0:
		return c.pseudo[0]
	case i == n-1:
		return c.pseudo[m-1]
	case i < m-1:
		return c.pseudo[i]
	}
	return c.pseudo[0]
}

// reversed moves the leading surname behind the given names.
func reversed(parts []string) []string {
	if len(parts) < 2 {
		return parts
	}
	out := make([]string, 0, len(parts))
	out = append(out, parts[1:]...)
	return append(out, parts[0])
}

// SplitName normalizes a person name to NFC, drops honorifics and
// surrounding punctuation, and splits it into words.
func SplitName(name string) []string {
	fields := strings.Fields(norm.NFC.String(name))
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ",;:()\"")
		if f == "" {
			continue
		}
		if honorifics[strings.ToLower(strings.TrimSuffix(f, "."))] {
			continue
		}
		parts = append(parts, f)
	}
	return parts
}
