package anonymize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Rule replaces every whole-word, case-insensitive occurrence of Match with
// Replacement. Whitespace between words of Match matches any whitespace run.
type Rule struct {
	Match       string
	Replacement string
	// MatchCase carries the UPPER/lower/Title shape of each matched word
	// onto the corresponding replacement word.
	MatchCase bool
}

// RuleSet is a compiled, ordered set of rules. Longer matches take
// priority and replaced output is never matched again. Rules and input
// text are compared in NFC, so decomposed accents still match.
type RuleSet struct {
	rules    []compiledRule
	combined *regexp.Regexp
}

type compiledRule struct {
	Rule
	anchored   *regexp.Regexp
	checkLeft  bool
	checkRight bool
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Compile builds a RuleSet. Rules with an empty match are dropped and
// duplicates (case-insensitive) keep their first occurrence.
func Compile(rules []Rule) *RuleSet {
	seen := make(map[string]bool, len(rules))
	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		words := strings.Fields(norm.NFC.String(r.Match))
		if len(words) == 0 {
			continue
		}
		key := strings.ToLower(strings.Join(words, " "))
		if seen[key] {
			continue
		}
		seen[key] = true
		r.Match = strings.Join(words, " ")
		r.Replacement = norm.NFC.String(r.Replacement)
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return utf8.RuneCountInString(kept[i].Match) > utf8.RuneCountInString(kept[j].Match)
	})

	set := &RuleSet{rules: make([]compiledRule, 0, len(kept))}
	if len(kept) == 0 {
		return set
	}

	alternatives := make([]string, 0, len(kept))
	for _, r := range kept {
		pattern := wordsPattern(r.Match)
		first, _ := utf8.DecodeRuneInString(r.Match)
		last, _ := utf8.DecodeLastRuneInString(r.Match)
		set.rules = append(set.rules, compiledRule{
			Rule:       r,
			anchored:   regexp.MustCompile(`^(?i:` + pattern + `)`),
			checkLeft:  isWordRune(first),
			checkRight: isWordRune(last),
		})
		alternatives = append(alternatives, pattern)
	}
	set.combined = regexp.MustCompile(`(?i:` + strings.Join(alternatives, "|") + `)`)
	return set
}

// Apply is a convenience for Compile(rules).Replace(text).
func Apply(text string, rules []Rule) string {
	out, _ := Compile(rules).replace(text)
	return out
}

// Len returns the number of distinct rules in the set.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Replace applies the set to text in a single left-to-right pass.
func (s *RuleSet) Replace(text string) string {
	out, _ := s.replace(text)
	return out
}

func (s *RuleSet) replace(text string) (string, int) {
	if s == nil || s.combined == nil || text == "" {
		return text, 0
	}
	text = norm.NFC.String(text)

	var b strings.Builder
	count := 0
	copied := 0
	pos := 0

	for pos < len(text) {
		loc := s.combined.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]

		rule, end, ok := s.matchAt(text, start)
		if !ok {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + size
			continue
		}

		b.WriteString(text[copied:start])
		replacement := rule.Replacement
		if rule.MatchCase {
			replacement = shapeLike(text[start:end], replacement)
		}
		b.WriteString(replacement)
		count++
		copied = end
		pos = end
	}

	if count == 0 {
		return text, 0
	}
	b.WriteString(text[copied:])
	return b.String(), count
}

// matchAt returns the highest priority rule matching at start whose word
// boundaries hold.
func (s *RuleSet) matchAt(text string, start int) (compiledRule, int, bool) {
	for _, r := range s.rules {
		loc := r.anchored.FindStringIndex(text[start:])
		if loc == nil {
			continue
		}
		end := start + loc[1]
		if r.checkLeft && start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:start])
			if isWordRune(prev) {
				continue
			}
		}
		if r.checkRight && end < len(text) {
			next, _ := utf8.DecodeRuneInString(text[end:])
			if isWordRune(next) {
				continue
			}
		}
		return r, end, true
	}
	return compiledRule{}, 0, false
}

func wordsPattern(match string) string {
	words := strings.Fields(match)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

type caseShape int

const (
	shapeMixed caseShape = iota
	shapeUpper
	shapeLower
	shapeTitle
)

// shapeLike copies the per-word case shape of matched onto replacement
// when both have the same number of words. Separators from matched are kept.
func shapeLike(matched, replacement string) string {
	srcWords := whitespaceRun.Split(matched, -1)
	dstWords := strings.Fields(replacement)
	if len(srcWords) != len(dstWords) {
		return replacement
	}
	seps := whitespaceRun.FindAllString(matched, -1)

	var b strings.Builder
	for i, w := range dstWords {
		if i > 0 {
			b.WriteString(seps[i-1])
		}
		b.WriteString(applyShape(shapeOf(srcWords[i]), w))
	}
	return b.String()
}

func shapeOf(word string) caseShape {
	upper := strings.ToUpper(word)
	lower := strings.ToLower(word)
	switch {
	case upper == lower:
		return shapeMixed
	case word == upper:
		return shapeUpper
	case word == lower:
		return shapeLower
	case word == titleCase(word):
		return shapeTitle
	}
	return shapeMixed
}

func applyShape(shape caseShape, word string) string {
	switch shape {
	case shapeUpper:
		return strings.ToUpper(word)
	case shapeLower:
		return strings.ToLower(word)
	case shapeTitle:
		return titleCase(word)
	}
	return word
}

// titleCase upper-cases the first letter of each hyphen or apostrophe
// separated segment and lower-cases the rest.
func titleCase(word string) string {
	var b strings.Builder
	b.Grow(len(word))
	startOfSegment := true
	for _, r := range word {
		if startOfSegment && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			startOfSegment = false
			continue
		}
		if r == '-' || r == '\'' || r == '’' {
			startOfSegment = true
			b.WriteRune(r)
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
