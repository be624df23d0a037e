package anonymize

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var surnames = []string{
	"MARTIN", "BERNARD", "THOMAS", "DUBOIS", "ROBERT", "RICHARD", "DURAND",
	"LEROY", "MOREAU", "SIMON", "LAURENT", "LEFEBVRE", "MICHEL", "GARCIA",
	"DAVID", "BERTRAND", "LAMBERT", "VINCENT", "FOURNIER", "MOREL", "GIRARD",
	"ANDRE", "DUPONT", "FAURE", "GUERIN", "BOYER", "GARNIER", "ROUSSEL",
	"FRANCOIS", "LEGRAND", "GAUTHIER", "PERRIN", "MASSON", "RENAUD", "MORIN",
}

var givenNames = []string{
	"Théo", "Louis", "Hugo", "Arthur", "Jules", "Lucas", "Adam", "Nathan",
	"Paul", "Louise", "Emma", "Alice", "Chloé", "Lina", "Elsa", "Léa",
	"Anna", "Camille", "Inès", "Julia", "Zoé", "Manon", "Sacha", "Noé",
	"Gabriel", "Raphaël", "Léon", "Maël", "Margaux", "Mila", "Nina", "Clara",
}

// commonWords are names that double as ordinary French words. A reply using
// the word would be rewritten to the patient's name on the way back.
var commonWords = map[string]bool{
	"petit": true, "blanc": true, "roux": true, "brun": true, "noir": true,
	"rose": true, "jade": true, "ambre": true, "chevalier": true,
	"mercier": true, "bonnet": true, "fontaine": true, "moulin": true,
	"marchand": true, "boucher": true, "berger": true, "meunier": true,
	"lebrun": true, "leblanc": true, "clement": true, "aimé": true,
	"olive": true, "violette": true, "marguerite": true, "prudence": true,
	"constance": true, "patience": true, "pierre": true, "franc": true,
}

// ErrNoPseudonym is returned when no collision-free pseudonym was found.
var ErrNoPseudonym = errors.New("could not generate a pseudonym that avoids the identity and the text")

const pseudonymAttempts = 64

// NameGenerator fabricates French-style pseudonyms with the same number of
// words as the identity they replace. It is safe for concurrent use.
type NameGenerator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	excluded map[string]bool
}

// NewNameGenerator returns a generator seeded with seed, or with the clock
// when seed is zero. Names equal to a common word or to one of exclude are
// never generated.
func NewNameGenerator(seed int64, exclude ...string) *NameGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	excluded := make(map[string]bool, len(commonWords)+len(exclude))
	for w := range commonWords {
		excluded[w] = true
	}
	for _, w := range exclude {
		excluded[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return &NameGenerator{rng: rand.New(rand.NewSource(seed)), excluded: excluded}
}

// Generate builds a Context for realIdentity. Generated words never equal
// an identity word and never occur as a whole word in any of avoid, so the
// pseudonym cannot collide with names already present in the texts.
func (g *NameGenerator) Generate(realIdentity string, avoid ...string) (Context, error) {
	real := SplitName(realIdentity)
	if len(real) == 0 {
		return Context{}, nil
	}

	allowedSurnames := g.allowedNames(surnames, real, avoid)
	allowedGiven := g.allowedNames(givenNames, real, avoid)
	if len(allowedSurnames) == 0 || (len(real) > 1 && len(allowedGiven) < len(real)-1) {
		return Context{}, ErrNoPseudonym
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 0; attempt < pseudonymAttempts; attempt++ {
		parts := []string{allowedSurnames[g.rng.Intn(len(allowedSurnames))]}
		for _, i := range g.rng.Perm(len(allowedGiven))[:len(real)-1] {
			parts = append(parts, allowedGiven[i])
		}

		ctx, err := NewContext(strings.Join(real, " "), strings.Join(parts, " "))
		if err == nil {
			return ctx, nil
		}
	}

	return Context{}, ErrNoPseudonym
}

// allowedNames filters pool down to names that are not excluded, not
// identity words and do not occur as whole words in any avoided text.
func (g *NameGenerator) allowedNames(pool, real []string, avoid []string) []string {
	out := make([]string, 0, len(pool))
	for _, name := range pool {
		if g.excluded[strings.ToLower(name)] || containsFold(real, name) || appearsIn(avoid, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func containsFold(words []string, w string) bool {
	for _, x := range words {
		if strings.EqualFold(x, w) {
			return true
		}
	}
	return false
}

func appearsIn(texts []string, word string) bool {
	rule := Compile([]Rule{{Match: word, Replacement: word}})
	for _, text := range texts {
		if _, n := rule.replace(text); n > 0 {
			return true
		}
	}
	return false
}
