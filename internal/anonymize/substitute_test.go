package anonymize

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/unicode/norm"
)

func mustContext(t *testing.T, real, pseudo string) Context {
	t.Helper()
	ctx, err := NewContext(real, pseudo)
	if err != nil {
		t.Fatalf("NewContext(%q, %q): %v", real, pseudo, err)
	}
	return ctx
}

func TestAnonymizeNameOrders(t *testing.T) {
	ctx := mustContext(t, "RIOS Lucas", "MARTIN Jean")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact order", "Patient: RIOS Lucas, 8 ans.", "Patient: MARTIN Jean, 8 ans."},
		{"reversed order", "Lucas RIOS est suivi au CMP.", "Jean MARTIN est suivi au CMP."},
		{"surname alone", "M. Rios a été vu ce jour.", "M. Martin a été vu ce jour."},
		{"given name alone", "Lucas dort mal.", "Jean dort mal."},
		{"lower case", "lucas rios", "jean martin"},
		{"newline between words", "RIOS\nLucas", "MARTIN\nJean"},
		{"no identity present", "Bilan orthophonique normal.", "Bilan orthophonique normal."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Anonymize(tt.in, ctx); got != tt.want {
				t.Errorf("Anonymize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := mustContext(t, "RIOS Lucas", "MARTIN Jean")
	texts := []string{
		"Lucas RIOS, né le 12/03/2015, présente un TDAH.",
		"RIOS Lucas. Lucas progresse. Les parents de Lucas RIOS sont présents.",
		"lucas rios",
		"Aucun nom ici.",
	}

	for _, text := range texts {
		anon := Anonymize(text, ctx)
		if strings.Contains(strings.ToLower(anon), "rios") || strings.Contains(strings.ToLower(anon), "lucas") {
			t.Errorf("identity leaked: %q", anon)
		}
		if back := Deanonymize(anon, ctx); back != text {
			t.Errorf("round trip: got %q, want %q", back, text)
		}
	}
}

func TestIdempotence(t *testing.T) {
	ctx := mustContext(t, "DUPONT Marie Claire", "LEROY Anna Léa")
	text := "Marie Claire DUPONT et DUPONT Marie Claire. Claire, Marie, Dupont."

	once := Anonymize(text, ctx)
	twice := Anonymize(once, ctx)
	if once != twice {
		t.Errorf("not idempotent:\n once: %q\ntwice: %q", once, twice)
	}
}

func TestWordBoundaries(t *testing.T) {
	ctx := mustContext(t, "SILVA Ana", "COSTA Lia")

	tests := []struct {
		in   string
		want string
	}{
		{"Anatomie et Ana.", "Anatomie et Lia."},
		{"Banane", "Banane"},
		{"ana_2", "ana_2"},
		{"(Ana)", "(Lia)"},
		{"Silvana", "Silvana"},
		{"SILVA-Ana", "COSTA-Lia"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Anonymize(tt.in, ctx); got != tt.want {
				t.Errorf("Anonymize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAccentedNames(t *testing.T) {
	ctx := mustContext(t, "LÉGER Zoé", "BLANC Inès")

	got := Anonymize("Zoé LÉGER et zoé léger", ctx)
	if got != "Inès BLANC et inès blanc" {
		t.Errorf("got %q", got)
	}
	// Zoé followed by a letter is part of a longer word
	if got := Anonymize("Zoéline", ctx); got != "Zoéline" {
		t.Errorf("got %q", got)
	}
}

func TestSingleWordIdentity(t *testing.T) {
	ctx := mustContext(t, "Lucas", "Jean")
	if got := Anonymize("Lucas et Lucasien", ctx); got != "Jean et Lucasien" {
		t.Errorf("got %q", got)
	}
}

func TestIntermediatePartsMapping(t *testing.T) {
	t.Run("intermediate to intermediate", func(t *testing.T) {
		ctx := mustContext(t, "DUPONT Marie Claire", "LEROY Anna Léa")
		if got := Anonymize("Marie", ctx); got != "Anna" {
			t.Errorf("Marie -> %q, want Anna", got)
		}
		if got := Anonymize("Claire", ctx); got != "Léa" {
			t.Errorf("Claire -> %q, want Léa", got)
		}
	})

	t.Run("missing intermediate falls back to first", func(t *testing.T) {
		ctx := mustContext(t, "DUPONT Marie Claire", "LEROY Anna")
		if got := Anonymize("Marie", ctx); got != "Leroy" {
			t.Errorf("Marie -> %q, want Leroy", got)
		}
		if got := Anonymize("Claire", ctx); got != "Anna" {
			t.Errorf("Claire -> %q, want Anna", got)
		}
	})
}

func TestNewContextValidation(t *testing.T) {
	t.Run("equal pseudonym", func(t *testing.T) {
		_, err := NewContext("RIOS Lucas", "rios  lucas")
		if !errors.Is(err, ErrPseudonymMatchesIdentity) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("missing pseudonym", func(t *testing.T) {
		_, err := NewContext("RIOS Lucas", "  ")
		if !errors.Is(err, ErrEmptyPseudonym) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("crossed words", func(t *testing.T) {
		_, err := NewContext("PAUL Martin", "MARTIN Jean")
		if !errors.Is(err, ErrPseudonymNotStable) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("empty identity is a no-op", func(t *testing.T) {
		ctx, err := NewContext("", "MARTIN Jean")
		if err != nil {
			t.Fatal(err)
		}
		if !ctx.IsEmpty() {
			t.Error("expected empty context")
		}
		if got := Anonymize("Lucas RIOS", ctx); got != "Lucas RIOS" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("honorifics stripped", func(t *testing.T) {
		ctx := mustContext(t, "M. RIOS Lucas", "Dr MARTIN Jean")
		if ctx.RealIdentity() != "RIOS Lucas" || ctx.Pseudonym() != "MARTIN Jean" {
			t.Errorf("got %q / %q", ctx.RealIdentity(), ctx.Pseudonym())
		}
	})
}

func TestApplyLongestMatchFirst(t *testing.T) {
	rules := []Rule{
		{Match: "Saint", Replacement: "[A]"},
		{Match: "Saint Denis", Replacement: "[B]"},
	}
	if got := Apply("Hôpital Saint Denis, Saint", rules); got != "Hôpital [B], [A]" {
		t.Errorf("got %q", got)
	}
}

func TestApplyDoesNotRematchOutput(t *testing.T) {
	rules := []Rule{
		{Match: "Anna", Replacement: "Léa"},
		{Match: "Léa", Replacement: "Anna"},
	}
	if got := Apply("Anna et Léa", rules); got != "Léa et Anna" {
		t.Errorf("got %q", got)
	}
}

func TestApplyShorterRuleWhenLongerFailsBoundary(t *testing.T) {
	rules := []Rule{
		{Match: "Ana Maria", Replacement: "[X]"},
		{Match: "Ana", Replacement: "[Y]"},
	}
	if got := Apply("Ana Mariana", rules); got != "[Y] Mariana" {
		t.Errorf("got %q", got)
	}
}

func TestDecomposedAccents(t *testing.T) {
	ctx := mustContext(t, "LEFÈVRE Hélène", "MARTIN Sophie")

	t.Run("decomposed text", func(t *testing.T) {
		in := norm.NFD.String("Hélène LEFÈVRE consulte ce jour.")
		got := Anonymize(in, ctx)
		if got != "Sophie MARTIN consulte ce jour." {
			t.Errorf("Anonymize(NFD) = %q", got)
		}
		if back := Deanonymize(got, ctx); back != "Hélène LEFÈVRE consulte ce jour." {
			t.Errorf("Deanonymize = %q", back)
		}
	})

	t.Run("decomposed identity", func(t *testing.T) {
		nfd := mustContext(t, norm.NFD.String("LEFÈVRE Hélène"), "MARTIN Sophie")
		if got := Anonymize("Mme LEFÈVRE est venue.", nfd); got != "Mme MARTIN est venue." {
			t.Errorf("Anonymize = %q", got)
		}
	})

	t.Run("decomposed rule", func(t *testing.T) {
		rules := []Rule{{Match: norm.NFD.String("Hôpital Sainte-Thérèse"), Replacement: "[LIEU_1]"}}
		if got := Apply("Adressé par l'Hôpital Sainte-Thérèse.", rules); got != "Adressé par l'[LIEU_1]." {
			t.Errorf("Apply = %q", got)
		}
	})
}
