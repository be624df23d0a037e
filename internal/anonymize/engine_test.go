package anonymize

import (
	"strings"
	"testing"

	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.GetDefaults().Anonymization
	e, err := NewEngine(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEnginePrepareRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := mustContext(t, "RIOS Lucas", "MARTIN Jean")

	text := "Lucas RIOS, suivi à l'Hôpital Necker depuis le 12/03/2021. " +
		"Mère joignable au 06 12 34 56 78 ou sophie.rios@example.fr."
	pii := PIIResult{
		Names:         []string{"Lucas RIOS", "Sophie"},
		Dates:         []string{"12/03/2021"},
		Locations:     []string{"Hôpital Necker"},
		Organizations: []string{"CMP"},
	}

	m := e.Prepare(ctx, pii, text)
	anon := m.Anonymize(text)

	for _, leaked := range []string{"Lucas", "RIOS", "Necker", "12/03/2021", "06 12 34 56 78", "sophie.rios@example.fr"} {
		if strings.Contains(anon, leaked) {
			t.Errorf("anonymized text still contains %q: %s", leaked, anon)
		}
	}
	for _, want := range []string{"Jean MARTIN", "[LIEU_1]", "[DATE_1]", "[TELEPHONE_1]", "[EMAIL_1]"} {
		if !strings.Contains(anon, want) {
			t.Errorf("anonymized text missing %q: %s", want, anon)
		}
	}

	if back := m.Deanonymize(anon); back != text {
		t.Errorf("round trip mismatch:\n got: %s\nwant: %s", back, text)
	}
	if m.Replacements() == 0 {
		t.Error("expected replacements to be counted")
	}
}

func TestEngineFiltersEntities(t *testing.T) {
	e := newTestEngine(t)
	ctx := mustContext(t, "RIOS Lucas", "MARTIN Jean")

	pii := PIIResult{
		Names:         []string{"Li", "Lucas", "patient"},
		Organizations: []string{"MDPH", "  ", "Éducation nationale"},
	}
	m := e.Prepare(ctx, pii)

	summary := m.Summary()
	if summary[KindName] != 0 {
		t.Errorf("short, identity and excluded names must be skipped, got %d", summary[KindName])
	}
	if summary[KindOrganization] != 1 {
		t.Errorf("organizations = %d, want 1", summary[KindOrganization])
	}

	got := m.Anonymize("Dossier MDPH transmis à l'Éducation nationale.")
	if got != "Dossier MDPH transmis à l'[ORGANISATION_1]." {
		t.Errorf("got %q", got)
	}
}

func TestEngineSameValueSamePlaceholder(t *testing.T) {
	e := newTestEngine(t)
	m := e.Prepare(Context{}, PIIResult{Locations: []string{"Lyon", "LYON"}})
	got := m.Anonymize("Lyon, puis lyon.")
	if got != "[LIEU_1], puis [LIEU_1]." {
		t.Errorf("got %q", got)
	}
}

func TestEngineRestoredValuesNotRewritten(t *testing.T) {
	e := newTestEngine(t)
	ctx := mustContext(t, "RIOS Lucas", "MARTIN Jean")

	// "Clinique Martin" contains the pseudonym surname
	m := e.Prepare(ctx, PIIResult{Locations: []string{"Clinique Martin"}})
	text := "Lucas RIOS est hospitalisé à la Clinique Martin."
	anon := m.Anonymize(text)
	if back := m.Deanonymize(anon); back != text {
		t.Errorf("got %q", back)
	}
}

func TestNewEngineUnknownDetector(t *testing.T) {
	cfg := config.GetDefaults().Anonymization
	cfg.Detectors = []string{"iban"}
	if _, err := NewEngine(cfg, logger.NewNop()); err == nil {
		t.Error("expected error for unknown detector")
	}
}

func TestDetectorFindAll(t *testing.T) {
	d, err := NewDetector([]string{"all"}, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	text := "NIR 1 85 05 78 006 084 36, tel +33 6 12 34 56 78, mail a.b@hopital.fr"
	findings := d.FindAll(text)

	kinds := map[EntityKind]string{}
	for _, f := range findings {
		kinds[f.Kind] = f.Value
	}
	if kinds[KindSocialNumber] != "1 85 05 78 006 084 36" {
		t.Errorf("nir = %q", kinds[KindSocialNumber])
	}
	if kinds[KindPhone] != "+33 6 12 34 56 78" {
		t.Errorf("phone = %q", kinds[KindPhone])
	}
	if kinds[KindEmail] != "a.b@hopital.fr" {
		t.Errorf("email = %q", kinds[KindEmail])
	}
}

func TestDetectorSelectedRules(t *testing.T) {
	d, err := NewDetector([]string{"email"}, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	findings := d.FindAll("06 12 34 56 78 a@b.fr")
	if len(findings) != 1 || findings[0].Kind != KindEmail {
		t.Errorf("got %+v", findings)
	}
}
