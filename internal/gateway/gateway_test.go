package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/text/unicode/norm"

	"github.com/raaihank/medgateway/internal/anonymize"
	"github.com/raaihank/medgateway/internal/audit"
	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/logger"
	"github.com/raaihank/medgateway/internal/provider"
)

type countingExtractor struct {
	mu     sync.Mutex
	calls  int
	result anonymize.PIIResult
	err    error
	after  func()
}

func (e *countingExtractor) Extract(ctx context.Context, text string) (anonymize.PIIResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.after != nil {
		defer e.after()
	}
	return e.result, e.err
}

func (e *countingExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type countingEngine struct {
	mu     sync.Mutex
	engine *anonymize.Engine
	calls  int
}

func (e *countingEngine) Prepare(identity anonymize.Context, pii anonymize.PIIResult, texts ...string) *anonymize.Mapping {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.engine.Prepare(identity, pii, texts...)
}

func (e *countingEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type harness struct {
	gateway   *Gateway
	factory   *Factory
	extractor *countingExtractor
	engine    *countingEngine
	recorder  *audit.MemoryRecorder
	mu        sync.Mutex
	states    []State
}

func (h *harness) transitions() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func newHarness(t *testing.T, active *provider.Fake) *harness {
	t.Helper()

	engine, err := anonymize.NewEngine(config.GetDefaults().Anonymization, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	order := []provider.Kind{provider.Kind(active.ProviderName)}
	factory, _ := newTestFactory(t, newFakeBackends(active), nil, order...)
	if err := factory.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		factory:   factory,
		extractor: &countingExtractor{},
		engine:    &countingEngine{engine: engine},
		recorder:  audit.NewMemoryRecorder(10),
	}
	observer := func(_ string, _, to State) {
		h.mu.Lock()
		h.states = append(h.states, to)
		h.mu.Unlock()
	}
	h.gateway = New(factory, h.extractor, h.engine, anonymize.NewNameGenerator(42), logger.NewNop(),
		WithObserver(observer),
		WithRecorder(h.recorder),
	)
	return h
}

func echo(_ string, messages []provider.Message) string {
	return messages[len(messages)-1].Content
}

func TestCloudRoundTrip(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "")
	cloud.Respond = func(_ string, messages []provider.Message) string {
		return "Synthèse pour Sophie Claire MARTIN. Dossier : MARTIN Sophie Claire."
	}
	h := newHarness(t, cloud)

	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		SystemPrompt:    "Tu rédiges des courriers médicaux.",
		Messages:        []provider.Message{{Role: "user", Content: "Marie Astrid RIOS présente un trouble de l'attention."}},
		PatientIdentity: "RIOS Marie Astrid",
		Pseudonym:       "MARTIN Sophie Claire",
	})
	if !res.Success() {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}

	_, sent, _ := cloud.LastRequest()
	if got := sent[0].Content; got != "Sophie Claire MARTIN présente un trouble de l'attention." {
		t.Errorf("sent %q", got)
	}
	if want := "Synthèse pour Marie Astrid RIOS. Dossier : RIOS Marie Astrid."; res.Text != want {
		t.Errorf("result = %q, want %q", res.Text, want)
	}
	if !res.Anonymized || res.Replacements == 0 {
		t.Errorf("anonymized = %v, replacements = %d", res.Anonymized, res.Replacements)
	}

	want := []State{SelectingProvider, ExtractingPII, Anonymizing, CallingProvider, Deanonymizing, Done}
	got := h.transitions()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCloudDecomposedIdentity(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "")
	cloud.Respond = echo
	h := newHarness(t, cloud)

	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		SystemPrompt:    norm.NFD.String("Courrier pour Hélène."),
		Messages:        []provider.Message{{Role: "user", Content: norm.NFD.String("Hélène LEFÈVRE consulte ce jour.")}},
		PatientIdentity: "LEFÈVRE Hélène",
		Pseudonym:       "MARTIN Sophie",
	})
	if !res.Success() {
		t.Fatalf("outcome = %s, err = %v", res.Outcome, res.Err)
	}

	system, sent, _ := cloud.LastRequest()
	for _, text := range []string{system, sent[0].Content} {
		lower := strings.ToLower(norm.NFC.String(text))
		if strings.Contains(lower, "lefèvre") || strings.Contains(lower, "hélène") {
			t.Errorf("identity reached the backend: %q", text)
		}
	}
	if sent[0].Content != "Sophie MARTIN consulte ce jour." {
		t.Errorf("sent %q", sent[0].Content)
	}
	if res.Text != "Hélène LEFÈVRE consulte ce jour." {
		t.Errorf("result = %q", res.Text)
	}
}

func TestCloudGeneratedPseudonym(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "")
	cloud.Respond = echo
	h := newHarness(t, cloud)

	input := "Bilan de Lucas RIOS, suivi pour RIOS Lucas depuis 2021."
	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		Messages:        []provider.Message{{Role: "user", Content: input}},
		PatientIdentity: "RIOS Lucas",
	})
	if !res.Success() {
		t.Fatal(res.Err)
	}

	_, sent, _ := cloud.LastRequest()
	if strings.Contains(sent[0].Content, "RIOS") || strings.Contains(sent[0].Content, "Lucas") {
		t.Errorf("identity leaked to cloud backend: %q", sent[0].Content)
	}
	if res.Text != input {
		t.Errorf("result = %q, want %q", res.Text, input)
	}
}

func TestCloudPlaceholders(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "")
	cloud.Respond = echo
	h := newHarness(t, cloud)
	h.extractor.result = anonymize.PIIResult{Locations: []string{"Lyon"}, Dates: []string{"12/03/2015"}}

	input := "Né le 12/03/2015 à Lyon. Contact : parents.rios@example.fr"
	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		Messages:        []provider.Message{{Role: "user", Content: input}},
		PatientIdentity: "RIOS Lucas",
		Pseudonym:       "MARTIN Hugo",
	})
	if !res.Success() {
		t.Fatal(res.Err)
	}

	_, sent, _ := cloud.LastRequest()
	for _, leaked := range []string{"Lyon", "12/03/2015", "example.fr"} {
		if strings.Contains(sent[0].Content, leaked) {
			t.Errorf("%q reached the cloud backend: %q", leaked, sent[0].Content)
		}
	}
	if !strings.Contains(sent[0].Content, "[LIEU_1]") {
		t.Errorf("sent %q", sent[0].Content)
	}
	if res.Text != input {
		t.Errorf("result = %q", res.Text)
	}
}

func TestLocalPassThrough(t *testing.T) {
	local := provider.NewFake("ollama", "llama3.2:latest", true, "")
	local.Respond = echo
	h := newHarness(t, local)

	input := "Marie Astrid RIOS présente un trouble de l'attention."
	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		Messages:        []provider.Message{{Role: "user", Content: input}},
		PatientIdentity: "RIOS Marie Astrid",
	})
	if !res.Success() {
		t.Fatal(res.Err)
	}

	if h.extractor.Calls() != 0 || h.engine.Calls() != 0 {
		t.Errorf("extractor calls = %d, engine calls = %d; want 0", h.extractor.Calls(), h.engine.Calls())
	}
	_, sent, _ := local.LastRequest()
	if sent[0].Content != input || res.Text != input {
		t.Errorf("local text altered: sent %q, got %q", sent[0].Content, res.Text)
	}
	if res.Anonymized {
		t.Error("local call must not be flagged anonymized")
	}
}

func TestCancellation(t *testing.T) {
	t.Run("between extraction and provider call", func(t *testing.T) {
		cloud := provider.NewFake("openai", "gpt-4o-mini", false, "ok")
		h := newHarness(t, cloud)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.extractor.after = cancel

		res := h.gateway.ChatOrGenerate(ctx, Request{
			Messages:        []provider.Message{{Role: "user", Content: "RIOS Lucas, 9 ans."}},
			PatientIdentity: "RIOS Lucas",
		})
		if res.Outcome != OutcomeCancelled {
			t.Fatalf("outcome = %s", res.Outcome)
		}
		if res.Err != nil || res.ErrorMessage() != "" {
			t.Errorf("cancellation must carry no error, got %v", res.Err)
		}
		if cloud.Calls() != 0 {
			t.Errorf("provider calls = %d, want 0", cloud.Calls())
		}
		states := h.transitions()
		if states[len(states)-1] != Cancelled {
			t.Errorf("last state = %s", states[len(states)-1])
		}
	})

	t.Run("before extraction", func(t *testing.T) {
		cloud := provider.NewFake("openai", "gpt-4o-mini", false, "ok")
		h := newHarness(t, cloud)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := h.gateway.ChatOrGenerate(ctx, Request{SystemPrompt: "Résume."})
		if res.Outcome != OutcomeCancelled || h.extractor.Calls() != 0 || cloud.Calls() != 0 {
			t.Errorf("outcome = %s, extractor = %d, provider = %d", res.Outcome, h.extractor.Calls(), cloud.Calls())
		}
	})

	t.Run("during provider call", func(t *testing.T) {
		local := provider.NewFake("ollama", "llama3.2:latest", true, "")
		h := newHarness(t, local)

		ctx, cancel := context.WithCancel(context.Background())
		local.BeforeCall = func(context.Context) { cancel() }
		local.Err = context.Canceled

		res := h.gateway.ChatOrGenerate(ctx, Request{SystemPrompt: "Résume."})
		if res.Outcome != OutcomeCancelled {
			t.Errorf("outcome = %s, err = %v", res.Outcome, res.Err)
		}
	})
}

func TestExtractionDegraded(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "")
	cloud.Respond = echo
	h := newHarness(t, cloud)
	h.extractor.err = errors.New("local model unreachable")

	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		Messages:        []provider.Message{{Role: "user", Content: "Lucas RIOS, 9 ans."}},
		PatientIdentity: "RIOS Lucas",
		Pseudonym:       "MARTIN Hugo",
	})
	if !res.Success() {
		t.Fatalf("degraded extraction must not fail the call: %v", res.Err)
	}
	if !res.ExtractionDegraded {
		t.Error("result should be flagged degraded")
	}
	_, sent, _ := cloud.LastRequest()
	if sent[0].Content != "Hugo MARTIN, 9 ans." {
		t.Errorf("sent %q", sent[0].Content)
	}
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		err      error
		wantKind string
	}{
		{
			name:     "empty request",
			req:      Request{},
			wantKind: "validation",
		},
		{
			name:     "pseudonym equals identity",
			req:      Request{SystemPrompt: "x", PatientIdentity: "RIOS Lucas", Pseudonym: "rios lucas"},
			wantKind: "validation",
		},
		{
			name:     "quota exceeded",
			req:      Request{SystemPrompt: "Résume."},
			err:      &provider.StatusError{Provider: "openai", StatusCode: 429, Message: "openai quota exceeded or too many requests"},
			wantKind: "provider",
		},
		{
			name:     "unreachable",
			req:      Request{SystemPrompt: "Résume."},
			err:      &provider.ConnectivityError{Provider: "openai", Err: errors.New("connection refused")},
			wantKind: "connectivity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cloud := provider.NewFake("openai", "gpt-4o-mini", false, "ok")
			cloud.Err = tt.err
			h := newHarness(t, cloud)

			res := h.gateway.ChatOrGenerate(context.Background(), tt.req)
			if res.Outcome != OutcomeFailed {
				t.Fatalf("outcome = %s", res.Outcome)
			}
			if got := ErrorKind(res.Err); got != tt.wantKind {
				t.Errorf("kind = %q, want %q (%v)", got, tt.wantKind, res.Err)
			}
			if res.ErrorMessage() == "" || res.Text != "" {
				t.Errorf("message = %q, text = %q", res.ErrorMessage(), res.Text)
			}
		})
	}
}

func TestGenerateWithoutMessages(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "Courrier pour MARTIN Hugo.")
	h := newHarness(t, cloud)

	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		SystemPrompt:    "Rédige un courrier pour RIOS Lucas.",
		PatientIdentity: "RIOS Lucas",
		Pseudonym:       "MARTIN Hugo",
	})
	if !res.Success() {
		t.Fatal(res.Err)
	}
	_, _, prompt := cloud.LastRequest()
	if prompt != "Rédige un courrier pour MARTIN Hugo." {
		t.Errorf("prompt = %q", prompt)
	}
	if res.Text != "Courrier pour RIOS Lucas." {
		t.Errorf("result = %q", res.Text)
	}
}

func TestAuditEntryHasNoText(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "ok")
	h := newHarness(t, cloud)

	res := h.gateway.ChatOrGenerate(context.Background(), Request{
		RequestID:       "req-1",
		Messages:        []provider.Message{{Role: "user", Content: "RIOS Lucas"}},
		PatientIdentity: "RIOS Lucas",
	})
	if !res.Success() {
		t.Fatal(res.Err)
	}

	entries, _ := h.recorder.Recent(context.Background(), 10)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.RequestID != "req-1" || e.Provider != "openai" || e.Local || e.Outcome != "done" {
		t.Errorf("entry = %+v", e)
	}
}

func TestConcurrentCallsShareNothing(t *testing.T) {
	cloud := provider.NewFake("openai", "gpt-4o-mini", false, "")
	cloud.Respond = echo
	h := newHarness(t, cloud)

	identities := []string{"RIOS Lucas", "DUPONT Marie", "LEBLANC Chloé", "NGUYEN Minh"}
	var wg sync.WaitGroup
	for _, id := range identities {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			parts := strings.Fields(id)
			input := parts[1] + " " + parts[0] + " est suivi au CMP."
			res := h.gateway.ChatOrGenerate(context.Background(), Request{
				Messages:        []provider.Message{{Role: "user", Content: input}},
				PatientIdentity: id,
			})
			if !res.Success() || res.Text != input {
				t.Errorf("%s: got %q (%v)", id, res.Text, res.Err)
			}
		}(id)
	}
	wg.Wait()
}
