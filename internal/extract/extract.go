// Package extract finds candidate identity spans in clinical text with a
// local language model.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/raaihank/medgateway/internal/anonymize"
	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/logger"
	"github.com/raaihank/medgateway/internal/provider"
)

var (
	// ErrDegraded marks every extraction failure. Callers continue with an
	// empty result.
	ErrDegraded = errors.New("entity extraction degraded")
	// ErrNotLocal is returned when the source hands out a cloud backend.
	ErrNotLocal = errors.New("extraction requires a local provider")
	// ErrUnavailable is returned when the local backend fails its probe.
	ErrUnavailable = errors.New("local provider unavailable")
)

// Source returns the backend used for extraction.
type Source func() (provider.Provider, error)

// LLMExtractor asks a local model for names, dates, locations and
// organizations and keeps only values that occur in the source text.
type LLMExtractor struct {
	source    Source
	timeout   time.Duration
	maxTokens int
	minLength int
	logger    *logger.Logger
}

// New creates an extractor
func New(source Source, cfg config.ExtractionConfig, minLength int, log *logger.Logger) *LLMExtractor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if minLength < 1 {
		minLength = 1
	}
	return &LLMExtractor{
		source:    source,
		timeout:   timeout,
		maxTokens: maxTokens,
		minLength: minLength,
		logger:    log.WithComponent("extract"),
	}
}

// Extract returns the entities found in text. Every error wraps ErrDegraded.
func (e *LLMExtractor) Extract(ctx context.Context, text string) (anonymize.PIIResult, error) {
	if strings.TrimSpace(text) == "" {
		return anonymize.PIIResult{}, nil
	}
	text = norm.NFC.String(text)

	p, err := e.source()
	if err != nil {
		return anonymize.PIIResult{}, fmt.Errorf("%w: %w", ErrDegraded, err)
	}
	if !p.IsLocal() {
		return anonymize.PIIResult{}, fmt.Errorf("%w: %w (%s)", ErrDegraded, ErrNotLocal, p.Name())
	}

	if ok, msg := p.CheckConnection(ctx); !ok {
		return anonymize.PIIResult{}, fmt.Errorf("%w: %w: %s", ErrDegraded, ErrUnavailable, msg)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := p.GenerateText(ctx, buildPrompt(text), e.maxTokens)
	if err != nil {
		return anonymize.PIIResult{}, fmt.Errorf("%w: %w", ErrDegraded, err)
	}

	result, err := parseResult(raw)
	if err != nil {
		return anonymize.PIIResult{}, fmt.Errorf("%w: %w", ErrDegraded, err)
	}
	result = e.keepPresent(result, text)

	e.logger.Debug("Entities extracted",
		zap.Int("names", len(result.Names)),
		zap.Int("dates", len(result.Dates)),
		zap.Int("locations", len(result.Locations)),
		zap.Int("organizations", len(result.Organizations)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func buildPrompt(text string) string {
	return `Tu es un outil d'extraction d'entités. Relève dans le texte ci-dessous les informations identifiantes :
- "names" : noms et prénoms de personnes
- "dates" : dates (naissance, consultation, événements)
- "locations" : villes, adresses, établissements nommés
- "organizations" : écoles, hôpitaux, associations, entreprises

Recopie chaque valeur exactement comme elle apparaît dans le texte. N'invente rien.
Réponds UNIQUEMENT avec un objet JSON, sans explication :
{"names":[],"dates":[],"locations":[],"organizations":[]}

Texte :
` + text
}

var keyAliases = map[string]string{
	"names":         "names",
	"noms":          "names",
	"personnes":     "names",
	"dates":         "dates",
	"locations":     "locations",
	"lieux":         "locations",
	"places":        "locations",
	"organizations": "organizations",
	"organisations": "organizations",
	"orgs":          "organizations",
}

// parseResult locates the JSON object in free model output and decodes it.
// A string is accepted wherever an array is expected.
func parseResult(raw string) (anonymize.PIIResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return anonymize.PIIResult{}, errors.New("no JSON object in model response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		return anonymize.PIIResult{}, fmt.Errorf("entity parse error: %w", err)
	}

	var result anonymize.PIIResult
	for key, value := range fields {
		values := stringList(value)
		switch keyAliases[strings.ToLower(strings.TrimSpace(key))] {
		case "names":
			result.Names = append(result.Names, values...)
		case "dates":
			result.Dates = append(result.Dates, values...)
		case "locations":
			result.Locations = append(result.Locations, values...)
		case "organizations":
			result.Organizations = append(result.Organizations, values...)
		}
	}
	return result.Normalized(), nil
}

func stringList(raw json.RawMessage) []string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// keepPresent drops values the model invented or shortened below the
// minimum length.
func (e *LLMExtractor) keepPresent(r anonymize.PIIResult, text string) anonymize.PIIResult {
	lower := strings.ToLower(text)
	filter := func(values []string) []string {
		var out []string
		for _, v := range values {
			if utf8.RuneCountInString(v) < e.minLength {
				continue
			}
			if !strings.Contains(lower, strings.ToLower(norm.NFC.String(v))) {
				continue
			}
			out = append(out, v)
		}
		return out
	}
	return anonymize.PIIResult{
		Names:         filter(r.Names),
		Dates:         filter(r.Dates),
		Locations:     filter(r.Locations),
		Organizations: filter(r.Organizations),
	}
}
