package anonymize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/logger"
	"go.uber.org/zap"
)

// Engine builds per-request mappings from an identity context, extracted
// entities and structured identifiers found in the outgoing texts.
type Engine struct {
	minLength  int
	exclusions map[string]bool
	detector   *Detector
	logger     *logger.Logger
}

// NewEngine creates an engine from configuration.
func NewEngine(cfg config.AnonymizationConfig, log *logger.Logger) (*Engine, error) {
	log = log.WithComponent("anonymize")

	detector, err := NewDetector(cfg.Detectors, log)
	if err != nil {
		return nil, err
	}

	exclusions := make(map[string]bool, len(cfg.Exclusions))
	for _, e := range cfg.Exclusions {
		exclusions[strings.ToLower(strings.TrimSpace(e))] = true
	}

	minLength := cfg.MinEntityLength
	if minLength < 1 {
		minLength = 1
	}

	return &Engine{
		minLength:  minLength,
		exclusions: exclusions,
		detector:   detector,
		logger:     log,
	}, nil
}

// Mapping is the reversible substitution state of one request. It is not
// safe for concurrent use and must be discarded when the request ends.
type Mapping struct {
	identity     Context
	forward      *RuleSet
	inverse      *RuleSet
	summary      Summary
	replacements int
}

// Prepare builds the mapping for a request. Identity words are always
// substituted; extracted entities and detected identifiers become numbered
// placeholders unless they are too short, excluded, or part of the identity.
func (e *Engine) Prepare(ctx Context, pii PIIResult, texts ...string) *Mapping {
	m := &Mapping{identity: ctx, summary: make(Summary)}

	var forward, inverse []Rule
	assigned := make(map[string]bool)
	add := func(kind EntityKind, value string) {
		key := strings.ToLower(value)
		if assigned[key] || !e.eligible(ctx, value) {
			return
		}
		assigned[key] = true
		m.summary[kind]++
		placeholder := fmt.Sprintf("[%s_%d]", kind, m.summary[kind])
		forward = append(forward, Rule{Match: value, Replacement: placeholder})
		inverse = append(inverse, Rule{Match: placeholder, Replacement: value})
	}

	// fixed-format identifiers first so a name rule cannot split an e-mail
	for _, text := range texts {
		for _, f := range e.detector.FindAll(text) {
			add(f.Kind, f.Value)
		}
	}
	for _, set := range pii.Normalized().byKind() {
		for _, v := range set.values {
			add(set.kind, v)
		}
	}

	m.forward = Compile(forward)
	m.inverse = Compile(inverse)

	e.logger.Debug("Anonymization mapping prepared",
		zap.Bool("identity", !ctx.IsEmpty()),
		zap.Int("placeholders", m.forward.Len()),
		zap.Int("extracted_entities", pii.Count()),
	)

	return m
}

func (e *Engine) eligible(ctx Context, value string) bool {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) < e.minLength {
		return false
	}
	if e.exclusions[strings.ToLower(value)] {
		return false
	}
	for _, w := range strings.Fields(value) {
		if ctx.HasRealPart(strings.Trim(w, ".,;:")) {
			return false
		}
	}
	return true
}

// Anonymize substitutes placeholders first and the identity second.
func (m *Mapping) Anonymize(text string) string {
	out, n := m.forward.replace(text)
	m.replacements += n
	out, n = m.identity.forward.replace(out)
	m.replacements += n
	return out
}

// Deanonymize reverses Anonymize. The identity is restored before the
// placeholders so restored entity values are never rewritten.
func (m *Mapping) Deanonymize(text string) string {
	out := m.identity.inverse.Replace(text)
	return m.inverse.Replace(out)
}

// Replacements returns how many substitutions Anonymize has made so far.
func (m *Mapping) Replacements() int { return m.replacements }

// Summary returns the number of placeholders introduced per kind.
func (m *Mapping) Summary() Summary {
	out := make(Summary, len(m.summary))
	for k, v := range m.summary {
		out[k] = v
	}
	return out
}
