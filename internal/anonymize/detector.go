package anonymize

import (
	"fmt"
	"regexp"

	"github.com/raaihank/medgateway/internal/logger"
	"go.uber.org/zap"
)

// GetDefaultRules returns the structured identifier rules, most specific first.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:    "email",
			Kind:    KindEmail,
			Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		},
		{
			Name:    "nir",
			Kind:    KindSocialNumber,
			Pattern: regexp.MustCompile(`\b[12]\s?\d{2}\s?\d{2}\s?\d{2}\s?\d{3}\s?\d{3}\s?\d{2}\b`),
		},
		{
			Name:    "phone_fr",
			Kind:    KindPhone,
			Pattern: regexp.MustCompile(`\b0[1-9](?:[\s.-]?\d{2}){4}\b`),
		},
		{
			Name:    "phone_fr_intl",
			Kind:    KindPhone,
			Pattern: regexp.MustCompile(`\+33\s?[1-9](?:[\s.-]?\d{2}){4}\b`),
		},
	}
}

// Detector locates structured identifiers with the enabled rules.
type Detector struct {
	rules   []DetectionRule
	enabled map[string]bool
	logger  *logger.Logger
}

// NewDetector creates a detector with the named rules enabled. "all"
// enables every rule.
func NewDetector(detectors []string, log *logger.Logger) (*Detector, error) {
	d := &Detector{
		rules:   GetDefaultRules(),
		enabled: make(map[string]bool),
		logger:  log,
	}

	if err := d.configureDetectors(detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Debug("Identifier detector initialized",
		zap.Int("total_rules", len(d.rules)),
		zap.Int("enabled_rules", d.countEnabledRules()),
	)

	return d, nil
}

func (d *Detector) configureDetectors(detectors []string) error {
	for _, rule := range d.rules {
		d.enabled[rule.Name] = false
	}

	for _, detector := range detectors {
		if detector == "all" {
			for _, rule := range d.rules {
				d.enabled[rule.Name] = true
			}
			continue
		}

		if _, ok := d.enabled[detector]; !ok {
			return fmt.Errorf("unknown detector: %s", detector)
		}
		d.enabled[detector] = true
	}

	return nil
}

func (d *Detector) countEnabledRules() int {
	n := 0
	for _, on := range d.enabled {
		if on {
			n++
		}
	}
	return n
}

// FindAll returns every identifier found in text. Spans claimed by an
// earlier rule are not reported again by a later one.
func (d *Detector) FindAll(text string) []Finding {
	var findings []Finding
	var claimed [][2]int

	overlaps := func(start, end int) bool {
		for _, c := range claimed {
			if start < c[1] && end > c[0] {
				return true
			}
		}
		return false
	}

	for _, rule := range d.rules {
		if !d.enabled[rule.Name] {
			continue
		}
		matches := rule.Pattern.FindAllStringIndex(text, -1)
		count := 0
		for _, m := range matches {
			if overlaps(m[0], m[1]) {
				continue
			}
			claimed = append(claimed, [2]int{m[0], m[1]})
			findings = append(findings, Finding{Kind: rule.Kind, Value: text[m[0]:m[1]]})
			count++
		}
		if count > 0 {
			d.logger.Debug("Structured identifiers detected",
				zap.String("rule", rule.Name),
				zap.Int("count", count),
			)
		}
	}

	return findings
}
