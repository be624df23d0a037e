package anonymize

import (
	"regexp"
	"strings"
)

// EntityKind names a class of identifying entity and its placeholder prefix.
type EntityKind string

const (
	KindName         EntityKind = "NOM"
	KindDate         EntityKind = "DATE"
	KindLocation     EntityKind = "LIEU"
	KindOrganization EntityKind = "ORGANISATION"
	KindEmail        EntityKind = "EMAIL"
	KindPhone        EntityKind = "TELEPHONE"
	KindSocialNumber EntityKind = "NUM_SECU"
)

// PIIResult holds the candidate identity spans found in a text. It is
// request scoped and its values must never be logged or stored.
type PIIResult struct {
	Names         []string `json:"names"`
	Dates         []string `json:"dates"`
	Locations     []string `json:"locations"`
	Organizations []string `json:"organizations"`
}

// Count returns the total number of entities.
func (r PIIResult) Count() int {
	return len(r.Names) + len(r.Dates) + len(r.Locations) + len(r.Organizations)
}

// Empty reports whether no entity was found.
func (r PIIResult) Empty() bool { return r.Count() == 0 }

// Normalized returns a copy with blank values dropped and duplicates
// (case-insensitive) removed, keeping first-seen order.
func (r PIIResult) Normalized() PIIResult {
	return PIIResult{
		Names:         dedupe(r.Names),
		Dates:         dedupe(r.Dates),
		Locations:     dedupe(r.Locations),
		Organizations: dedupe(r.Organizations),
	}
}

// byKind lists the entity sets in placeholder order.
func (r PIIResult) byKind() []struct {
	kind   EntityKind
	values []string
} {
	return []struct {
		kind   EntityKind
		values []string
	}{
		{KindName, r.Names},
		{KindDate, r.Dates},
		{KindLocation, r.Locations},
		{KindOrganization, r.Organizations},
	}
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// DetectionRule finds structured identifiers that follow a fixed format.
type DetectionRule struct {
	Name    string
	Kind    EntityKind
	Pattern *regexp.Regexp
}

// Finding is one structured identifier located by a DetectionRule.
type Finding struct {
	Kind  EntityKind
	Value string
}

// Summary describes the placeholders a Mapping introduced, by kind. It is
// safe to log.
type Summary map[EntityKind]int
