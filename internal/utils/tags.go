package utils

import (
	"sort"
	"strings"
)

const AbsenceMarker = "without"

var eppLabels = map[string]string{
	"with_helmet":         "Con casco",
	"without_helmet":      "Sin casco",
	"with_safety_vest":    "Con chaleco reflectante",
	"without_safety_vest": "Sin chaleco reflectante",
	"with_vest":           "Con chaleco reflectante",
	"without_vest":        "Sin chaleco reflectante",
	"with_glasses":        "Con lentes de seguridad",
	"without_glasses":     "Sin lentes de seguridad",
	"with_gloves":         "Con guantes",
	"without_gloves":      "Sin guantes",
	"with_shoes":          "Con zapatos de seguridad",
	"without_shoes":       "Sin zapatos de seguridad",
	"with_overall":        "Con overol",
	"without_overall":     "Sin overol",
}

// EPPLabel returns the display label for a tag, or the tag itself when unknown.
func EPPLabel(tag string) string {
	if label, ok := eppLabels[tag]; ok {
		return label
	}
	return tag
}

func IsAbsenceTag(tag string) bool {
	return strings.Contains(strings.ToLower(tag), AbsenceMarker)
}

// NormalizeTags trims, drops empty and duplicate tags and sorts the rest.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
