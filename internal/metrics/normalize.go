// Package metrics implements the Metrics Filter (§4.8): path normalization
// for bounded label cardinality, and Prometheus-format instruments exposed
// on the actuator surface (§6).
package metrics

import (
	"regexp"
	"strings"
)

// Variant selects between the two path-normalization strategies left open
// by §9. Fixed per deployment via configuration, never changed at runtime.
type Variant string

const (
	// VariantPrefix collapses everything under /api/{service}/... to
	// /api/{service} — the aggressive, lowest-cardinality variant.
	VariantPrefix Variant = "prefix"
	// VariantSuffixAware preserves a bounded set of recognized operation
	// suffixes, e.g. /api/{service}/*/validate.
	VariantSuffixAware Variant = "suffix-aware"
)

// recognizedSuffixes is the finite set of operation suffixes the
// suffix-aware variant preserves. Any other subpath under a known service
// collapses to "other".
var recognizedSuffixes = map[string]struct{}{
	"validate":  {},
	"form":      {},
	"results":   {},
	"approve":   {},
	"documents": {},
	"settings":  {},
}

var numericSegment = regexp.MustCompile(`^[0-9]+$`)

// actuatorPrefixes collapse to a single /actuator label regardless of the
// specific actuator path requested.
var actuatorPrefixes = []string{"/livez", "/readyz", "/metrics", "/actuator"}

// Normalize maps path to a bounded label value per the configured variant.
// It is a pure function: same input, same output, for the life of the
// process — required by P7.
func Normalize(path string, variant Variant) string {
	for _, p := range actuatorPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return "/actuator"
		}
	}

	segs := splitPath(path)
	if len(segs) < 2 || segs[0] != "api" {
		return "other"
	}
	service := segs[1]
	base := "/api/" + service

	if variant == VariantPrefix {
		return base
	}

	// suffix-aware: collapse numeric segments to "*", keep a recognized
	// trailing operation suffix, else "/api/{service}/other".
	if len(segs) == 2 {
		return base
	}
	rest := segs[2:]
	last := rest[len(rest)-1]
	if _, ok := recognizedSuffixes[last]; ok {
		out := base
		for _, s := range rest {
			if numericSegment.MatchString(s) {
				out += "/*"
			} else if s == last {
				out += "/" + s
			} else {
				out += "/*"
			}
		}
		// Collapse any run of consecutive "*" segments preceding the
		// suffix into a single "*", keeping cardinality bounded even for
		// deeply nested paths.
		return collapseStars(out)
	}
	return base + "/other"
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func collapseStars(p string) string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	prevStar := false
	for _, s := range parts {
		if s == "*" {
			if prevStar {
				continue
			}
			prevStar = true
		} else {
			prevStar = false
		}
		out = append(out, s)
	}
	return strings.Join(out, "/")
}
