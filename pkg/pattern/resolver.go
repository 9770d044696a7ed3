package pattern

import "sort"

// Resolve merges globals, per-target overrides, and target-only locals into
// the ordered effective pattern list: local patterns precede global ones.
// An override replaces only the Enabled flag of the matching global pattern;
// the pattern's identity and Source stay global-derived (SourceDefault or
// SourceUser, whichever the global entry carries).
func Resolve(globals []Global, overrides []Override, locals []Local) []Pattern {
	overrideByPattern := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		overrideByPattern[o.Pattern] = o.Enabled
	}

	result := make([]Pattern, 0, len(locals)+len(globals))
	for _, l := range locals {
		result = append(result, Pattern{Pattern: l.Pattern, Enabled: l.Enabled, Source: SourceLocal})
	}
	for _, g := range globals {
		enabled := g.Enabled
		if override, ok := overrideByPattern[g.Pattern]; ok {
			enabled = override
		}
		result = append(result, Pattern{Pattern: g.Pattern, Enabled: enabled, Source: g.Source})
	}
	return result
}

// Enabled filters a resolved pattern list down to the pattern strings whose
// Enabled flag is true, in resolution order.
func Enabled(patterns []Pattern) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p.Enabled {
			out = append(out, p.Pattern)
		}
	}
	return out
}

// ExpandIgnore implements the ignore-pattern depth-expansion rule: every
// pattern P that does not already begin with "**/" additionally yields
// "**/P", so a bare "node_modules/**" (or "*.log") matches at any depth, not
// only at the target root. The result is de-duplicated and sorted so callers
// get a stable, testable ordering.
func ExpandIgnore(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns)*2)
	add := func(p string) {
		if p == "" {
			return
		}
		seen[p] = struct{}{}
	}

	for _, p := range patterns {
		add(p)
		if len(p) < 3 || p[:3] != "**/" {
			add("**/" + p)
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
