package pattern

import "testing"

func TestResolveLocalsPrecedeGlobals(t *testing.T) {
	globals := []Global{{Pattern: "AGENTS.md", Enabled: true, Source: SourceDefault}}
	overrides := []Override{{Pattern: "AGENTS.md", Enabled: false}}
	locals := []Local{{Pattern: "TEAM.md", Enabled: true}}

	resolved := Resolve(globals, overrides, locals)
	if len(resolved) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(resolved))
	}
	if resolved[0].Pattern != "TEAM.md" || resolved[0].Source != SourceLocal {
		t.Fatalf("expected local pattern first, got %+v", resolved[0])
	}
	if resolved[1].Pattern != "AGENTS.md" || resolved[1].Enabled != false || resolved[1].Source != SourceDefault {
		t.Fatalf("expected override to flip enabled but keep identity/source, got %+v", resolved[1])
	}
}

func TestResolveOverrideOnlyChangesEnabled(t *testing.T) {
	globals := []Global{{Pattern: "CLAUDE.md", Enabled: true, Source: SourceUser}}
	overrides := []Override{{Pattern: "CLAUDE.md", Enabled: false}}
	resolved := Resolve(globals, overrides, nil)
	if resolved[0].Source != SourceUser {
		t.Fatalf("override must not change source, got %s", resolved[0].Source)
	}
}

func TestExpandIgnore(t *testing.T) {
	expanded := ExpandIgnore([]string{"*.log", "**/already"})
	has := func(s string) bool {
		for _, e := range expanded {
			if e == s {
				return true
			}
		}
		return false
	}
	if !has("*.log") || !has("**/*.log") {
		t.Fatalf("expected both bare and **-prefixed forms, got %v", expanded)
	}
	if !has("**/already") {
		t.Fatalf("expected already-prefixed pattern preserved, got %v", expanded)
	}
	count := 0
	for _, e := range expanded {
		if e == "**/already" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected no duplicate for already-prefixed pattern, got %d occurrences", count)
	}
}

func TestMatchAnyDialect(t *testing.T) {
	patterns := ExpandIgnore([]string{"node_modules/**"})
	if !MatchAny(patterns, "repos/foo/node_modules/pkg/index.js") {
		t.Fatalf("expected ** to cross directory boundaries at any depth")
	}
	if MatchAny([]string{"*.md"}, "sub/dir/file.md") {
		t.Fatalf("expected bare * to not cross directory boundaries")
	}
	if !MatchAny([]string{".github/copilot-instructions.md"}, ".github/copilot-instructions.md") {
		t.Fatalf("expected leading-dot segment to match like any other character")
	}
}

func TestEnabledFilters(t *testing.T) {
	patterns := []Pattern{
		{Pattern: "a", Enabled: true},
		{Pattern: "b", Enabled: false},
	}
	got := Enabled(patterns)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only enabled pattern, got %v", got)
	}
}
