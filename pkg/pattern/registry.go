// Package pattern resolves the include/ignore pattern sets a target scans
// and ignores, merging global defaults with per-target overrides and local
// additions.
package pattern

// Kind distinguishes the two named pattern sets.
type Kind string

const (
	KindInclude Kind = "include"
	KindIgnore  Kind = "ignore"
)

// Source marks where a pattern's identity originated.
type Source string

const (
	SourceDefault Source = "default"
	SourceUser    Source = "user"
	SourceLocal   Source = "local"
)

// Pattern is one entry in a resolved pattern set.
type Pattern struct {
	Pattern string
	Enabled bool
	Source  Source
}

// Global is a globally-known pattern entry, before any per-target override
// is applied.
type Global struct {
	Pattern string
	Enabled bool
	Source  Source
}

// Override changes the effective Enabled flag for a globally known pattern
// on one target. It never changes the pattern's identity or source.
type Override struct {
	Pattern string
	Enabled bool
}

// Local is a target-only pattern with its own enabled flag; it has no
// global identity and is always reported with Source SourceLocal.
type Local struct {
	Pattern string
	Enabled bool
}

// DefaultIncludePatterns returns the seed include patterns for newly
// initialized repos: the markdown rule files and tool-specific config trees
// that the AI-assistant ecosystem conventionally reads.
func DefaultIncludePatterns() []Global {
	return []Global{
		{Pattern: "AGENTS.md", Enabled: true, Source: SourceDefault},
		{Pattern: "CLAUDE.md", Enabled: true, Source: SourceDefault},
		{Pattern: ".claude/**", Enabled: true, Source: SourceDefault},
		{Pattern: ".cursor/rules/**", Enabled: true, Source: SourceDefault},
		{Pattern: ".github/copilot-instructions.md", Enabled: true, Source: SourceDefault},
		{Pattern: ".windsurfrules", Enabled: true, Source: SourceDefault},
		{Pattern: ".clinerules/**", Enabled: true, Source: SourceDefault},
	}
}

// DefaultIgnorePatterns returns the seed ignore patterns applied on top of
// the include set.
func DefaultIgnorePatterns() []Global {
	return []Global{
		{Pattern: "*.log", Enabled: true, Source: SourceDefault},
		{Pattern: ".DS_Store", Enabled: true, Source: SourceDefault},
		{Pattern: "node_modules/**", Enabled: true, Source: SourceDefault},
	}
}
