package pattern

import "github.com/bmatcuk/doublestar/v4"

// MatchAny reports whether relPath (POSIX-normalized, relative to the
// target root) matches any of patterns, using a dialect in which "**"
// crosses directory boundaries, "*" does not, and a leading "." is matched
// like any other character (no shell-style dotfile hiding).
func MatchAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// MatchAnyPrefix reports whether dir (a directory's relative path) is itself
// matched by any pattern; it is MatchAny applied to a directory path. It
// does not report dir as a match merely because a pattern could match a
// path below it.
func MatchAnyPrefix(patterns []string, dir string) bool {
	return MatchAny(patterns, dir)
}
