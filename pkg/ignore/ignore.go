// Package ignore owns the managed segment inside a target's .gitignore and
// the companion untracking of newly-ignored paths from the target's git
// index. The segment is a pure function of the target's enabled include
// patterns: applying it twice with the same input produces byte-identical
// file content.
//
// Grounded on the teacher's gitignore matcher (fulmenhq-goneat/pkg/ignore),
// but the domain problem here is the inverse of the teacher's: the teacher
// reads existing ignore rules to decide what to skip while walking, while
// this package writes and owns a block of a target's .gitignore so that
// files the store tracks never get committed twice (once in the store, once
// in the target's own repo history).
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Current marker pair. Fixed and documented: every target's managed segment
// uses exactly these two lines as delimiters.
const (
	startMarker = "# >>> agentsync managed ignores >>>"
	endMarker   = "# <<< agentsync managed ignores <<<"
)

// legacyStartMarker was used before the end marker was introduced. A
// legacy segment runs from this line to the next blank line or EOF, and is
// rewritten to the current marker pair the next time Sync runs.
const legacyStartMarker = "# agentsync: managed patterns (do not edit)"

// DerivePatterns turns a set of enabled include patterns into the minimal
// root-level .gitignore lines for those patterns: a "/**" or "/*" suffix is
// stripped, and patterns that named a directory that way get a trailing
// "/" restored so git treats them as directory ignores. A pattern with no
// such suffix (e.g. a single multi-segment file like
// ".github/copilot-instructions.md") is carried through unchanged. The
// result is sorted and de-duplicated so it is stable across runs.
func DerivePatterns(enabledIncludePatterns []string) []string {
	seen := make(map[string]bool, len(enabledIncludePatterns))
	var out []string
	for _, p := range enabledIncludePatterns {
		derived := derivePattern(p)
		if derived == "" || seen[derived] {
			continue
		}
		seen[derived] = true
		out = append(out, derived)
	}
	sort.Strings(out)
	return out
}

func derivePattern(p string) string {
	switch {
	case strings.HasSuffix(p, "/**"):
		return strings.TrimSuffix(p, "/**") + "/"
	case strings.HasSuffix(p, "/*"):
		return strings.TrimSuffix(p, "/*") + "/"
	default:
		return p
	}
}

// Sync rewrites gitignorePath's managed segment to contain exactly the
// lines derived from enabledIncludePatterns, recognising and rewriting a
// legacy-form segment if one is present. It reports whether the file's
// content changed, so callers can decide whether a commit is needed.
func Sync(gitignorePath string, enabledIncludePatterns []string) (changed bool, err error) {
	patterns := DerivePatterns(enabledIncludePatterns)

	before, err := readLines(gitignorePath)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", gitignorePath, err)
	}

	after := rewriteSegment(before, patterns)

	afterContent := strings.Join(after, "\n")
	if len(after) > 0 {
		afterContent += "\n"
	}

	existing, readErr := os.ReadFile(gitignorePath) // #nosec G304 -- path is the caller's own target .gitignore
	if readErr == nil && string(existing) == afterContent {
		return false, nil
	}

	if err := os.WriteFile(gitignorePath, []byte(afterContent), 0o644); err != nil { // #nosec G306 -- gitignore is not sensitive
		return false, fmt.Errorf("write %s: %w", gitignorePath, err)
	}
	return true, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is the caller's own target .gitignore
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// rewriteSegment replaces the existing managed segment (current or legacy
// form) in lines with a fresh one built from patterns, or appends a new one
// if none is present.
func rewriteSegment(lines []string, patterns []string) []string {
	start, end, found := findSegment(lines)

	var segment []string
	segment = append(segment, startMarker)
	segment = append(segment, patterns...)
	segment = append(segment, endMarker)

	if !found {
		out := make([]string, len(lines))
		copy(out, lines)
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		out = append(out, segment...)
		return trimTrailingBlank(out)
	}

	out := make([]string, 0, len(lines)+len(segment))
	out = append(out, lines[:start]...)
	out = append(out, segment...)
	out = append(out, lines[end+1:]...)
	return trimTrailingBlank(out)
}

// findSegment locates the managed segment's start/end line indices
// (inclusive). It recognises the current marker pair, the current start
// marker with a missing end marker (terminated by the next blank line or
// EOF), and the legacy start marker (same missing-end-marker rule).
func findSegment(lines []string) (start, end int, found bool) {
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == startMarker || trimmed == legacyStartMarker {
			start = i
			end = segmentEnd(lines, i+1)
			return start, end, true
		}
	}
	return 0, 0, false
}

func segmentEnd(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], " \t")
		if trimmed == endMarker {
			return i
		}
		if strings.TrimSpace(lines[i]) == "" {
			return i - 1
		}
	}
	return len(lines) - 1
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// UntrackFromIndex removes any of relPaths that git currently tracks in
// targetRoot's index, keeping their working-tree copies in place. It
// returns the subset that was actually untracked. Paths not under git
// control, or that are already untracked, are silently skipped. A
// targetRoot with no .git of its own (not yet initialized, or a
// service-kind target with no repo) is treated the same as "nothing
// tracked" rather than an error, since reconciliation runs against
// targets in both states.
func UntrackFromIndex(targetRoot string, relPaths []string) ([]string, error) {
	if len(relPaths) == 0 {
		return nil, nil
	}
	if _, err := os.Stat(filepath.Join(targetRoot, ".git")); err != nil {
		return nil, nil
	}

	lsArgs := append([]string{"-C", targetRoot, "ls-files", "-z", "--"}, relPaths...)
	out, err := exec.Command("git", lsArgs...).Output() // #nosec G204 -- args are repo-relative paths, not user shell input
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var tracked []string
	for _, p := range strings.Split(string(out), "\x00") {
		if p != "" {
			tracked = append(tracked, p)
		}
	}
	if len(tracked) == 0 {
		return nil, nil
	}

	rmArgs := append([]string{"-C", targetRoot, "rm", "--cached", "-q", "--"}, tracked...)
	if err := exec.Command("git", rmArgs...).Run(); err != nil { // #nosec G204 -- args are tracked-file paths reported by git itself
		return nil, fmt.Errorf("git rm --cached: %w", err)
	}
	return tracked, nil
}

// GitignorePath returns the canonical .gitignore path for a target root.
func GitignorePath(targetRoot string) string {
	return filepath.Join(targetRoot, ".gitignore")
}
