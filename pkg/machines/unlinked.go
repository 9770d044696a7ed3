package machines

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// UnlinkedEntry is a repo or service slug present in the store but not
// currently registered as a target on this machine.
type UnlinkedEntry struct {
	StorePath     string
	OtherMachines map[string]LinkInfo // machine_id -> their local_path, excluding this machine
	SuggestedPath string
	PathExists    bool
}

func listSlugs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func pathExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

func unlinkedFrom(storeRoot, kindDir, machineID string, registered map[string]bool, section map[string]map[string]LinkInfo, builtinDefault func(slug string) string) ([]UnlinkedEntry, error) {
	slugs, err := listSlugs(filepath.Join(storeRoot, kindDir))
	if err != nil {
		return nil, err
	}

	var out []UnlinkedEntry
	for _, slug := range slugs {
		storePath := kindDir + "/" + slug
		if registered[storePath] {
			continue
		}

		links := section[storePath]
		other := map[string]LinkInfo{}
		for mid, li := range links {
			if mid != machineID {
				other[mid] = li
			}
		}

		suggested := ""
		if mine, ok := links[machineID]; ok {
			suggested = mine.LocalPath
		} else if builtinDefault != nil {
			suggested = builtinDefault(slug)
		}

		out = append(out, UnlinkedEntry{
			StorePath:     storePath,
			OtherMachines: other,
			SuggestedPath: suggested,
			PathExists:    pathExists(suggested),
		})
	}
	return out, nil
}

// UnlinkedRepos lists repos/<slug> subtrees not yet registered as a
// target on this machine. registeredStorePaths is the set of store_path
// values already linked here (from pkg/store's target list).
func UnlinkedRepos(storeRoot, machineID string, registeredStorePaths map[string]bool) ([]UnlinkedEntry, error) {
	f, err := Load(storeRoot)
	if err != nil {
		return nil, err
	}
	return unlinkedFrom(storeRoot, "repos", machineID, registeredStorePaths, f.Repos, nil)
}

// builtinServiceHome maps a built-in service_type to the platform default
// location its files live under, expressed relative to the user's home
// directory. Custom services (described only via services.json) have no
// entry here and fall back to whatever this machine previously recorded.
var builtinServiceHome = map[string]string{
	"claude":   ".claude",
	"cursor":   ".cursor",
	"copilot":  ".github",
	"windsurf": filepath.Join(".codeium", "windsurf"),
}

func builtinServiceDefaultPath(slug string) string {
	rel, ok := builtinServiceHome[slug]
	if !ok {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, rel)
}

// UnlinkedServices lists services/<service_type> subtrees not yet
// registered as a target on this machine. When this machine has no prior
// entry for a built-in service, its platform default path is suggested.
func UnlinkedServices(storeRoot, machineID string, registeredStorePaths map[string]bool) ([]UnlinkedEntry, error) {
	f, err := Load(storeRoot)
	if err != nil {
		return nil, err
	}
	return unlinkedFrom(storeRoot, "services", machineID, registeredStorePaths, f.Services, builtinServiceDefaultPath)
}

// LinkOutcome is the per-entry result of an auto-link attempt.
type LinkOutcome string

const (
	LinkOutcomeLinked            LinkOutcome = "linked"
	LinkOutcomePathMissing       LinkOutcome = "path_missing"
	LinkOutcomeAlreadyRegistered LinkOutcome = "already_registered"
	LinkOutcomeError             LinkOutcome = "error"
)

// AutoLinkResult reports what happened for one unlinked entry.
type AutoLinkResult struct {
	StorePath string
	Outcome   LinkOutcome
	Err       error
}

// Linker performs the engine-side half of linking one candidate: insert
// the target row, run the scanner, materialise store files into the
// target (or vice versa) when one side lacks them, and for repos apply
// the managed .gitignore segment. AutoLink only decides which candidates
// qualify; it never touches pkg/store or pkg/engine directly, so this
// package stays testable without a full engine fixture.
type Linker func(entry UnlinkedEntry) error

// AutoLink runs link against every entry whose suggested path exists and
// is not already registered locally (by path, since a path can only back
// one target), recording {linked, path_missing, already_registered} (or
// error, if link itself fails) for each.
func AutoLink(entries []UnlinkedEntry, registeredLocalPaths map[string]bool, link Linker) []AutoLinkResult {
	out := make([]AutoLinkResult, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.SuggestedPath == "" || !e.PathExists:
			out = append(out, AutoLinkResult{StorePath: e.StorePath, Outcome: LinkOutcomePathMissing})
		case registeredLocalPaths[normalizePath(e.SuggestedPath)]:
			out = append(out, AutoLinkResult{StorePath: e.StorePath, Outcome: LinkOutcomeAlreadyRegistered})
		default:
			if err := link(e); err != nil {
				out = append(out, AutoLinkResult{StorePath: e.StorePath, Outcome: LinkOutcomeError, Err: err})
				continue
			}
			out = append(out, AutoLinkResult{StorePath: e.StorePath, Outcome: LinkOutcomeLinked})
		}
	}
	return out
}

func normalizePath(p string) string {
	return strings.TrimSuffix(filepath.Clean(p), string(filepath.Separator))
}
