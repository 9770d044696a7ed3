// Package machines is the cross-machine mapping registry: the shared
// machines.json this module's store repository carries under version
// control so that every host synchronizing against the same store knows
// which other hosts have which repos and services linked, and at what
// local path.
//
// Grounded on the teacher's `internal/server/manager.go` JSON-metadata
// persistence idiom (MarshalIndent with a two-space indent, whole-file
// rewrite, corrupt-on-read treated as absent) generalized
// from one-record-per-file to the spec's single shared document with
// nested maps, whose key order encoding/json already sorts
// alphabetically for string-keyed maps — satisfying the "sorted at
// every level" requirement for free.
package machines

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MachineInfo is one host's entry in the machines file.
type MachineInfo struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// LinkInfo is one machine's local path for a repo or service.
type LinkInfo struct {
	LocalPath string `json:"local_path"`
}

// File is the machines.json document: this host's roster plus, for every
// repo and service slug known to any host, which machines have it linked
// and at what local path.
type File struct {
	Machines map[string]MachineInfo         `json:"machines"`
	Repos    map[string]map[string]LinkInfo `json:"repos"`
	Services map[string]map[string]LinkInfo `json:"services"`
}

func emptyFile() File {
	return File{
		Machines: map[string]MachineInfo{},
		Repos:    map[string]map[string]LinkInfo{},
		Services: map[string]map[string]LinkInfo{},
	}
}

// Path returns machines.json's location under storeRoot.
func Path(storeRoot string) string {
	return filepath.Join(storeRoot, "machines.json")
}

// Load reads the machines file, returning an empty document if it is
// absent or fails to parse — corrupt JSON here is treated the same as
// "no document yet"; the next successful write restores it.
func Load(storeRoot string) (File, error) {
	data, err := os.ReadFile(Path(storeRoot)) // #nosec G304 -- fixed path under the store root
	if err != nil {
		if os.IsNotExist(err) {
			return emptyFile(), nil
		}
		return File{}, fmt.Errorf("read machines file: %w", err)
	}

	var f File
	if json.Unmarshal(data, &f) != nil {
		return emptyFile(), nil
	}
	if f.Machines == nil {
		f.Machines = map[string]MachineInfo{}
	}
	if f.Repos == nil {
		f.Repos = map[string]map[string]LinkInfo{}
	}
	if f.Services == nil {
		f.Services = map[string]map[string]LinkInfo{}
	}
	return f, nil
}

// Save writes f to machines.json with a two-space indent and a trailing
// newline. Callers queue a commit afterward; Save itself does not touch
// git.
func Save(storeRoot string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal machines file: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(storeRoot, 0o750); err != nil {
		return fmt.Errorf("create store root: %w", err)
	}
	return os.WriteFile(Path(storeRoot), data, 0o644) // #nosec G306 -- shared, git-tracked document
}

// staleAfter bounds how old a machine's last_seen may get before
// RegisterCurrentMachine rewrites the file on its behalf, so a daemon
// restarting every few minutes does not churn a commit every time.
const staleAfter = 24 * time.Hour

// RegisterCurrentMachine writes or refreshes machineID's entry. It only
// rewrites the file — and reports changed — when the machine is new, its
// display name changed, or its stored last_seen is older than
// staleAfter, matching the "avoid a commit on every startup" rule.
func RegisterCurrentMachine(storeRoot, machineID, machineName string, now time.Time) (changed bool, err error) {
	f, err := Load(storeRoot)
	if err != nil {
		return false, err
	}

	existing, known := f.Machines[machineID]
	if known && existing.Name == machineName && now.Sub(existing.LastSeen) < staleAfter {
		return false, nil
	}

	f.Machines[machineID] = MachineInfo{Name: machineName, LastSeen: now}
	if err := Save(storeRoot, f); err != nil {
		return false, err
	}
	return true, nil
}

// TargetRef is the minimal view of a registered sync target machines.go
// needs — kept local rather than importing pkg/store's richer Target so
// this package stays usable from contexts that only have a slug and a
// path in hand.
type TargetRef struct {
	StorePath string
	LocalPath string
	IsService bool
}

// Seed idempotently records machineID's local path for every target's
// store_path, under repos or services as appropriate. A target whose
// recorded local path already matches does not trigger a rewrite.
func Seed(storeRoot, machineID string, targets []TargetRef) error {
	f, err := Load(storeRoot)
	if err != nil {
		return err
	}

	changed := false
	for _, t := range targets {
		section := f.Repos
		if t.IsService {
			section = f.Services
		}
		byMachine, ok := section[t.StorePath]
		if !ok {
			byMachine = map[string]LinkInfo{}
			section[t.StorePath] = byMachine
		}
		if current, ok := byMachine[machineID]; !ok || current.LocalPath != t.LocalPath {
			byMachine[machineID] = LinkInfo{LocalPath: t.LocalPath}
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return Save(storeRoot, f)
}
