package machines

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ServiceMeta describes a custom service well enough for another machine,
// with no database row for it, to materialise it locally.
type ServiceMeta struct {
	Name        string   `json:"name"`
	Patterns    []string `json:"patterns"`
	Description string   `json:"description,omitempty"`
}

// ServicesFile maps service_type to its metadata.
type ServicesFile map[string]ServiceMeta

// ServicesPath returns services.json's location under storeRoot.
func ServicesPath(storeRoot string) string {
	return filepath.Join(storeRoot, "services", "services.json")
}

// LoadServices reads services.json, returning an empty map if absent or
// unparsable (corrupt JSON is treated as "no document yet").
func LoadServices(storeRoot string) (ServicesFile, error) {
	data, err := os.ReadFile(ServicesPath(storeRoot)) // #nosec G304 -- fixed path under the store root
	if err != nil {
		if os.IsNotExist(err) {
			return ServicesFile{}, nil
		}
		return nil, fmt.Errorf("read services file: %w", err)
	}
	var f ServicesFile
	if json.Unmarshal(data, &f) != nil || f == nil {
		return ServicesFile{}, nil
	}
	return f, nil
}

// SaveServices writes f to services.json with a two-space indent and a
// trailing newline.
func SaveServices(storeRoot string, f ServicesFile) error {
	path := ServicesPath(storeRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create services directory: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal services file: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644) // #nosec G306 -- shared, git-tracked document
}

// UpsertService inserts or updates one custom service's metadata.
func UpsertService(storeRoot, serviceType string, meta ServiceMeta) error {
	f, err := LoadServices(storeRoot)
	if err != nil {
		return err
	}
	f[serviceType] = meta
	return SaveServices(storeRoot, f)
}

// DeleteUnlinkedEntry removes an unlinked repo or service subtree from
// the store, its mappings from the machines file, and — for services —
// its services.json entry, the full cleanup an "unlinked entry" deletion
// requires.
func DeleteUnlinkedEntry(storeRoot, storePath string, isService bool) error {
	if err := os.RemoveAll(filepath.Join(storeRoot, storePath)); err != nil {
		return fmt.Errorf("remove store subtree %s: %w", storePath, err)
	}

	f, err := Load(storeRoot)
	if err != nil {
		return err
	}
	delete(f.Repos, storePath)
	delete(f.Services, storePath)
	if err := Save(storeRoot, f); err != nil {
		return err
	}

	if isService {
		serviceType := filepath.Base(storePath)
		services, err := LoadServices(storeRoot)
		if err != nil {
			return err
		}
		if _, ok := services[serviceType]; ok {
			delete(services, serviceType)
			return SaveServices(storeRoot, services)
		}
	}
	return nil
}
