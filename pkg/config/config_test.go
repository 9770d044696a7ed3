package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func withAppHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AGENTSYNC_HOME", dir)
	t.Setenv(DataDirEnvVar, "")
	return dir
}

func TestLoadCreatesConfigOnFirstUse(t *testing.T) {
	withAppHome(t)

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.MachineID == "" {
		t.Fatal("expected a generated machine_id")
	}
	if c.MachineName == "" {
		t.Fatal("expected a default machine_name")
	}
	if c.DataDir == "" {
		t.Fatal("expected a default data_dir")
	}
}

func TestLoadPersistsMachineIDAcrossCalls(t *testing.T) {
	withAppHome(t)

	first, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	second, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if first.MachineID != second.MachineID {
		t.Fatalf("machine_id changed across loads: %q != %q", first.MachineID, second.MachineID)
	}
}

func TestDataDirEnvVarOverridesStoredValue(t *testing.T) {
	home := withAppHome(t)

	if _, err := Load(); err != nil {
		t.Fatal(err)
	}

	t.Setenv(DataDirEnvVar, filepath.Join(home, "elsewhere"))
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.DataDir != filepath.Join(home, "elsewhere") {
		t.Fatalf("expected env override, got %q", c.DataDir)
	}
}

func TestLoadRecoversFromCorruptConfig(t *testing.T) {
	home := withAppHome(t)
	if err := os.MkdirAll(home, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.MachineID == "" {
		t.Fatal("expected corrupt config to be treated as empty and repaired")
	}

	data, err := os.ReadFile(filepath.Join(home, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("expected repaired config.json to be valid JSON: %v", err)
	}
}

func TestLoadDefaultsAppliesBuiltins(t *testing.T) {
	withAppHome(t)

	d, err := LoadDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if d.SizeThresholdBytes <= 0 {
		t.Fatalf("expected a positive default size threshold, got %d", d.SizeThresholdBytes)
	}
	if d.WatchDebounce <= 0 {
		t.Fatalf("expected a positive default watch debounce, got %v", d.WatchDebounce)
	}
}
