package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	cases := map[string]int64{
		"001_users.up.sql":           1,
		"012_reset_tokens.up.sql":    12,
		"100_add_profile_fields.sql": 100,
	}
	for name, want := range cases {
		got, err := versionFromFile(name)
		if err != nil {
			t.Fatalf("versionFromFile(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("versionFromFile(%q) = %d, want %d", name, got, want)
		}
	}

	for _, bad := range []string{"users.sql", "abc_users.up.sql"} {
		if _, err := versionFromFile(bad); err == nil {
			t.Errorf("versionFromFile(%q) expected error", bad)
		}
	}
}

func TestUpMigrations_skipsDownFiles(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("--"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.up.sql"), 0o700); err != nil {
		t.Fatal(err)
	}

	got, err := upMigrations(dir)
	if err != nil {
		t.Fatalf("upMigrations: %v", err)
	}
	want := []string{"001_a.up.sql", "002_b.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("upMigrations = %v, want %v", got, want)
	}
}
