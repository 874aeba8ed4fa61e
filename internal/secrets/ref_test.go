package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateRef(t *testing.T) {
	valid := []string{"env:REDIS_PASSWORD", "file:/run/secrets/redis", "raw:hunter2", "  env:X  "}
	for _, ref := range valid {
		if err := ValidateRef(ref); err != nil {
			t.Fatalf("%q: unexpected error %v", ref, err)
		}
	}

	invalid := []string{"", "env:", "file:  ", "raw:", "vault:secret/x", "hunter2"}
	for _, ref := range invalid {
		if err := ValidateRef(ref); !errors.Is(err, ErrSecretRef) {
			t.Fatalf("%q: expected ErrSecretRef, got %v", ref, err)
		}
	}
}

func TestIsRef(t *testing.T) {
	cases := map[string]bool{
		"env:X":                          true,
		"file:/x":                        true,
		"raw:y":                          true,
		"postgres://u:p@db:5432/subwarm": false,
		"plain-password":                 false,
		"":                               false,
	}
	for in, want := range cases {
		if got := IsRef(in); got != want {
			t.Fatalf("IsRef(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoadRef_Env(t *testing.T) {
	t.Setenv("SUBWARM_TEST_SECRET", "s3cret")
	got, err := LoadRef("env:SUBWARM_TEST_SECRET")
	if err != nil || got != "s3cret" {
		t.Fatalf("got %q err %v", got, err)
	}

	t.Setenv("SUBWARM_TEST_SECRET", "")
	if _, err := LoadRef("env:SUBWARM_TEST_SECRET"); !errors.Is(err, ErrSecretRef) {
		t.Fatalf("expected error for empty env var, got %v", err)
	}
}

func TestLoadRef_File(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "redis")
	if err := os.WriteFile(p, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadRef("file:" + p)
	if err != nil || got != "s3cret" {
		t.Fatalf("got %q err %v", got, err)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRef("file:" + empty); !errors.Is(err, ErrSecretRef) {
		t.Fatalf("expected error for empty file, got %v", err)
	}
	if _, err := LoadRef("file:" + filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("postgres://u:p@db/subwarm")
	if err != nil || got != "postgres://u:p@db/subwarm" {
		t.Fatalf("literal: got %q err %v", got, err)
	}
	got, err = Resolve("raw: keep spaces ")
	if err != nil || got != " keep spaces" {
		t.Fatalf("raw: got %q err %v", got, err)
	}
}
