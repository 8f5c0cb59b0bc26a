package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_EnvFormat(t *testing.T) {
	v := New()

	const envVar = "TEST_TOKENPRESS_SECRET"
	const expected = "sk-test-1234"

	t.Setenv(envVar, expected)

	got, err := v.Resolve("env:" + envVar)
	if err != nil {
		t.Fatalf("Resolve(env:): %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestResolve_EnvFormat_Unset(t *testing.T) {
	v := New()

	os.Unsetenv("NONEXISTENT_KEY_VAR")

	_, err := v.Resolve("env:NONEXISTENT_KEY_VAR")
	if err == nil {
		t.Fatal("expected error for unset env var")
	}
}

func TestResolve_LiteralPassthrough(t *testing.T) {
	v := New()

	got, err := v.Resolve("sk-plain-key")
	if err != nil {
		t.Fatalf("Resolve(literal): %v", err)
	}
	if got != "sk-plain-key" {
		t.Errorf("got %q, want the literal back", got)
	}
}

func TestResolve_KeyringBadFormat(t *testing.T) {
	v := New()

	// Missing service/provider structure.
	if _, err := v.Resolve("keyring://badformat"); err == nil {
		t.Fatal("expected error for malformed keyring ref")
	}
}

func TestResolve_KeyringWrongService(t *testing.T) {
	v := New()

	if _, err := v.Resolve("keyring://other-service/openai"); err == nil {
		t.Fatal("expected error for wrong service name")
	}
}

func TestResolve_EmptyProvider(t *testing.T) {
	v := New()

	if _, err := v.Resolve("keyring://tokenpress/"); err == nil {
		t.Fatal("expected error for empty provider in keyring ref")
	}
}

func TestGet_EnvFallback(t *testing.T) {
	v := New()

	const envVar = "TOKENPRESS_KEY_TESTPROVIDER"
	const expected = "env-key-value"

	t.Setenv(envVar, expected)

	got, err := v.Get("testprovider")
	if err != nil {
		t.Fatalf("Get with env fallback: %v", err)
	}
	if got != expected {
		t.Errorf("got %q, want %q", got, expected)
	}
}

func TestGet_NoKeyFound(t *testing.T) {
	v := New()

	os.Unsetenv("TOKENPRESS_KEY_NOPROVIDER")

	if _, err := v.Get("noprovider"); err == nil {
		t.Fatal("expected error when no key found")
	}
}

func TestResolve_FileFormat(t *testing.T) {
	v := New()

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api-key.txt")
	if err := os.WriteFile(keyFile, []byte("sk-file-secret-key\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	got, err := v.Resolve("file://" + keyFile)
	if err != nil {
		t.Fatalf("Resolve(file://): %v", err)
	}
	if got != "sk-file-secret-key" {
		t.Errorf("got %q, want %q", got, "sk-file-secret-key")
	}
}

func TestResolve_FileFormat_NotFound(t *testing.T) {
	v := New()

	if _, err := v.Resolve("file:///nonexistent/path/key.txt"); err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestResolve_FileFormat_Empty(t *testing.T) {
	v := New()

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "empty-key.txt")
	if err := os.WriteFile(keyFile, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	if _, err := v.Resolve("file://" + keyFile); err == nil {
		t.Fatal("expected error for empty key file")
	}
}
