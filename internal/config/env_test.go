package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := `# venue credentials
export LIGHTER_TEST_KEY="0xabc123"
PACIFICA_TEST_KEY='base58secret'
PLAIN_TEST_VALUE=hello
MALFORMED LINE
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"LIGHTER_TEST_KEY", "PACIFICA_TEST_KEY", "PLAIN_TEST_VALUE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if err := LoadEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("LIGHTER_TEST_KEY"); got != "0xabc123" {
		t.Fatalf("expected unquoted value, got %q", got)
	}
	if got := os.Getenv("PACIFICA_TEST_KEY"); got != "base58secret" {
		t.Fatalf("expected unquoted value, got %q", got)
	}
	if got := os.Getenv("PLAIN_TEST_VALUE"); got != "hello" {
		t.Fatalf("expected plain value, got %q", got)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("EXISTING_TEST_VALUE=from_file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXISTING_TEST_VALUE", "from_env")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("EXISTING_TEST_VALUE"); got != "from_env" {
		t.Fatalf("environment should win over file, got %q", got)
	}
}

func TestLoadEnvMissingFileIsNotAnError(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should be silent, got %v", err)
	}
}

func TestEnvFilePathOverride(t *testing.T) {
	t.Setenv(EnvFileVar, "")
	if got := EnvFilePath(".env"); got != ".env" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv(EnvFileVar, "/etc/bot/alt.env")
	if got := EnvFilePath(".env"); got != "/etc/bot/alt.env" {
		t.Fatalf("expected override, got %q", got)
	}
}
