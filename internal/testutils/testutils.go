// Package testutils holds helpers shared by package tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/peerchat/internal/config"
)

// TestSecret signs tokens in tests that do not set AUTH_JWT_SECRET.
const TestSecret = "peerchat-test-secret-0123456789"

// ProjectRoot walks up from the working directory to the directory holding
// go.mod.
func ProjectRoot(t *testing.T) string {
	t.Helper()
	path, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}
}

// ConfigForTests applies .env.test from the project root when it exists,
// then overrides, and parses the result. Variables are set with t.Setenv so
// they are restored when the test ends.
func ConfigForTests(t *testing.T, overrides map[string]string) *config.Config {
	t.Helper()

	env, err := godotenv.Read(filepath.Join(ProjectRoot(t), ".env.test"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to load .env.test file: %v", err)
	}
	for key, value := range env {
		t.Setenv(key, value)
	}
	if os.Getenv("AUTH_JWT_SECRET") == "" {
		t.Setenv("AUTH_JWT_SECRET", TestSecret)
	}
	for key, value := range overrides {
		t.Setenv(key, value)
	}

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}
	return cfg
}
