package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/drillplan/internal/importer"
)

const owner = "6f1d2c3b-4a5e-4f60-8a7b-9c0d1e2f3a4b"

// setupEnv points drillctl at a fresh SQLite file.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "data", "drills.db"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes drillctl with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestImport(t *testing.T) {
	dir := setupEnv(t)
	file := writeFile(t, dir, "drills.csv",
		"Category,Name,Minutes\nShooting,Form Shooting,10\nshooting,Free Throws,5\n")

	out, err := run(t, "import", "--owner", owner, "--file", file)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}

	var result importer.ImportResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not a result: %v\n%s", err, out)
	}
	if result.Imported != 2 || !result.Success {
		t.Errorf("result = %+v", result)
	}

	// Second run skips both.
	out, err = run(t, "import", "--owner", owner, "--file", file)
	if err != nil {
		t.Fatalf("reimport error = %v", err)
	}
	json.Unmarshal([]byte(out), &result)
	if result.Imported != 0 || result.Skipped != 2 {
		t.Errorf("reimport result = %+v", result)
	}

	out, err = run(t, "history", "--owner", owner)
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if got := strings.Count(out, "drills.csv"); got != 2 {
		t.Errorf("history lists %d runs, want 2:\n%s", got, out)
	}
}

func TestImport_RowFailuresExitNonZero(t *testing.T) {
	dir := setupEnv(t)
	file := writeFile(t, dir, "drills.csv", "category,name\nA,One\n,Two\n")

	out, err := run(t, "import", "--owner", owner, "--file", file, "--policy", "atomic")
	if !errors.Is(err, errRowsFailed) {
		t.Fatalf("error = %v, want errRowsFailed", err)
	}
	if !strings.Contains(out, `"imported": 1`) {
		t.Errorf("result still printed, got:\n%s", out)
	}
}

func TestImport_DryRun(t *testing.T) {
	dir := setupEnv(t)
	file := writeFile(t, dir, "drills.csv", "category,name\nA,One\n")

	if _, err := run(t, "import", "--owner", owner, "--file", file, "--dry-run"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "history", "--owner", owner)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no imports recorded") {
		t.Errorf("dry run recorded history:\n%s", out)
	}
}

func TestImport_BadInput(t *testing.T) {
	dir := setupEnv(t)
	file := writeFile(t, dir, "drills.csv", "category,title\nA,B\n")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing owner", []string{"import", "--file", file}, "owner"},
		{"bad owner", []string{"import", "--owner", "bob", "--file", file}, "invalid --owner"},
		{"bad policy", []string{"import", "--owner", owner, "--file", file, "--policy", "maybe"}, "invalid batch policy"},
		{"missing column", []string{"import", "--owner", owner, "--file", file}, "VAL003"},
		{"missing file", []string{"import", "--owner", owner, "--file", filepath.Join(dir, "nope.csv")}, "open file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMigrateAndPrune(t *testing.T) {
	setupEnv(t)

	if _, err := run(t, "migrate"); err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	out, err := run(t, "prune", "--older-than", "24h")
	if err != nil {
		t.Fatalf("prune error = %v", err)
	}
	if strings.TrimSpace(out) != "deleted 0 import runs" {
		t.Errorf("prune output = %q", out)
	}
}

func TestConfigErrorsSurface(t *testing.T) {
	setupEnv(t)
	t.Setenv("STORE_DRIVER", "mysql")

	if _, err := run(t, "migrate"); err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Errorf("error = %v, want config validation error", err)
	}
}

func TestLoadDotEnv_Overrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "IMPORT_MAX_ROWS=7\n")
	t.Setenv("IMPORT_MAX_ROWS", "5000")
	t.Chdir(dir)

	loadDotEnv()

	if got := os.Getenv("IMPORT_MAX_ROWS"); got != "7" {
		t.Errorf("IMPORT_MAX_ROWS = %q, want .env value 7", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	t.Setenv("IMPORT_MAX_ROWS", "5000")
	t.Chdir(t.TempDir())

	loadDotEnv()

	if got := os.Getenv("IMPORT_MAX_ROWS"); got != "5000" {
		t.Errorf("IMPORT_MAX_ROWS = %q, want 5000", got)
	}
}
