package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %q: %v", p, err)
	}
	return p
}

func TestHandlerSingleFile(t *testing.T) {
	dir := t.TempDir()
	input := writeFixture(t, dir, "SimpleAdd.vm", "push constant 7\npush constant 8\nadd\n")

	if status := Handler(nil, map[string]string{"path": input}); status != 0 {
		t.Fatalf("expected exit status 0, got %d", status)
	}

	out, err := os.ReadFile(strings.TrimSuffix(input, ".vm") + ".asm")
	if err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}
	if !strings.Contains(string(out), "@7") || !strings.Contains(string(out), "@8") {
		t.Errorf("expected translated output to reference both pushed constants, got:\n%s", out)
	}
}

func TestHandlerDirectoryConcatenatesSorted(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "StackTest")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("failed to create fixture dir: %v", err)
	}
	writeFixture(t, sub, "A.vm", "push constant 1\npop static 0\n")
	writeFixture(t, sub, "B.vm", "push constant 2\npop static 0\n")

	if status := Handler(nil, map[string]string{"path": sub, "bootstrap": "true"}); status != 0 {
		t.Fatalf("expected exit status 0, got %d", status)
	}

	out, err := os.ReadFile(sub + ".asm")
	if err != nil {
		t.Fatalf("expected directory output file to exist: %v", err)
	}
	lines := strings.Split(string(out), "\n")
	if lines[0] != "@261" {
		t.Errorf("expected bootstrap preamble first, got %q", lines[0])
	}
	if !strings.Contains(string(out), "@static0") || !strings.Contains(string(out), "@static1") {
		t.Errorf("expected distinct static offsets across the two modules, got:\n%s", out)
	}
}

func TestHandlerMissingPath(t *testing.T) {
	if status := Handler(nil, map[string]string{}); status == 0 {
		t.Fatalf("expected a non-zero exit status when --path is missing")
	}
}
