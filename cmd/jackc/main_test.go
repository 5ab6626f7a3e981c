package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const helloWorldSource = `
class Main {
    function void main() {
        do Output.printString("Hello World");
        do Output.println();
        return;
    }
}
`

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %q: %v", p, err)
	}
	return p
}

func TestHandlerCompilesDirectoryWithStdlib(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "Main.jack", helloWorldSource)

	status := Handler(nil, map[string]string{"path": dir, "stdlib": "true"})
	if status != 0 {
		t.Fatalf("expected exit status 0, got %d", status)
	}

	out, err := os.ReadFile(filepath.Join(dir, "Main.vm"))
	if err != nil {
		t.Fatalf("expected compiled .vm output to exist: %v", err)
	}
	if !strings.Contains(string(out), "function Main.main 0") {
		t.Errorf("expected a Main.main function header, got:\n%s", out)
	}
	if !strings.Contains(string(out), "call Output.printString 1") {
		t.Errorf("expected the stdlib call to be emitted, got:\n%s", out)
	}
}

func TestHandlerDebugDumps(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "Main.jack", helloWorldSource)

	status := Handler(nil, map[string]string{"path": dir, "stdlib": "true", "debug-token": "true", "debug-vm": "true"})
	if status != 0 {
		t.Fatalf("expected exit status 0, got %d", status)
	}

	if _, err := os.Stat(filepath.Join(dir, "Main.jack.tokens.txt")); err != nil {
		t.Errorf("expected a token dump next to the input: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Main.ops.txt")); err != nil {
		t.Errorf("expected a VM operation dump next to the input: %v", err)
	}
}

func TestHandlerMissingPath(t *testing.T) {
	if status := Handler(nil, map[string]string{}); status == 0 {
		t.Fatalf("expected a non-zero exit status when --path is missing")
	}
}
