package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTemplateFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yml", "a.yaml", "notes.txt", "C.YAML"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("templates: []"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := templateFiles(dir)
	if err != nil {
		t.Fatalf("templateFiles: %v", err)
	}
	want := []string{"C.YAML", "a.yaml", "b.yml"}
	if len(files) != len(want) {
		t.Fatalf("files = %v", files)
	}
	for i, f := range files {
		if filepath.Base(f) != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, f, want[i])
		}
	}

	files, err = templateFiles(filepath.Join(dir, "missing"))
	if err != nil || files != nil {
		t.Errorf("missing dir: %v %v", files, err)
	}
}
