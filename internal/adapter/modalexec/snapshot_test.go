package modalexec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotCollectsAllowedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "docs/readme.md", "# readme\n")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")
	writeFile(t, root, ".git/config", "[core]\n")

	files, err := Snapshot(root, DefaultLimits)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if _, ok := files["main.go"]; !ok {
		t.Error("main.go should be bundled")
	}
	if _, ok := files["docs/readme.md"]; !ok {
		t.Error("nested markdown should be bundled")
	}
	if _, ok := files["image.png"]; ok {
		t.Error("disallowed extension should be skipped")
	}
	for path := range files {
		if strings.HasPrefix(path, "node_modules/") || strings.HasPrefix(path, ".git/") {
			t.Errorf("skipped directory leaked into snapshot: %s", path)
		}
	}
	if files["main.go"] != "package main\n" {
		t.Errorf("content = %q", files["main.go"])
	}
}

func TestSnapshotSkipsOversizedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "small.go", "package small\n")
	writeFile(t, root, "big.go", strings.Repeat("x", 100))

	files, err := Snapshot(root, Limits{MaxFileBytes: 50, MaxTotalBytes: 1 << 20, MaxFiles: 10})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := files["big.go"]; ok {
		t.Error("file over the per-file cap should be skipped")
	}
	if _, ok := files["small.go"]; !ok {
		t.Error("small file should be bundled")
	}
}

func TestSnapshotStopsAtFileCountCap(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		writeFile(t, root, name, "package p\n")
	}

	files, err := Snapshot(root, Limits{MaxFileBytes: 1 << 10, MaxTotalBytes: 1 << 20, MaxFiles: 2})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("bundled %d files, want 2", len(files))
	}
}

func TestSnapshotStopsAtAggregateCap(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", strings.Repeat("a", 40))
	writeFile(t, root, "b.go", strings.Repeat("b", 40))
	writeFile(t, root, "c.go", strings.Repeat("c", 40))

	files, err := Snapshot(root, Limits{MaxFileBytes: 1 << 10, MaxTotalBytes: 100, MaxFiles: 10})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("bundled %d files, want 2 within the aggregate cap", len(files))
	}
}
