package modalexec

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Limits bounds the project snapshot shipped to the serverless function.
type Limits struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
	MaxFiles      int
}

// DefaultLimits keeps the payload small enough for a CLI argument.
var DefaultLimits = Limits{
	MaxFileBytes:  256 * 1024,
	MaxTotalBytes: 2 * 1024 * 1024,
	MaxFiles:      200,
}

// allowedExtensions is the file types worth shipping to a remote agent.
var allowedExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".rs": true, ".rb": true, ".java": true, ".c": true,
	".h": true, ".cpp": true, ".hpp": true, ".cs": true, ".sh": true,
	".sql": true, ".html": true, ".css": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true, ".md": true, ".txt": true,
	".mod": true, ".sum": true, ".proto": true,
}

// skippedDirs never enter the snapshot.
var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "target": true,
	"dist": true, "build": true, "__pycache__": true, ".venv": true,
	"venv": true, ".next": true, ".cache": true,
}

// Snapshot walks projectPath and returns relative path -> content for every
// allow-listed file within the limits. Files over the per-file cap are
// skipped; the walk stops once the aggregate or file-count cap is reached.
func Snapshot(projectPath string, limits Limits) (map[string]string, error) {
	files := make(map[string]string)
	var total int64

	err := filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > limits.MaxFileBytes {
			return nil
		}
		if len(files) >= limits.MaxFiles || total+info.Size() > limits.MaxTotalBytes {
			return fs.SkipAll
		}

		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the walked project tree
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(projectPath, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", projectPath, err)
	}
	return files, nil
}

// snapshotPaths returns the bundled paths in sorted order, for logging.
func snapshotPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
