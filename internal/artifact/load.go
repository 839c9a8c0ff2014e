package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// skipDirs are never descended into by LoadDir.
var skipDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
}

// LoadDir walks root and returns one artifact per recognised source file,
// sorted by path. Paths are recorded relative to root. Hidden directories
// (including .git and .worktrees) are skipped.
func LoadDir(fs afero.Fs, root string) ([]Artifact, error) {
	var artifacts []Artifact

	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if p != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if DetectLanguage(p) == LanguageUnknown {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		content, err := afero.ReadFile(fs, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		artifacts = append(artifacts, New(filepath.ToSlash(rel), string(content)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading artifacts from %s: %w", root, err)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })
	return artifacts, nil
}

// Manifest is the YAML form of an artifact set whose module identities and
// imports are declared explicitly rather than parsed.
type Manifest struct {
	Artifacts []Artifact `yaml:"artifacts"`
}

// LoadManifest reads a YAML manifest. Entries without a module get one derived
// from their path; entries without a language get one from their extension.
func LoadManifest(fs afero.Fs, path string) ([]Artifact, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	for i := range m.Artifacts {
		a := &m.Artifacts[i]
		if a.Path == "" {
			return nil, fmt.Errorf("manifest %s: artifact %d has no path", path, i)
		}
		if a.Module.IsZero() {
			a.Module = ModulePathFromFile(a.Path)
		}
		if a.Language == LanguageUnknown {
			a.Language = DetectLanguage(a.Path)
		}
	}
	return m.Artifacts, nil
}
