package artifact

import (
	"path"
	"path/filepath"
	"strings"
)

// Language identifies the import syntax an artifact is written in.
type Language string

const (
	LanguageUnknown    Language = ""
	LanguageRust       Language = "rust"
	LanguagePython     Language = "python"
	LanguageTypeScript Language = "typescript"
	LanguageJavaScript Language = "javascript"
)

// DetectLanguage infers the language from a file extension.
func DetectLanguage(filePath string) Language {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".rs":
		return LanguageRust
	case ".py":
		return LanguagePython
	case ".ts", ".tsx", ".mts", ".cts":
		return LanguageTypeScript
	case ".js", ".jsx", ".mjs", ".cjs":
		return LanguageJavaScript
	default:
		return LanguageUnknown
	}
}

// Artifact is a single produced source file plus its declared module
// identity. Artifacts are read-only once produced.
type Artifact struct {
	Path     string     `yaml:"path"`
	Content  string     `yaml:"content,omitempty"`
	Module   ModulePath `yaml:"module"`
	Language Language   `yaml:"language,omitempty"`

	// DeclaredImports overrides parsing when non-nil.
	DeclaredImports []ModulePath `yaml:"imports,omitempty"`
}

// New creates an artifact, deriving its language and module path from the
// file path. path is expected to be relative to the source root.
func New(filePath, content string) Artifact {
	return Artifact{
		Path:     filePath,
		Content:  content,
		Module:   ModulePathFromFile(filePath),
		Language: DetectLanguage(filePath),
	}
}

// Imports returns the module paths this artifact imports, resolved against
// the artifact's own module where the language uses relative imports.
// Duplicates are removed; order follows first appearance.
func (a Artifact) Imports() []ModulePath {
	if a.DeclaredImports != nil {
		return dedupe(a.DeclaredImports)
	}

	lang := a.Language
	if lang == LanguageUnknown {
		lang = DetectLanguage(a.Path)
	}

	switch lang {
	case LanguageRust:
		return dedupe(parseRustImports(a.Content, a.Module))
	case LanguagePython:
		return dedupe(parsePythonImports(a.Content, a.packagePath()))
	case LanguageTypeScript, LanguageJavaScript:
		return dedupe(parseScriptImports(a.Content, a.packagePath()))
	default:
		return nil
	}
}

// packagePath is the module that relative imports are resolved from: the
// module itself for package index files, its parent otherwise.
func (a Artifact) packagePath() ModulePath {
	if isIndexFile(a.Path) {
		return a.Module
	}
	parent, _ := a.Module.Parent()
	return parent
}

// ModulePathFromFile derives a module path from a slash or OS separated file
// path relative to the source root. Extensions are dropped, and package index
// files (mod.rs, lib.rs, main.rs, __init__.py, index.ts, ...) name their
// directory. A leading "src" directory is dropped for Rust sources, matching
// the crate:: root.
func ModulePathFromFile(filePath string) ModulePath {
	p := path.Clean(filepath.ToSlash(filePath))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")

	segs := strings.Split(p, "/")
	if DetectLanguage(p) == LanguageRust && len(segs) > 1 && segs[0] == "src" {
		segs = segs[1:]
	}

	last := segs[len(segs)-1]
	if isIndexFile(last) {
		segs = segs[:len(segs)-1]
	} else {
		segs[len(segs)-1] = strings.TrimSuffix(last, path.Ext(last))
	}
	return NewModulePath(segs...)
}

func isIndexFile(filePath string) bool {
	base := path.Base(filepath.ToSlash(filePath))
	switch base {
	case "mod.rs", "lib.rs", "main.rs", "__init__.py":
		return true
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	return stem == "index" && DetectLanguage(base) != LanguageUnknown
}

func dedupe(paths []ModulePath) []ModulePath {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(paths))
	out := make([]ModulePath, 0, len(paths))
	for _, p := range paths {
		if p.IsZero() {
			continue
		}
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		seen[p.Key()] = struct{}{}
		out = append(out, p)
	}
	return out
}
