package artifact

import (
	"path"
	"regexp"
	"strings"
)

var (
	rustUseRe = regexp.MustCompile(`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?use\s+([^;]+);`)

	pyImportRe = regexp.MustCompile(`(?m)^\s*import\s+([\w., \t]+?)\s*(?:#.*)?$`)
	pyFromRe   = regexp.MustCompile(`(?m)^\s*from\s+(\.*[\w.]*)\s+import\s+(\([^)]*\)|[^#\n]+)`)

	scriptFromRe    = regexp.MustCompile(`(?m)^\s*(?:import|export)\s[^'"]*?\sfrom\s+['"]([^'"]+)['"]`)
	scriptBareRe    = regexp.MustCompile(`(?m)^\s*import\s+['"]([^'"]+)['"]`)
	scriptRequireRe = regexp.MustCompile(`\b(?:require|import)\s*\(\s*['"]([^'"]+)['"]\s*\)`)
)

// parseRustImports handles `use` declarations, including nested brace groups,
// `self`, `super` and `crate` prefixes. Glob and alias suffixes are dropped.
func parseRustImports(src string, self ModulePath) []ModulePath {
	var out []ModulePath
	for _, m := range rustUseRe.FindAllStringSubmatch(src, -1) {
		for _, segs := range expandUseTree(m[1]) {
			if p, ok := resolveRustPath(segs, self); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func resolveRustPath(segs []string, self ModulePath) (ModulePath, bool) {
	if len(segs) == 0 {
		return ModulePath{}, false
	}
	switch segs[0] {
	case "crate":
		return NewModulePath(segs[1:]...), true
	case "self":
		return self.Join(segs[1:]...), true
	case "super":
		base := self
		i := 0
		for i < len(segs) && segs[i] == "super" {
			parent, ok := base.Parent()
			if !ok {
				return ModulePath{}, false
			}
			base = parent
			i++
		}
		return base.Join(segs[i:]...), true
	}
	return NewModulePath(segs...), true
}

// expandUseTree flattens `a::{b, c::{d, self}}` into [a b] [a c d] [a c].
func expandUseTree(tree string) [][]string {
	tree = strings.TrimSpace(tree)
	open := strings.IndexByte(tree, '{')
	if open < 0 {
		segs := useSegments(tree)
		if len(segs) == 0 {
			return nil
		}
		return [][]string{segs}
	}
	end := strings.LastIndexByte(tree, '}')
	if end < open {
		return nil
	}

	prefix := useSegments(strings.TrimSuffix(strings.TrimSpace(tree[:open]), "::"))
	var out [][]string
	for _, part := range splitTopLevel(tree[open+1 : end]) {
		for _, sub := range expandUseTree(part) {
			if len(sub) == 1 && sub[0] == "self" {
				out = append(out, append([]string(nil), prefix...))
				continue
			}
			joined := make([]string, 0, len(prefix)+len(sub))
			joined = append(joined, prefix...)
			joined = append(joined, sub...)
			out = append(out, joined)
		}
	}
	return out
}

func useSegments(s string) []string {
	if i := strings.Index(s, " as "); i >= 0 {
		s = s[:i]
	}
	var segs []string
	for _, seg := range strings.Split(s, "::") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "*" {
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

// splitTopLevel splits on commas that are not nested inside braces.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// parsePythonImports handles `import a.b, c as d` and `from .x import y, z`.
// pkg is the package relative imports start from.
func parsePythonImports(src string, pkg ModulePath) []ModulePath {
	var out []ModulePath
	for _, m := range pyImportRe.FindAllStringSubmatch(src, -1) {
		for _, name := range strings.Split(m[1], ",") {
			name = stripAlias(name)
			if name != "" {
				out = append(out, ParseModulePath(name, "."))
			}
		}
	}

	for _, m := range pyFromRe.FindAllStringSubmatch(src, -1) {
		base, ok := resolvePythonModule(m[1], pkg)
		if !ok {
			continue
		}
		names := strings.Trim(strings.TrimSpace(m[2]), "()")
		added := false
		for _, name := range strings.Split(names, ",") {
			name = stripAlias(name)
			if name == "" || name == "*" {
				continue
			}
			out = append(out, base.Join(name))
			added = true
		}
		if !added && !base.IsZero() {
			out = append(out, base)
		}
	}
	return out
}

func resolvePythonModule(spec string, pkg ModulePath) (ModulePath, bool) {
	dots := len(spec) - len(strings.TrimLeft(spec, "."))
	rest := ParseModulePath(spec[dots:], ".")
	if dots == 0 {
		return rest, !rest.IsZero()
	}
	base := pkg
	for i := 1; i < dots; i++ {
		parent, ok := base.Parent()
		if !ok {
			return ModulePath{}, false
		}
		base = parent
	}
	return base.Join(rest.Segments()...), true
}

func stripAlias(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.Index(name, " as "); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// parseScriptImports handles ES module imports/exports, bare side-effect
// imports, require() and dynamic import(). Only relative specifiers are
// resolved; package imports point outside the artifact set.
func parseScriptImports(src string, dir ModulePath) []ModulePath {
	var specs []string
	for _, re := range []*regexp.Regexp{scriptFromRe, scriptBareRe, scriptRequireRe} {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			specs = append(specs, m[1])
		}
	}

	var out []ModulePath
	for _, spec := range specs {
		if p, ok := resolveScriptSpecifier(spec, dir); ok {
			out = append(out, p)
		}
	}
	return out
}

func resolveScriptSpecifier(spec string, dir ModulePath) (ModulePath, bool) {
	if !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") {
		return ModulePath{}, false
	}
	rel := path.Clean(path.Join(strings.Join(dir.Segments(), "/"), spec))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return ModulePath{}, false
	}
	if rel == "." {
		return dir, !dir.IsZero()
	}

	p := ModulePathFromFile(rel)
	if p.Last() == "index" {
		p, _ = p.Parent()
	}
	return p, !p.IsZero()
}
