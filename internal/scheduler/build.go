package scheduler

import (
	"fmt"

	"github.com/aristath/taskforge/internal/artifact"
)

// BuildGraph creates one task per artifact and an edge imported -> importer
// for every import that resolves to another artifact in the set. An import
// resolves to the artifact with the longest module path that equals or
// prefixes it. Unresolved imports are ignored. Task IDs are artifact paths.
//
// If the imports form a cycle the graph is returned together with a
// *CycleError, so the caller can drop an edge with RemoveDependency and
// retry, or abort.
func BuildGraph(artifacts []artifact.Artifact) (*DependencyGraph, error) {
	g := NewDependencyGraph()

	// module key -> task ID; the first artifact claiming a module wins
	byModule := make(map[string]string, len(artifacts))

	for i := range artifacts {
		a := artifacts[i]
		name := a.Module.String()
		if name == "" {
			name = a.Path
		}
		if err := g.AddTask(Task{ID: a.Path, Name: name, Artifact: &a}); err != nil {
			return nil, fmt.Errorf("building graph: %w", err)
		}
		if a.Module.IsZero() {
			continue
		}
		if _, taken := byModule[a.Module.Key()]; !taken {
			byModule[a.Module.Key()] = a.Path
		}
	}

	for _, a := range artifacts {
		for _, imp := range a.Imports() {
			dep, ok := resolve(byModule, imp)
			if !ok || dep == a.Path {
				continue
			}
			if err := g.AddDependency(a.Path, dep); err != nil {
				return nil, fmt.Errorf("building graph: %w", err)
			}
		}
	}

	if err := g.DetectCycle(); err != nil {
		return g, err
	}
	return g, nil
}

// resolve walks from the full import path towards its first segment and
// returns the first (longest) module match.
func resolve(byModule map[string]string, imp artifact.ModulePath) (string, bool) {
	for p := imp; !p.IsZero(); {
		if id, ok := byModule[p.Key()]; ok {
			return id, true
		}
		p, _ = p.Parent()
	}
	return "", false
}
