package artifact

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(paths []ModulePath) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.String())
	}
	return out
}

func TestModulePath(t *testing.T) {
	p := NewModulePath("pkg", "sub", "mod")

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, "pkg.sub.mod", p.String())
	assert.True(t, p.HasPrefix(NewModulePath("pkg", "sub")))
	assert.True(t, p.HasPrefix(p))
	assert.True(t, p.HasPrefix(ModulePath{}))
	assert.False(t, p.HasPrefix(NewModulePath("pkg", "other")))
	assert.False(t, NewModulePath("pkg").HasPrefix(p))

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.True(t, parent.Equal(NewModulePath("pkg", "sub")))

	_, ok = ModulePath{}.Parent()
	assert.False(t, ok)

	assert.Equal(t, p.Key(), ParseModulePath("pkg::sub::mod", "::").Key())
	assert.NotEqual(t, NewModulePath("a.b").Key(), NewModulePath("a", "b").Key())
}

func TestModulePathImmutable(t *testing.T) {
	segs := []string{"a", "b"}
	p := NewModulePath(segs...)
	segs[0] = "z"
	assert.Equal(t, "a.b", p.String())

	got := p.Segments()
	got[1] = "z"
	assert.Equal(t, "a.b", p.String())

	child := p.Join("c")
	assert.Equal(t, "a.b", p.String())
	assert.Equal(t, "a.b.c", child.String())
}

func TestModulePathFromFile(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"src/lib.rs", ""},
		{"src/net/mod.rs", "net"},
		{"src/net/tcp.rs", "net.tcp"},
		{"pkg/__init__.py", "pkg"},
		{"pkg/util.py", "pkg.util"},
		{"web/components/index.ts", "web.components"},
		{"web/app.tsx", "web.app"},
		{"./lib/helpers.js", "lib.helpers"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ModulePathFromFile(tt.path).String())
		})
	}
}

func TestRustImports(t *testing.T) {
	src := `
use std::collections::HashMap;
use crate::net::tcp::Listener;
pub use crate::proto::{frame, codec::{Encoder, Decoder}, self};
pub(crate) use super::config as cfg;
use self::inner::*;
// use crate::commented::Out;
`
	a := New("src/server/handler.rs", src)
	got := keys(a.Imports())

	assert.Equal(t, []string{
		"std.collections.HashMap",
		"net.tcp.Listener",
		"proto.frame",
		"proto.codec.Encoder",
		"proto.codec.Decoder",
		"proto",
		"server.config",
		"server.handler.inner",
	}, got)
}

func TestPythonImports(t *testing.T) {
	src := `
import os
import app.models, app.views as v
from app.db import session, engine
from . import helpers
from ..core.base import (
    Base,
    Mixin,
)
from .sibling import *
`
	a := New("app/api/routes.py", src)
	got := keys(a.Imports())

	assert.Equal(t, []string{
		"os",
		"app.models",
		"app.views",
		"app.db.session",
		"app.db.engine",
		"app.api.helpers",
		"app.core.base.Base",
		"app.core.base.Mixin",
		"app.api.sibling",
	}, got)
}

func TestPythonPackageRelativeImport(t *testing.T) {
	a := New("app/api/__init__.py", "from .routes import router\n")
	assert.Equal(t, []string{"app.api.routes.router"}, keys(a.Imports()))
}

func TestScriptImports(t *testing.T) {
	src := `
import React from 'react';
import { a, b } from "./util";
import type { Props } from '../types/index';
import './styles.css';
export * from './reexport.js';
const lazy = import('./lazy');
const legacy = require("../../outside");
`
	a := New("web/app.ts", src)
	got := keys(a.Imports())

	assert.Equal(t, []string{
		"web.util",
		"types",
		"web.reexport",
		"web.styles",
		"web.lazy",
	}, got)
}

func TestDeclaredImportsOverrideParsing(t *testing.T) {
	a := Artifact{
		Path:            "x.rs",
		Content:         "use crate::ignored;",
		Module:          NewModulePath("x"),
		DeclaredImports: []ModulePath{NewModulePath("y"), NewModulePath("y")},
	}
	assert.Equal(t, []string{"y"}, keys(a.Imports()))
}

func TestLoadDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/repo/src/lib.rs":                 "pub mod a;",
		"/repo/src/a.rs":                   "use crate::b;",
		"/repo/src/b.rs":                   "",
		"/repo/README.md":                  "# readme",
		"/repo/.worktrees/task-1/src/a.rs": "",
		"/repo/node_modules/dep/index.js":  "",
		"/repo/target/debug/build/out.rs":  "",
	}
	for p, c := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(c), 0644))
	}

	artifacts, err := LoadDir(fs, "/repo")
	require.NoError(t, err)

	var paths []string
	for _, a := range artifacts {
		paths = append(paths, a.Path)
	}
	assert.Equal(t, []string{"src/a.rs", "src/b.rs", "src/lib.rs"}, paths)
	assert.Equal(t, "a", artifacts[0].Module.String())
	assert.Equal(t, LanguageRust, artifacts[0].Language)
	assert.Equal(t, []string{"b"}, keys(artifacts[0].Imports()))
}

func TestLoadManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	manifest := `
artifacts:
  - path: core/types.rs
    module: core::types
  - path: core/engine.rs
    imports:
      - core::types
      - std::sync
  - path: ui/view.py
`
	require.NoError(t, afero.WriteFile(fs, "/m.yaml", []byte(manifest), 0644))

	artifacts, err := LoadManifest(fs, "/m.yaml")
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	assert.Equal(t, "core.types", artifacts[0].Module.String())
	assert.Equal(t, "core.engine", artifacts[1].Module.String())
	assert.Equal(t, []string{"core.types", "std.sync"}, keys(artifacts[1].Imports()))
	assert.Equal(t, LanguagePython, artifacts[2].Language)
}

func TestLoadManifestRejectsMissingPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m.yaml", []byte("artifacts:\n  - module: a\n"), 0644))

	_, err := LoadManifest(fs, "/m.yaml")
	assert.ErrorContains(t, err, "has no path")
}
