package codegraph

import (
	"path"
	"sort"
	"strings"
)

// fileSet answers path-membership queries during import resolution.
type fileSet struct {
	files map[string]bool
	dirs  map[string][]string // dir path -> sorted file paths in that dir
}

func newFileSet(paths []string) *fileSet {
	fs := &fileSet{
		files: make(map[string]bool, len(paths)),
		dirs:  make(map[string][]string),
	}
	for _, p := range paths {
		fs.files[p] = true
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}
		fs.dirs[dir] = append(fs.dirs[dir], p)
	}
	for dir := range fs.dirs {
		sort.Strings(fs.dirs[dir])
	}
	return fs
}

// scriptExtensions is the extension family shared by JS and TS importers.
var scriptExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mts", ".cts", ".mjs", ".cjs"}

// resolveImport maps an import spec from importerPath onto an internal file.
// Resolution is extension-aware: the importer's extension family decides the
// candidate forms, with index/__init__ fallbacks. Returns "" on miss.
func resolveImport(fs *fileSet, importerPath, spec string) string {
	spec = strings.Trim(spec, `"'`+" `")
	if spec == "" {
		return ""
	}
	ext := path.Ext(importerPath)
	switch ext {
	case ".go":
		return fs.resolveGo(spec)
	case ".rs":
		return fs.resolveRust(spec)
	case ".py":
		return fs.resolvePython(importerPath, spec)
	default:
		return fs.resolveScript(importerPath, spec)
	}
}

// resolveScript handles the JS/TS family. Only relative specs resolve
// internally; bare specs are package imports.
func (fs *fileSet) resolveScript(importerPath, spec string) string {
	if !strings.HasPrefix(spec, ".") {
		return ""
	}
	base := path.Join(path.Dir(importerPath), spec)
	if fs.files[base] {
		return base
	}
	for _, ext := range scriptExtensions {
		if p := base + ext; fs.files[p] {
			return p
		}
	}
	for _, ext := range scriptExtensions {
		if p := path.Join(base, "index"+ext); fs.files[p] {
			return p
		}
	}
	return ""
}

// resolvePython maps dotted module specs to files, honoring leading
// relative dots, with an __init__ fallback for packages.
func (fs *fileSet) resolvePython(importerPath, spec string) string {
	rel := 0
	for rel < len(spec) && spec[rel] == '.' {
		rel++
	}
	module := strings.ReplaceAll(spec[rel:], ".", "/")

	base := module
	if rel > 0 {
		dir := path.Dir(importerPath)
		for i := 1; i < rel; i++ {
			dir = path.Dir(dir)
		}
		if dir == "." {
			dir = ""
		}
		base = path.Join(dir, module)
	}
	if base == "" || base == "." {
		return ""
	}
	if p := base + ".py"; fs.files[p] {
		return p
	}
	if p := path.Join(base, "__init__.py"); fs.files[p] {
		return p
	}
	// Absolute module paths may be rooted one level down (src layouts).
	if rel == 0 {
		for dir := range fs.dirs {
			if dir == "" || strings.Contains(dir, "/") {
				continue
			}
			if p := path.Join(dir, module) + ".py"; fs.files[p] {
				return p
			}
			if p := path.Join(dir, module, "__init__.py"); fs.files[p] {
				return p
			}
		}
	}
	return ""
}

// resolveGo matches an import path against indexed directories by longest
// path suffix, then picks a representative file from the package directory.
func (fs *fileSet) resolveGo(spec string) string {
	segs := strings.Split(spec, "/")
	for i := 0; i < len(segs); i++ {
		dir := strings.Join(segs[i:], "/")
		files, ok := fs.dirs[dir]
		if !ok {
			continue
		}
		// Prefer the file named after the package, else the first Go file.
		want := dir + "/" + segs[len(segs)-1] + ".go"
		var first string
		for _, p := range files {
			if !strings.HasSuffix(p, ".go") || strings.HasSuffix(p, "_test.go") {
				continue
			}
			if p == want {
				return p
			}
			if first == "" {
				first = p
			}
		}
		if first != "" {
			return first
		}
	}
	return ""
}

// resolveRust maps use-paths to module files, including mod.rs layouts.
func (fs *fileSet) resolveRust(spec string) string {
	p := strings.ReplaceAll(spec, "::", "/")
	for _, prefix := range []string{"crate/", "self/", "super/"} {
		p = strings.TrimPrefix(p, prefix)
	}
	if p == "" {
		return ""
	}
	for _, candidate := range []string{
		p + ".rs",
		"src/" + p + ".rs",
		p + "/mod.rs",
		"src/" + p + "/mod.rs",
	} {
		if fs.files[candidate] {
			return candidate
		}
	}
	// Trailing segment may be an item, not a module.
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		parent := p[:i]
		for _, candidate := range []string{
			parent + ".rs",
			"src/" + parent + ".rs",
			parent + "/mod.rs",
			"src/" + parent + "/mod.rs",
		} {
			if fs.files[candidate] {
				return candidate
			}
		}
	}
	return ""
}

// packageRoot derives the external-node key from an unresolved import spec.
// Scoped npm packages keep their scope; dotted and path specs keep the first
// segment.
func packageRoot(importerPath, spec string) string {
	spec = strings.Trim(spec, `"'`+" `")
	if path.Ext(importerPath) == ".rs" {
		spec = strings.ReplaceAll(spec, "::", "/")
	}
	if path.Ext(importerPath) == ".py" {
		spec = strings.ReplaceAll(strings.TrimLeft(spec, "."), ".", "/")
	}
	parts := strings.Split(spec, "/")
	if len(parts) >= 2 && strings.HasPrefix(parts[0], "@") {
		return parts[0] + "/" + parts[1]
	}
	// Host-qualified paths (Go-style) keep host/org/repo.
	if len(parts) >= 3 && strings.Contains(parts[0], ".") {
		return strings.Join(parts[:3], "/")
	}
	return parts[0]
}
