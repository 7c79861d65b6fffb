package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// osModule is a read-only filesystem facade. Reads and listings are
// confined to root; there is no write, remove or rename API.
func osModule(root string) (*starlarkstruct.Module, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	confine := func(p string) (string, error) {
		if !filepath.IsAbs(p) {
			p = filepath.Join(absRoot, p)
		}
		p = filepath.Clean(p)
		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("access outside %s is not allowed: %s", absRoot, p)
		}
		return p, nil
	}

	stat := func(name string, test func(os.FileInfo) bool) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &p); err != nil {
				return nil, err
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(absRoot, p)
			}
			fi, err := os.Stat(p)
			return starlark.Bool(err == nil && test(fi)), nil
		})
	}

	str1 := func(name string, fn func(string) string) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &p); err != nil {
				return nil, err
			}
			return starlark.String(fn(p)), nil
		})
	}

	path := &starlarkstruct.Module{
		Name: "path",
		Members: starlark.StringDict{
			"exists":   stat("exists", func(os.FileInfo) bool { return true }),
			"isfile":   stat("isfile", func(fi os.FileInfo) bool { return fi.Mode().IsRegular() }),
			"isdir":    stat("isdir", func(fi os.FileInfo) bool { return fi.IsDir() }),
			"basename": str1("basename", filepath.Base),
			"dirname":  str1("dirname", filepath.Dir),
			"abspath": str1("abspath", func(p string) string {
				if filepath.IsAbs(p) {
					return filepath.Clean(p)
				}
				return filepath.Join(absRoot, p)
			}),
			"join": starlark.NewBuiltin("join", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				parts := make([]string, len(args))
				for i, a := range args {
					s, ok := starlark.AsString(a)
					if !ok {
						return nil, fmt.Errorf("%s: argument %d is not a string", b.Name(), i+1)
					}
					parts[i] = s
				}
				return starlark.String(filepath.Join(parts...)), nil
			}),
		},
	}

	return &starlarkstruct.Module{
		Name: "os",
		Members: starlark.StringDict{
			"path": path,
			"sep":  starlark.String(string(filepath.Separator)),
			"getcwd": starlark.NewBuiltin("getcwd", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				return starlark.String(absRoot), nil
			}),
			"listdir": starlark.NewBuiltin("listdir", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				p := "."
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &p); err != nil {
					return nil, err
				}
				dir, err := confine(p)
				if err != nil {
					return nil, err
				}
				entries, err := os.ReadDir(dir)
				if err != nil {
					return nil, err
				}
				names := make([]string, len(entries))
				for i, e := range entries {
					names[i] = e.Name()
				}
				sort.Strings(names)
				elems := make([]starlark.Value, len(names))
				for i, n := range names {
					elems[i] = starlark.String(n)
				}
				return starlark.NewList(elems), nil
			}),
			"read_file": starlark.NewBuiltin("read_file", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var p string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &p); err != nil {
					return nil, err
				}
				file, err := confine(p)
				if err != nil {
					return nil, err
				}
				data, err := os.ReadFile(file)
				if err != nil {
					return nil, err
				}
				return starlark.String(data), nil
			}),
		},
	}, nil
}
