// Package pathset resolves watch and exclude paths and answers containment
// questions on them. Both cache invalidation and change filtering use it, so
// the two always agree on what is watched.
package pathset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Set is a resolved pair of include and exclude directories.
type Set struct {
	Include []string
	Exclude []string
}

// Resolve makes every path absolute against base and cleans it.
func Resolve(base string, include, exclude []string) (Set, error) {
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Set{}, fmt.Errorf("resolve working directory: %w", err)
		}
		base = wd
	}
	return Set{
		Include: resolveAll(base, include),
		Exclude: resolveAll(base, exclude),
	}, nil
}

func resolveAll(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, Abs(base, p))
	}
	return out
}

// Abs resolves p against base and cleans it.
func Abs(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(base, p))
}

// Contains reports whether path is dir itself or lies below it.
// Both arguments must be cleaned absolute paths. A sibling that merely shares
// a prefix ("/app/src-old" for "/app/src") is not contained.
func Contains(dir, path string) bool {
	if path == dir {
		return true
	}
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// Included reports whether path is under at least one include directory.
func (s Set) Included(path string) bool {
	for _, dir := range s.Include {
		if Contains(dir, path) {
			return true
		}
	}
	return false
}

// Excluded reports whether path is under any exclude directory.
func (s Set) Excluded(path string) bool {
	for _, dir := range s.Exclude {
		if Contains(dir, path) {
			return true
		}
	}
	return false
}

// Covers reports whether path is included and not excluded. Exclusion wins.
func (s Set) Covers(path string) bool {
	return !s.Excluded(path) && s.Included(path)
}
