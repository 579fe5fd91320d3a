package undo

import (
	"fmt"
	"path"
	"strings"
)

// Path identifies a resource in the workspace tree by its full slash-separated
// path, e.g. "/project/src/main.go". The workspace root is "/".
// A Path is a lookup key: it never holds on to the resource it names.
type Path string

// Root is the path of the workspace root.
const Root Path = "/"

// ParsePath cleans raw into a workspace path.
// Relative paths are interpreted from the root.
func ParsePath(raw string) (Path, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.Contains(raw, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrInvalidPath, raw)
	}
	return Path(path.Clean("/" + raw)), nil
}

// String returns the path as a string.
func (p Path) String() string {
	return string(p)
}

// IsRoot reports whether p is the workspace root.
func (p Path) IsRoot() bool {
	return p == Root || p == ""
}

// Name returns the last segment of the path, or "" for the root.
func (p Path) Name() string {
	if p.IsRoot() {
		return ""
	}
	return path.Base(string(p))
}

// Parent returns the containing path. The parent of the root is the root.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return Root
	}
	return Path(path.Dir(string(p)))
}

// Append returns the path of the child called name.
func (p Path) Append(name string) Path {
	return Path(path.Join(string(p), name))
}

// Segments returns the path segments below the root.
func (p Path) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(strings.TrimPrefix(string(p), "/"), "/")
}

// Depth returns the number of segments; projects have depth 1.
func (p Path) Depth() int {
	return len(p.Segments())
}

// Project returns the path of the top-level container holding p.
// The project of the root is the root.
func (p Path) Project() Path {
	segs := p.Segments()
	if len(segs) == 0 {
		return Root
	}
	return Root.Append(segs[0])
}

// Contains reports whether other is p or lies below p.
func (p Path) Contains(other Path) bool {
	if p.IsRoot() {
		return true
	}
	return other == p || strings.HasPrefix(string(other), string(p)+"/")
}
