package domain

import "strings"

// PathSeparator joins component names into a component path.
const PathSeparator = "/"

// EventPathDepth is the number of path segments an event is scoped to.
const EventPathDepth = 2

// JoinPath joins component names into a path.
func JoinPath(names ...string) string {
	return strings.Join(names, PathSeparator)
}

// SplitPath splits a path into its component names.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// TruncatePath keeps at most depth leading segments of path.
func TruncatePath(path string, depth int) string {
	segments := SplitPath(path)
	if len(segments) <= depth {
		return path
	}
	return JoinPath(segments[:depth]...)
}

// LeastCommonAncestorPath returns the longest shared leading path of a and b.
// Returns an empty string if the paths share no root.
func LeastCommonAncestorPath(a, b string) string {
	left := SplitPath(a)
	right := SplitPath(b)

	common := make([]string, 0, min(len(left), len(right)))
	for i := 0; i < len(left) && i < len(right); i++ {
		if left[i] != right[i] {
			break
		}
		common = append(common, left[i])
	}
	return JoinPath(common...)
}

// IsPathPrefix reports whether prefix names path itself or one of its ancestors.
func IsPathPrefix(prefix, path string) bool {
	if prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix+PathSeparator)
}
