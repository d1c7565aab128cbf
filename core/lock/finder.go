package lock

import "strings"

const Root = "/"

// ParentSubPaths returns every prefix of path that has to be checked to lock
// it, root first and path itself last: "/a/b" yields "/", "/a", "/a/b".
func ParentSubPaths(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{Root}
	}

	parts := strings.Split(trimmed, "/")
	subPaths := make([]string, 0, len(parts)+1)
	subPaths = append(subPaths, Root)

	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(part)
		subPaths = append(subPaths, b.String())
	}
	return subPaths
}

// IsDescendant reports whether path lies strictly underneath ancestor.
func IsDescendant(path, ancestor string) bool {
	if ancestor == Root {
		return path != Root && strings.HasPrefix(path, Root)
	}
	return strings.HasPrefix(path, ancestor+"/")
}
