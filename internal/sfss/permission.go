package sfss

import "fmt"

// checkPermission reports whether owner may touch path. A caller may
// always reach its own prefix ("/A{owner}" exactly, or as a directory
// prefix "/A{owner}/...") or the shared prefix "/A0" under the same
// rule. "/A5" must not match "/A50".
func checkPermission(owner int32, path string) bool {
	ownerPrefix := fmt.Sprintf("/A%d", owner)
	const sharedPrefix = "/A0"

	return matchesPrefix(path, ownerPrefix) || matchesPrefix(path, sharedPrefix)
}

func matchesPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
