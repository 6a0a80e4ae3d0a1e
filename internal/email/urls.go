package email

import "strings"

// ResolveBase picks the public origin for asset links:
// explicit frontend base, then the configured public base, then the request origin.
func ResolveBase(frontendBase, publicBase, requestOrigin string) string {
	for _, c := range []string{frontendBase, publicBase, requestOrigin} {
		if c = strings.TrimSpace(c); c != "" {
			return strings.TrimRight(c, "/")
		}
	}
	return ""
}

// Absolute rewrites a relative asset path against base. Absolute and data URLs pass through.
func Absolute(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if base == "" {
		return ref
	}

	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}
