package utils

import (
	"path/filepath"
	"strings"
)

// ToPosix converts an OS-specific relative path to the forward-slash form
// used for manifest fileMap keys. Fingerprints must not depend on the host
// path separator.
func ToPosix(rel string) string {
	return filepath.ToSlash(rel)
}

// LooksAbsolutePath reports whether s is plausibly an absolute filesystem
// path on either POSIX or Windows conventions. Used by the contract
// normalizer, which must behave identically regardless of the host OS.
func LooksAbsolutePath(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "/") && len(s) > 1 {
		return true
	}
	if strings.HasPrefix(s, `\\`) {
		return true
	}
	// Drive letter, e.g. C:\ or C:/
	if len(s) >= 3 && s[1] == ':' &&
		((s[0] >= 'A' && s[0] <= 'Z') || (s[0] >= 'a' && s[0] <= 'z')) &&
		(s[2] == '\\' || s[2] == '/') {
		return true
	}
	return false
}
