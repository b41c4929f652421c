package manifest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"appvet/hasher"
	"appvet/utils"
)

// BuildFileMap walks appRoot and returns relative POSIX path -> lowercase
// hex SHA-256 for every non-ignored regular file. Directory entries are
// visited in lexicographic order; the result is independent of traversal
// order either way, since the fingerprint sorts by path.
func BuildFileMap(appRoot string, rules IgnoreRules) (map[string]string, error) {
	return buildFileMap(appRoot, rules, nil)
}

func buildFileMap(appRoot string, rules IgnoreRules, cache *fingerprintCache) (map[string]string, error) {
	info, err := os.Stat(appRoot)
	if err != nil {
		return nil, err
	}

	excludedDirs := toSet(rules.ExcludedDirs)
	excludedFiles := toSet(rules.ExcludedFiles)

	fileMap := make(map[string]string)

	type item struct {
		path  string
		entry fs.DirEntry
	}
	stack := []item{{path: appRoot, entry: fs.FileInfoToDirEntry(info)}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.entry.IsDir() {
			entries, err := os.ReadDir(current.path)
			if err != nil {
				return nil, err
			}
			// os.ReadDir sorts by name; push in reverse so the stack pops
			// lexicographically.
			for i := len(entries) - 1; i >= 0; i-- {
				child := entries[i]
				name := child.Name()
				if child.IsDir() && excludedDirs[name] {
					continue
				}
				if !child.IsDir() && excludedFiles[name] {
					continue
				}
				stack = append(stack, item{
					path:  filepath.Join(current.path, name),
					entry: child,
				})
			}
			continue
		}
		if !current.entry.Type().IsRegular() {
			continue
		}

		rel, err := filepath.Rel(appRoot, current.path)
		if err != nil {
			return nil, err
		}
		key := utils.ToPosix(rel)

		if cache != nil {
			if digest, ok := cache.lookup(current.path); ok {
				fileMap[key] = digest
				continue
			}
		}
		digest, err := hasher.SHA256File(current.path)
		if err != nil {
			return nil, err
		}
		fileMap[key] = digest
		if cache != nil {
			cache.store(current.path, digest)
		}
	}
	return fileMap, nil
}

// FingerprintFromFileMap collapses a fileMap into the single directory
// fingerprint: SHA-256 over the newline-joined "<path>=<hash>" lines sorted
// by path.
func FingerprintFromFileMap(fileMap map[string]string) string {
	lines := make([]string, 0, len(fileMap))
	for path, digest := range fileMap {
		lines = append(lines, path+"="+digest)
	}
	sort.Strings(lines)
	return hasher.SHA256Bytes([]byte(strings.Join(lines, "\n")))
}

// ComputeFingerprint computes the directory fingerprint from scratch. Pure
// and read-only: it never touches the fingerprint cache.
func ComputeFingerprint(appRoot string) (string, error) {
	fileMap, err := BuildFileMap(appRoot, DefaultIgnoreRules())
	if err != nil {
		return "", err
	}
	return FingerprintFromFileMap(fileMap), nil
}

// ComputeFingerprintCached is the variant used on the validation hot path:
// unchanged files (same size, mtime and ctime) reuse the digest recorded in
// .appvet/fpcache.json instead of being rehashed. Falls back to full
// hashing when the cache is missing or fails its self-check.
func ComputeFingerprintCached(appRoot string, rules IgnoreRules) (string, error) {
	cache := loadFingerprintCache(appRoot)
	fileMap, err := buildFileMap(appRoot, rules, cache)
	if err != nil {
		return "", err
	}
	cache.save(appRoot)
	return FingerprintFromFileMap(fileMap), nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
