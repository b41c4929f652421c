// Package normalize rewrites known-volatile fields of JSON results (paths,
// timestamps, ports, URLs, hashes) into canonical placeholders so two runs on
// two machines produce structurally identical artifacts.
package normalize

import (
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"appvet/utils"
)

const (
	PathPlaceholder = "<PATH>"
	HashPlaceholder = "<HASH>"
	// sentinelPort replaces the ephemeral port embedded in connection-refused
	// messages so they compare equal across runs.
	sentinelPort = "0"
)

var (
	pathKeys = map[string]bool{
		"appPath": true, "rootPath": true, "manifestPath": true, "templateDir": true,
	}
	urlKeys = map[string]bool{
		"url": true, "baseUrl": true, "probeUrl": true,
	}
	numericKeys = map[string]bool{
		"port": true, "durationMs": true, "uptimeSeconds": true,
		// Probe attempt counts depend on scheduling and never carry meaning
		// across runs.
		"attempts": true,
	}
	timeKeys = map[string]bool{
		"timestamp": true, "startedAt": true, "finishedAt": true,
		"lastManifestInitUtc": true, "lastManifestRefreshUtc": true,
	}

	hashKeyPattern  = regexp.MustCompile(`(?i)(fingerprint|hash|checksum|sha\d*|md5)`)
	loopbackURL     = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?`)
	iso8601Value    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)
	hexValue        = regexp.MustCompile(`^[0-9a-fA-F]{24,256}$`)
	connRefusedAddr = regexp.MustCompile(`(ECONNREFUSED\s+[^\s:]+:)\d+`)
	dialErrorAddr   = regexp.MustCompile(`(dial (?:tcp|udp) \[?[^\s\]]+\]?:)\d+`)

	// volatileMarkers pre-screens strings so the URL and ECONNREFUSED regexes
	// only run on strings that can possibly match.
	volatileMarkers = ahocorasick.NewStringMatcher([]string{"http://", "https://", "ECONNREFUSED"})
)

// Normalize returns a deep clone of value with volatile leaves rewritten.
// Applying it twice yields the same result as applying it once.
func Normalize(value interface{}) interface{} {
	return normalizeValue("", value)
}

// Wrap pairs a normalized payload with its contract key, producing the
// document shape persisted to snapshots.
func Wrap(contractKey string, payload interface{}) map[string]interface{} {
	return map[string]interface{}{
		"contractKey": contractKey,
		"payload":     Normalize(payload),
	}
}

func normalizeValue(key string, value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = normalizeValue(k, item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalizeValue(key, item)
		}
		return out
	default:
		return normalizeLeaf(key, value)
	}
}

// normalizeLeaf applies the rewrite rules in priority order: path keys, URL
// keys and loopback values, numeric volatility keys, timestamp keys, hash
// keys, then value-shape heuristics, then connection-error port scrubbing.
func normalizeLeaf(key string, value interface{}) interface{} {
	str, isString := value.(string)

	if isString && isPathKey(key) {
		return PathPlaceholder
	}
	if urlKeys[key] || (isString && isLoopbackURL(str)) {
		return ""
	}
	if isNumericVolatileKey(key) {
		switch value.(type) {
		case string:
			return sentinelPort
		case float64, int, int64:
			return float64(0)
		}
	}
	if isTimeKey(key) {
		return nil
	}
	if hashKeyPattern.MatchString(key) && isString {
		return HashPlaceholder
	}

	if isString {
		switch {
		case iso8601Value.MatchString(str):
			return nil
		case utils.LooksAbsolutePath(str):
			return PathPlaceholder
		case hexValue.MatchString(str):
			return HashPlaceholder
		}
		if strings.Contains(str, "ECONNREFUSED") {
			str = connRefusedAddr.ReplaceAllString(str, "${1}"+sentinelPort)
		}
		if strings.Contains(str, "dial ") {
			str = dialErrorAddr.ReplaceAllString(str, "${1}"+sentinelPort)
		}
		return str
	}
	return value
}

func isPathKey(key string) bool {
	return pathKeys[key] || strings.HasSuffix(key, "Path")
}

func isNumericVolatileKey(key string) bool {
	return numericKeys[key] || strings.HasSuffix(key, "Ms") || strings.HasSuffix(key, "Seconds")
}

func isTimeKey(key string) bool {
	return timeKeys[key] || strings.HasSuffix(key, "At")
}

func isLoopbackURL(s string) bool {
	if len(volatileMarkers.MatchThreadSafe([]byte(s))) == 0 {
		return false
	}
	return loopbackURL.MatchString(s)
}
