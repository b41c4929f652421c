// Package snapshot persists normalized golden JSON artifacts with stable,
// key-sorted serialization and encoding-tolerant reads.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unicode/utf16"

	"appvet/utils"
)

// StableStringify serializes value with lexicographically sorted object keys,
// two-space indentation, and a trailing newline. Structurally equal inputs
// produce byte-identical output regardless of original key order.
func StableStringify(value interface{}) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("stringify snapshot: %w", err)
	}
	return string(data) + "\n", nil
}

// FileNameForKey maps a contract key to its snapshot file name. Separator
// characters that are unsafe in file names become dashes.
func FileNameForKey(key string) string {
	replacer := strings.NewReplacer(":", "-", "/", "-", "\\", "-")
	return replacer.Replace(key) + ".json"
}

// PathForKey returns the snapshot path for a contract key under dir.
func PathForKey(dir, key string) string {
	return filepath.Join(dir, FileNameForKey(key))
}

// WriteSnapshot persists value at path, creating parent directories as
// needed, and records the file's digest in the directory index.
func WriteSnapshot(path string, value interface{}) error {
	content, err := StableStringify(value)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return updateIndexEntry(filepath.Dir(path), filepath.Base(path), []byte(content))
}

// ReadSnapshot loads and decodes a snapshot. It tolerates UTF-8 (with or
// without BOM), UTF-16LE/BE with BOM, and BOM-less UTF-16LE, which shows up
// when snapshots are produced via Windows shell redirection.
func ReadSnapshot(path string) (interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	var value interface{}
	if err := json.Unmarshal(text, &value); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return value, nil
}

func decodeText(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return raw[3:], nil
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return decodeUTF16(raw[2:], false)
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return decodeUTF16(raw[2:], true)
	case looksUTF16LE(raw):
		return decodeUTF16(raw, false)
	default:
		return raw, nil
	}
}

// looksUTF16LE detects BOM-less UTF-16LE by NUL density: ASCII-heavy JSON
// encoded as UTF-16LE has a NUL as every second byte.
func looksUTF16LE(raw []byte) bool {
	window := raw
	if len(window) > 200 {
		window = window[:200]
	}
	if len(window) == 0 {
		return false
	}
	nuls := bytes.Count(window, []byte{0})
	return float64(nuls)/float64(len(window)) > 0.2
}

func decodeUTF16(raw []byte, bigEndian bool) ([]byte, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd-length UTF-16 payload")
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		if bigEndian {
			units[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
		} else {
			units[i] = uint16(raw[2*i+1])<<8 | uint16(raw[2*i])
		}
	}
	return []byte(string(utf16.Decode(units))), nil
}

// CompareResult is the outcome of a structural snapshot comparison.
type CompareResult struct {
	OK          bool   `json:"ok"`
	DiffSummary string `json:"diffSummary,omitempty"`
}

// CompareNormalized checks structural deep equality. On mismatch it returns
// only a coarse summary; callers reconstruct exact diffs from the two stored
// documents when they need them.
func CompareNormalized(expected, actual interface{}) CompareResult {
	if reflect.DeepEqual(expected, actual) {
		return CompareResult{OK: true}
	}
	return CompareResult{OK: false, DiffSummary: summarize(expected, actual)}
}

func summarize(expected, actual interface{}) string {
	et, at := shapeOf(expected), shapeOf(actual)
	if et != at {
		return fmt.Sprintf("type mismatch: expected %s, got %s", et, at)
	}
	switch e := expected.(type) {
	case map[string]interface{}:
		a := actual.(map[string]interface{})
		return fmt.Sprintf("object mismatch: expected %d keys, got %d keys", len(e), len(a))
	case []interface{}:
		a := actual.([]interface{})
		return fmt.Sprintf("array mismatch: expected %d items, got %d items", len(e), len(a))
	default:
		return fmt.Sprintf("value mismatch at %s leaf", et)
	}
}

func shapeOf(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
