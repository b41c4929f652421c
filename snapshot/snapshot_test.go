package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

func TestStableStringifySortsKeys(t *testing.T) {
	a, err := StableStringify(map[string]interface{}{"b": 1.0, "a": 2.0, "c": map[string]interface{}{"z": 1.0, "y": 2.0}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := StableStringify(map[string]interface{}{"c": map[string]interface{}{"y": 2.0, "z": 1.0}, "a": 2.0, "b": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("key order leaked into output:\n%s\nvs\n%s", a, b)
	}
	if a[len(a)-1] != '\n' {
		t.Fatal("missing trailing newline")
	}
}

func TestFileNameForKey(t *testing.T) {
	cases := map[string]string{
		"validate:all":                   "validate-all.json",
		"validate@fixture:err_boot_exit": "validate@fixture-err_boot_exit.json",
		"a/b\\c:d":                       "a-b-c-d.json",
	}
	for key, want := range cases {
		if got := FileNameForKey(key); got != want {
			t.Errorf("FileNameForKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := PathForKey(dir, "validate@fixture:err_boot_exit")
	value := map[string]interface{}{
		"ok":   false,
		"port": float64(0),
		"checks": []interface{}{
			map[string]interface{}{"id": "boot", "ok": false},
		},
	}
	if err := WriteSnapshot(path, value); err != nil {
		t.Fatal(err)
	}

	loaded, err := ReadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if res := CompareNormalized(value, loaded); !res.OK {
		t.Fatalf("round trip mismatch: %s", res.DiffSummary)
	}
}

func encodeUTF16(t *testing.T, s string, bigEndian, bom bool) []byte {
	t.Helper()
	units := utf16.Encode([]rune(s))
	var out []byte
	if bom {
		if bigEndian {
			out = append(out, 0xFE, 0xFF)
		} else {
			out = append(out, 0xFF, 0xFE)
		}
	}
	for _, u := range units {
		if bigEndian {
			out = append(out, byte(u>>8), byte(u))
		} else {
			out = append(out, byte(u), byte(u>>8))
		}
	}
	return out
}

func TestReadSnapshotEncodings(t *testing.T) {
	const doc = `{"status": "ok", "count": 3}`
	dir := t.TempDir()

	cases := map[string][]byte{
		"utf8":           []byte(doc),
		"utf8-bom":       append([]byte{0xEF, 0xBB, 0xBF}, []byte(doc)...),
		"utf16le-bom":    encodeUTF16(t, doc, false, true),
		"utf16be-bom":    encodeUTF16(t, doc, true, true),
		"utf16le-no-bom": encodeUTF16(t, doc, false, false),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				t.Fatal(err)
			}
			value, err := ReadSnapshot(path)
			if err != nil {
				t.Fatal(err)
			}
			obj, ok := value.(map[string]interface{})
			if !ok || obj["status"] != "ok" || obj["count"] != float64(3) {
				t.Fatalf("decoded = %#v", value)
			}
		})
	}
}

func TestCompareNormalizedSummaries(t *testing.T) {
	res := CompareNormalized(map[string]interface{}{"a": 1.0}, []interface{}{1.0})
	if res.OK || res.DiffSummary != "type mismatch: expected object, got array" {
		t.Fatalf("res = %+v", res)
	}

	res = CompareNormalized(
		map[string]interface{}{"a": 1.0, "b": 2.0},
		map[string]interface{}{"a": 1.0},
	)
	if res.OK || res.DiffSummary != "object mismatch: expected 2 keys, got 1 keys" {
		t.Fatalf("res = %+v", res)
	}

	res = CompareNormalized([]interface{}{1.0, 2.0}, []interface{}{1.0})
	if res.OK || res.DiffSummary != "array mismatch: expected 2 items, got 1 items" {
		t.Fatalf("res = %+v", res)
	}
}

func TestIndexDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path := PathForKey(dir, "validate:all")
	if err := WriteSnapshot(path, map[string]interface{}{"ok": true}); err != nil {
		t.Fatal(err)
	}

	stale, err := VerifyIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh snapshot reported stale: %v", stale)
	}

	// Semantically equal rewrite (key order, whitespace) stays clean.
	reordered := []byte("{\"ok\":   true}\n")
	if err := os.WriteFile(path, reordered, 0o644); err != nil {
		t.Fatal(err)
	}
	stale, err = VerifyIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("canonical-equal rewrite reported stale: %v", stale)
	}

	if err := os.WriteFile(path, []byte(`{"ok": false}`), 0o644); err != nil {
		t.Fatal(err)
	}
	stale, err = VerifyIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0] != FileNameForKey("validate:all") {
		t.Fatalf("tampered snapshot not detected: %v", stale)
	}

	var idx map[string]interface{}
	data, err := os.ReadFile(filepath.Join(dir, IndexFileName))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		t.Fatal(err)
	}
	if _, ok := idx["entries"]; !ok {
		t.Fatal("index missing entries")
	}
}
