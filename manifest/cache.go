package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/djherbis/times"

	"appvet/hasher"
	"appvet/logger"
	"appvet/utils"
)

const cacheFileName = "fpcache.json"

type cacheEntry struct {
	Size    int64  `json:"size"`
	MTimeNs int64  `json:"mtimeNs"`
	CTimeNs int64  `json:"ctimeNs,omitempty"`
	SHA256  string `json:"sha256"`
}

type cacheFile struct {
	Entries  map[string]cacheEntry `json:"entries"`
	Checksum string                `json:"checksum"`
}

// fingerprintCache avoids rehashing files whose size, mtime and (where the
// platform exposes it) change time are unchanged since the previous run.
// The cache is advisory: any read or self-check failure degrades to full
// hashing.
type fingerprintCache struct {
	entries map[string]cacheEntry
	dirty   bool
}

func cachePath(appRoot string) string {
	return filepath.Join(appRoot, InternalDir, cacheFileName)
}

func loadFingerprintCache(appRoot string) *fingerprintCache {
	c := &fingerprintCache{entries: map[string]cacheEntry{}}

	data, err := os.ReadFile(cachePath(appRoot))
	if err != nil {
		return c
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		logger.Debugf("fingerprint cache unreadable, rehashing: %v", err)
		return c
	}
	if cf.Checksum != entriesChecksum(cf.Entries) {
		logger.Debugf("fingerprint cache failed self-check, rehashing")
		return c
	}
	if cf.Entries != nil {
		c.entries = cf.Entries
	}
	return c
}

func (c *fingerprintCache) lookup(path string) (string, bool) {
	entry, ok := c.entries[path]
	if !ok {
		return "", false
	}
	size, mtime, ctime, err := statTimes(path)
	if err != nil {
		return "", false
	}
	if entry.Size != size || entry.MTimeNs != mtime {
		return "", false
	}
	if entry.CTimeNs != 0 && ctime != 0 && entry.CTimeNs != ctime {
		return "", false
	}
	return entry.SHA256, true
}

func (c *fingerprintCache) store(path, digest string) {
	size, mtime, ctime, err := statTimes(path)
	if err != nil {
		return
	}
	c.entries[path] = cacheEntry{Size: size, MTimeNs: mtime, CTimeNs: ctime, SHA256: digest}
	c.dirty = true
}

func (c *fingerprintCache) save(appRoot string) {
	if !c.dirty {
		return
	}
	cf := cacheFile{Entries: c.entries, Checksum: entriesChecksum(c.entries)}
	data, err := json.Marshal(cf)
	if err != nil {
		return
	}
	if err := utils.WriteFileAtomic(cachePath(appRoot), data, 0o644); err != nil {
		logger.Debugf("fingerprint cache write failed: %v", err)
	}
}

func statTimes(path string) (size, mtimeNs, ctimeNs int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, 0, err
	}
	size = info.Size()
	mtimeNs = info.ModTime().UnixNano()
	ts := times.Get(info)
	if ts.HasChangeTime() {
		ctimeNs = ts.ChangeTime().UnixNano()
	}
	return size, mtimeNs, ctimeNs, nil
}

// entriesChecksum is an xxHash64 over the stable JSON form of the entries.
// Cheap tamper/corruption detection; collision resistance is irrelevant
// because a stale hit only costs a wrong fingerprint on a file whose size
// and timestamps also collide.
func entriesChecksum(entries map[string]cacheEntry) string {
	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", hasher.XXH64Bytes(data))
}
