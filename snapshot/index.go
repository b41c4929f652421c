package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	jsoncanonicalizer "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"appvet/hasher"
	"appvet/logger"
	"appvet/utils"
)

// IndexFileName is the tamper-evidence index kept next to the snapshots.
const IndexFileName = "index.json"

// snapshotIndex maps snapshot file names to BLAKE3 digests of their
// canonical (RFC 8785) JSON form. Canonicalizing before hashing makes the
// digest independent of whitespace and key-order differences introduced by
// hand edits that do not change meaning.
type snapshotIndex struct {
	Entries map[string]string `json:"entries"`
}

func indexPath(dir string) string { return filepath.Join(dir, IndexFileName) }

func loadIndex(dir string) snapshotIndex {
	idx := snapshotIndex{Entries: map[string]string{}}
	data, err := os.ReadFile(indexPath(dir))
	if err != nil {
		return idx
	}
	if err := json.Unmarshal(data, &idx); err != nil || idx.Entries == nil {
		idx.Entries = map[string]string{}
	}
	return idx
}

func (idx snapshotIndex) save(dir string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(indexPath(dir), append(data, '\n'), 0o644)
}

// canonicalDigest hashes the JCS form of a JSON document.
func canonicalDigest(content []byte) (string, error) {
	canonical, err := jsoncanonicalizer.Transform(content)
	if err != nil {
		return "", err
	}
	return hasher.Blake3Bytes(canonical), nil
}

func updateIndexEntry(dir, fileName string, content []byte) error {
	digest, err := canonicalDigest(content)
	if err != nil {
		return err
	}
	idx := loadIndex(dir)
	idx.Entries[fileName] = digest
	return idx.save(dir)
}

// VerifyIndex recomputes every indexed snapshot's digest and returns the file
// names whose content no longer matches, sorted. Missing files count as
// stale. An absent index verifies trivially.
func VerifyIndex(dir string) ([]string, error) {
	idx := loadIndex(dir)
	var stale []string
	for fileName, want := range idx.Entries {
		content, err := os.ReadFile(filepath.Join(dir, fileName))
		if err != nil {
			stale = append(stale, fileName)
			continue
		}
		got, err := canonicalDigest(content)
		if err != nil || got != want {
			if err != nil {
				logger.Debugf("canonicalizing %s: %v", fileName, err)
			}
			stale = append(stale, fileName)
		}
	}
	sort.Strings(stale)
	return stale, nil
}
