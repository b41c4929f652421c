package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

const (
	bufferSmallSize      = 32 * 1024
	bufferLargeSize      = 128 * 1024
	largeBufferThreshold = 256 * 1024
)

var bufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, bufferSmallSize)
		return &buf
	},
}

var bufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, bufferLargeSize)
		return &buf
	},
}

func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "blake3":
		return blake3.New(32, nil), nil
	case "xxh64":
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
}

// ComputeFileDigests streams the file at path once through every requested
// algorithm and returns lowercase hex digests keyed by algorithm name.
// Duplicate algorithm names are collapsed.
func ComputeFileDigests(path string, algorithms []string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	type entry struct {
		name string
		h    hash.Hash
	}
	hashers := make([]entry, 0, len(algorithms))
	seen := make(map[string]struct{}, len(algorithms))
	for _, algo := range algorithms {
		if _, ok := seen[algo]; ok {
			continue
		}
		h, err := newHasher(algo)
		if err != nil {
			return nil, err
		}
		hashers = append(hashers, entry{name: algo, h: h})
		seen[algo] = struct{}{}
	}

	if len(hashers) > 0 {
		pool := &bufferSmallPool
		if info, statErr := file.Stat(); statErr == nil && info.Size() >= largeBufferThreshold {
			pool = &bufferLargePool
		}
		bufPtr := pool.Get().(*[]byte)
		buffer := *bufPtr
		for {
			n, readErr := file.Read(buffer)
			if n > 0 {
				chunk := buffer[:n]
				for i := range hashers {
					// hash.Hash.Write never returns an error
					_, _ = hashers[i].h.Write(chunk)
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					pool.Put(bufPtr)
					return nil, fmt.Errorf("hashing %s: %w", path, readErr)
				}
				break
			}
		}
		pool.Put(bufPtr)
	}

	digests := make(map[string]string, len(hashers))
	for i := range hashers {
		digests[hashers[i].name] = hex.EncodeToString(hashers[i].h.Sum(nil))
	}
	return digests, nil
}

// SHA256File returns the lowercase hex SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	digests, err := ComputeFileDigests(path, []string{"sha256"})
	if err != nil {
		return "", err
	}
	return digests["sha256"], nil
}

// SHA256Bytes returns the lowercase hex SHA-256 digest of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// XXH64Bytes returns the xxHash64 of data, used for cheap self-checks of
// cache files where collision resistance is not required.
func XXH64Bytes(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Blake3Bytes returns the lowercase hex BLAKE3-256 digest of data.
func Blake3Bytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
