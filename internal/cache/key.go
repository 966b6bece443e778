package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ComputeKey derives the content-addressed cache key for one request.
// Inputs are length-prefixed before hashing so that no concatenation of
// distinct (url, quality, audio) triples can produce the same digest.
func ComputeKey(url, quality string, audio bool) string {
	h := sha256.New()
	for _, field := range []string{url, quality} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	if audio {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Shard returns the shard directory name for a key: its first two hex
// characters. Bounds per-directory fan-out in the cache tree.
func Shard(key string) string {
	if len(key) < 2 {
		return key
	}
	return key[:2]
}

// ResolvePath maps a key and extension to the final on-disk cache path,
// creating the shard directory if needed. Filesystem errors propagate.
func ResolvePath(cacheRoot, key, extension string) (string, error) {
	dir := filepath.Join(cacheRoot, Shard(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create shard dir %s: %w", dir, err)
	}
	return filepath.Join(dir, key+"."+extension), nil
}
