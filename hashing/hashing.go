// Package hashing implements content-identity hashing for document
// deduplication (spec.md section 4.3): SHA-256 over the full byte stream,
// streamed where the source permits and buffered otherwise.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Stream computes the SHA-256 of r without buffering the whole input in
// memory, returning the 64-character lowercase hex digest. Used for large
// files read from disk, WebDAV, or S3.
func Stream(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes computes the SHA-256 of an in-memory buffer, returning the same
// digest format as Stream. Deterministic and defined for the empty slice.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// TeeAndHash copies r to w while simultaneously hashing the bytes, so a
// caller writing a blob to storage can compute its content identity in the
// same pass instead of re-reading the file.
func TeeAndHash(r io.Reader, w io.Writer) (string, int64, error) {
	h := sha256.New()
	mw := io.MultiWriter(w, h)
	n, err := io.Copy(mw, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
