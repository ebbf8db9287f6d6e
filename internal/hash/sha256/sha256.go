// Package sha256 digests documents while they are being written.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Writer tees writes into a SHA-256 digest.
type Writer struct {
	dst io.Writer
	sum hash.Hash
	n   int64
}

// NewWriter returns a Writer forwarding to dst. A nil dst only hashes.
func NewWriter(dst io.Writer) *Writer {
	if dst == nil {
		dst = io.Discard
	}
	return &Writer{dst: dst, sum: sha256.New()}
}

// Write forwards p and adds the forwarded bytes to the digest.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.sum.Write(p[:n])
	w.n += int64(n)
	return n, err
}

// Hex returns the digest of everything written so far.
func (w *Writer) Hex() string {
	return hex.EncodeToString(w.sum.Sum(nil))
}

// Len returns the number of bytes written.
func (w *Writer) Len() int64 {
	return w.n
}
