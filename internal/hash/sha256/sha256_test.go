package sha256

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterDigestsForwardedBytes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, part := range []string{"hello", " ", "world"} {
		if _, err := w.Write([]byte(part)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := w.Hex(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if buf.String() != "hello world" || w.Len() != 11 {
		t.Fatalf("unexpected forward: %q (%d bytes)", buf.String(), w.Len())
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, errors.New("disk full") }

func TestWriterShortWrite(t *testing.T) {
	t.Parallel()

	w := NewWriter(shortWriter{})
	n, err := w.Write([]byte("abcd"))
	if err == nil || n != 2 {
		t.Fatalf("expected short write, got n=%d err=%v", n, err)
	}
	if w.Hex() != digestOf("ab") || w.Len() != 2 {
		t.Fatalf("digest must only cover forwarded bytes")
	}
}

func TestNilDestinationOnlyHashes(t *testing.T) {
	t.Parallel()

	if got := digestOf(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty digest %s", got)
	}
}

func digestOf(s string) string {
	w := NewWriter(nil)
	_, _ = w.Write([]byte(s))
	return w.Hex()
}
