package util

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadAllLimited(t *testing.T) {
	data, err := ReadAllLimited(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Errorf("at limit: got %q, %v", data, err)
	}
	if _, err := ReadAllLimited(strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Errorf("over limit: expected ErrTooLarge, got %v", err)
	}
	data, err = ReadAllLimited(strings.NewReader("unbounded"), 0)
	if err != nil || string(data) != "unbounded" {
		t.Errorf("no limit: got %q, %v", data, err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write([]byte("new"))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(path); string(b) != "new" {
		t.Errorf("got %q", b)
	}

	failure := errors.New("boom")
	if err := WriteFileAtomic(path, func(io.Writer) error { return failure }); !errors.Is(err, failure) {
		t.Errorf("expected write error, got %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != "new" {
		t.Errorf("failed write clobbered file: %q", b)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

type closeCounter struct {
	io.Reader
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func TestCancellableReadCloser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &closeCounter{Reader: bytes.NewReader([]byte("abcdef"))}
	r := NewCancellableReadCloser(ctx, src)
	buf := make([]byte, 3)
	if n, err := r.Read(buf); n != 3 || err != nil {
		t.Fatalf("read before cancel: %d, %v", n, err)
	}
	cancel()
	if _, err := r.Read(buf); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	r.Close()
	if src.closes != 1 {
		t.Errorf("underlying reader closed %d times, want 1", src.closes)
	}
}
