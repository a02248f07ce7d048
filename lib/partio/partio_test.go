package partio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestIsAllZerosEmptyFileIsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	mustWrite(t, path, nil)

	c := New()
	zeros, err := c.IsAllZeros(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if zeros {
		t.Fatal("zero-length file must not be reported as all-zeros")
	}
}

func TestIsAllZerosTrueForZeroFilledFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zeros")
	mustWrite(t, path, make([]byte, 10000))

	c := New()
	zeros, err := c.IsAllZeros(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if !zeros {
		t.Fatal("expected all-zero file to be detected")
	}
}

func TestIsAllZerosFalseOnTrailingNonZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "almostzeros")
	data := make([]byte, 10000)
	data[9999] = 1
	mustWrite(t, path, data)

	c := New()
	zeros, err := c.IsAllZeros(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if zeros {
		t.Fatal("expected non-zero tail byte to defeat all-zeros detection")
	}
}

func TestAreIdenticalReflexive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	mustWrite(t, path, bytes.Repeat([]byte{7}, 5000))

	c := New()
	ok, err := c.AreIdentical(path, path, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("a file must be identical to itself")
	}
}

func TestAreIdenticalDifferentLength(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a")
	p2 := filepath.Join(dir, "b")
	mustWrite(t, p1, bytes.Repeat([]byte{1}, 2048))
	mustWrite(t, p2, bytes.Repeat([]byte{1}, 1024))

	c := New()
	ok, err := c.AreIdentical(p1, p2, 512)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("files of different length must not be identical")
	}
}

func TestAreIdenticalDifferentContent(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a")
	p2 := filepath.Join(dir, "b")
	mustWrite(t, p1, bytes.Repeat([]byte{1}, 2048))
	data := bytes.Repeat([]byte{1}, 2048)
	data[1500] = 2
	mustWrite(t, p2, data)

	c := New()
	ok, err := c.AreIdentical(p1, p2, 512)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("files differing mid-stream must not be identical")
	}
}
