package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsPathExist(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	if err := os.WriteFile(present, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if !IsPathExist(present) {
		t.Fatal("expected present file to exist")
	}
	if IsPathExist(filepath.Join(dir, "absent")) {
		t.Fatal("expected absent file to not exist")
	}
}

func TestHardLinkFilesSharesInode(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "a"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(srcDir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := HardLinkFiles(srcDir, dstDir); err != nil {
		t.Fatal(err)
	}

	fi1, err := os.Stat(filepath.Join(srcDir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	fi2, err := os.Stat(filepath.Join(dstDir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(fi1, fi2) {
		t.Fatal("linked file doesn't share an inode with the source")
	}
	if IsPathExist(filepath.Join(dstDir, "subdir")) {
		t.Fatal("sub-directory must not be linked")
	}
}

func TestMustRemoveFileTolerantIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	MustRemoveFileTolerant(filepath.Join(dir, "nope"))
}

func TestCreateFlockFileExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	lock1, err := CreateFlockFile(dir)
	if err != nil {
		t.Fatalf("first lock failed: %s", err)
	}
	defer lock1.Close()

	if _, err := CreateFlockFile(dir); err == nil {
		t.Fatal("expected second concurrent lock attempt to fail")
	}
}

func TestCreateFlockFileReleasedOnClose(t *testing.T) {
	dir := t.TempDir()
	lock1, err := CreateFlockFile(dir)
	if err != nil {
		t.Fatalf("first lock failed: %s", err)
	}
	if err := lock1.Close(); err != nil {
		t.Fatal(err)
	}

	lock2, err := CreateFlockFile(dir)
	if err != nil {
		t.Fatalf("lock should be available after release: %s", err)
	}
	lock2.Close()
}

func TestMustGetFreeSpaceReturnsPositive(t *testing.T) {
	dir := t.TempDir()
	if space := MustGetFreeSpace(dir); space == 0 {
		t.Fatal("expected nonzero free space for a usable temp dir")
	}
}
