// Package fs provides low-level filesystem helpers shared by the backup
// and restore pipelines: directory creation with parent-dir fsync,
// hard-linking of whole directories, and panic-on-corruption wrappers
// around operations the pipeline assumes can never fail once an invariant
// has been checked.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/briankendall/multipart-backup/lib/logger"
)

// IsPathExist returns whether the given path exists. It panics on any
// stat error other than not-exist, since the pipeline only calls this on
// paths it otherwise controls.
func IsPathExist(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
		logger.Panicf("FATAL: cannot stat %q: %s", path, err)
	}
	return true
}

// MustFileSize returns the file size for path, panicking on error.
func MustFileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		logger.Panicf("FATAL: cannot stat %q: %s", path, err)
	}
	if fi.IsDir() {
		logger.Panicf("FATAL: %q must be a file, not a directory", path)
	}
	return fi.Size()
}

// MustSyncPath fsyncs the contents of the given path (file or directory).
func MustSyncPath(path string) {
	d, err := os.Open(path)
	if err != nil {
		logger.Panicf("FATAL: cannot open %q: %s", path, err)
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		logger.Panicf("FATAL: cannot flush %q to storage: %s", path, err)
	}
	if err := d.Close(); err != nil {
		logger.Panicf("FATAL: cannot close %q: %s", path, err)
	}
}

// MkdirAllIfNotExist creates dir (and its parents) if it doesn't already
// exist, fsyncing the parent directory so the entry survives a crash.
func MkdirAllIfNotExist(dir string) error {
	if IsPathExist(dir) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", dir, err)
	}
	parent := filepath.Dir(dir)
	if IsPathExist(parent) {
		MustSyncPath(parent)
	}
	return nil
}

// HardLinkFiles makes hard links for every regular file directly inside
// srcDir into dstDir, which must already exist. Sub-directories and
// symlinks are skipped; the part-file layout never nests directories.
func HardLinkFiles(srcDir, dstDir string) error {
	d, err := os.Open(srcDir)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", srcDir, err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Panicf("FATAL: cannot close %q: %s", srcDir, err)
		}
	}()

	entries, err := d.Readdir(-1)
	if err != nil {
		return fmt.Errorf("cannot list %q: %w", srcDir, err)
	}
	for _, fi := range entries {
		if fi.IsDir() || fi.Mode()&os.ModeSymlink != 0 {
			continue
		}
		srcPath := filepath.Join(srcDir, fi.Name())
		dstPath := filepath.Join(dstDir, fi.Name())
		if err := os.Link(srcPath, dstPath); err != nil {
			return fmt.Errorf("cannot link %q to %q: %w", srcPath, dstPath, err)
		}
	}
	MustSyncPath(dstDir)
	return nil
}

// MustRemoveFileTolerant removes path, swallowing the error if path
// doesn't exist. It never removes directories.
func MustRemoveFileTolerant(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Panicf("FATAL: cannot remove %q: %s", path, err)
	}
}

// WaitForSlowNFSRemoval retries os.RemoveAll for up to one minute in the
// face of the "directory not empty"/"device or resource busy" errors NFS
// can surface for a brief window after the last open file handle closes.
func WaitForSlowNFSRemoval(path string) error {
	start := time.Now()
	sleep := 100 * time.Millisecond
	for {
		err := os.RemoveAll(path)
		if err == nil {
			return nil
		}
		if !isTemporaryNFSError(err) {
			return err
		}
		if time.Since(start) > time.Minute {
			return fmt.Errorf("couldn't remove %q within a minute: %w", path, err)
		}
		time.Sleep(sleep)
		sleep *= 2
		if sleep > time.Second {
			sleep = time.Second
		}
	}
}

func isTemporaryNFSError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "directory not empty") || strings.Contains(s, "device or resource busy")
}

// CreateFlockFile creates (or opens) flock.lock in dir and takes an
// exclusive, non-blocking lock on it, so a second backup run against the
// same root fails fast instead of racing the first.
func CreateFlockFile(dir string) (*os.File, error) {
	flockFile := filepath.Join(dir, "flock.lock")
	f, err := os.Create(flockFile)
	if err != nil {
		return nil, fmt.Errorf("cannot create lock file %q: %w", flockFile, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("cannot acquire lock on %q: %w", flockFile, err)
	}
	return f, nil
}

// MustGetFreeSpace returns the free space available on the filesystem
// backing path, panicking on any failure to query it.
func MustGetFreeSpace(path string) uint64 {
	d, err := os.Open(path)
	if err != nil {
		logger.Panicf("FATAL: cannot determine free disk space on %q: %s", path, err)
	}
	defer d.Close()

	var stat unix.Statfs_t
	if err := unix.Fstatfs(int(d.Fd()), &stat); err != nil {
		logger.Panicf("FATAL: cannot determine free disk space on %q: %s", path, err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize)
}
