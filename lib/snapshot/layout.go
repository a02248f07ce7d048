// Package snapshot names and enumerates part files and snapshot
// directories, and seeds a new in-progress snapshot from the newest
// finalized one via hard links.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/briankendall/multipart-backup/lib/fs"
)

// InProgressName is the fixed directory name used for the one in-flight
// snapshot a backup root may contain.
const InProgressName = "snapshot-inprogress"

var snapshotDirRe = regexp.MustCompile(`^snapshot-\d{4}-\d{2}-\d{2}-\d{6}$`)

// PartPath returns the canonical finalized-part path for index i in dir.
func PartPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("part_%08d", i))
}

// NewPartPath returns the canonical new-part path for index i in dir: a
// just-copied part awaiting comparison against PartPath(dir, i).
func NewPartPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("part_%08d.new", i))
}

// IsPartFile reports whether name is a finalized part file name.
func IsPartFile(name string) bool {
	if len(name) != 13 || name[:5] != "part_" {
		return false
	}
	for _, c := range name[5:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsSnapshotDir reports whether name is the in-progress snapshot or a
// timestamped snapshot directory name.
func IsSnapshotDir(name string) bool {
	return name == InProgressName || snapshotDirRe.MatchString(name)
}

// PartIndex extracts the numeric index from a finalized part file name.
// The caller must have already verified IsPartFile(name).
func PartIndex(name string) int {
	var idx int
	for _, c := range name[5:] {
		idx = idx*10 + int(c-'0')
	}
	return idx
}

// PartsInSnapshot returns the sorted list of finalized part file names
// directly inside dir.
func PartsInSnapshot(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot list %q: %w", dir, err)
	}
	var parts []string
	for _, e := range entries {
		if !e.IsDir() && IsPartFile(e.Name()) {
			parts = append(parts, e.Name())
		}
	}
	sort.Strings(parts)
	return parts, nil
}

// PreviousSnapshots returns the sorted (and therefore chronological) list
// of snapshot directory paths directly under root.
func PreviousSnapshots(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("cannot list %q: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && IsSnapshotDir(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(root, n)
	}
	return paths, nil
}

// FindIncomplete returns the in-progress snapshot path among snapshots, or
// "" if none is present.
func FindIncomplete(snapshots []string) string {
	for _, s := range snapshots {
		if filepath.Base(s) == InProgressName {
			return s
		}
	}
	return ""
}

// Timestamp formats the current time as a finalized snapshot directory
// name, at seconds granularity.
func Timestamp() string {
	return "snapshot-" + time.Now().Format("2006-01-02-150405")
}

// SeedFromPrevious creates a fresh snapshot-inprogress directory under
// root and hard-links every part file from lastSnapshot into it, so
// indices whose content doesn't change in this run keep sharing the
// prior snapshot's inode.
func SeedFromPrevious(root, lastSnapshot string) (string, error) {
	dest := filepath.Join(root, InProgressName)
	if err := os.Mkdir(dest, 0755); err != nil {
		return "", fmt.Errorf("cannot create %q: %w", dest, err)
	}
	if err := fs.HardLinkFiles(lastSnapshot, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// CreateEmpty creates a fresh, empty snapshot-inprogress directory under
// root, for the case where no prior snapshot exists to seed from.
func CreateEmpty(root string) (string, error) {
	dest := filepath.Join(root, InProgressName)
	if err := os.Mkdir(dest, 0755); err != nil {
		return "", fmt.Errorf("cannot create %q: %w", dest, err)
	}
	return dest, nil
}
