// Package restore reconstructs a contiguous image from a snapshot
// directory of part files, expanding zero-sentinels back into runs of
// zero bytes read from the platform's zero device.
package restore

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/VictoriaMetrics/metrics"
	"github.com/briankendall/multipart-backup/lib/blockcopy"
	"github.com/briankendall/multipart-backup/lib/errs"
	"github.com/briankendall/multipart-backup/lib/fs"
	"github.com/briankendall/multipart-backup/lib/snapshot"
)

var (
	partsRestored = metrics.NewCounter(`multipart_backup_restore_parts_total`)
	bytesRestored = metrics.NewCounter(`multipart_backup_restore_bytes_total`)
)

// ZeroDevice is the platform source read for zero-sentinel expansion.
// Overridable in tests.
var ZeroDevice = defaultZeroDevice()

func defaultZeroDevice() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "/dev/zero"
}

// Options configures a restore run.
type Options struct {
	SnapshotDir string
	Dest        string
	BlockSize   int64
	Copier      blockcopy.Copier
	Progress    func(string)
}

// Result reports what a restore run reconstructed.
type Result struct {
	PartsWritten   int
	BackupPartSize int64
}

// Run validates the part-size invariant across SnapshotDir and streams
// every part into Dest at its block offset, expanding zero-sentinels
// from ZeroDevice.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.BlockSize <= 0 {
		return nil, errs.New(errs.InvalidArgument, nil, "block size must be positive")
	}
	copier := opts.Copier
	if copier == nil {
		copier = blockcopy.Native{}
	}

	parts, err := snapshot.PartsInSnapshot(opts.SnapshotDir)
	if err != nil {
		return nil, errs.New(errs.IO, err, "cannot list parts in %q", opts.SnapshotDir)
	}
	if len(parts) == 0 {
		return &Result{}, nil
	}

	backupPartSize, err := deducePartSize(opts.SnapshotDir, parts)
	if err != nil {
		return nil, err
	}
	if backupPartSize%opts.BlockSize != 0 {
		return nil, errs.New(errs.BackupCorrupt, nil,
			"backup part size %d is not a multiple of block size %d", backupPartSize, opts.BlockSize)
	}
	partBlockCount := backupPartSize / opts.BlockSize

	if err := fs.MkdirAllIfNotExist(filepath.Dir(opts.Dest)); err != nil {
		return nil, errs.New(errs.IO, err, "cannot create destination's parent directory")
	}

	if err := validateSizes(opts.SnapshotDir, parts, backupPartSize); err != nil {
		return nil, err
	}

	for i, name := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		partPath := snapshot.PartPath(opts.SnapshotDir, snapshot.PartIndex(name))
		size := fs.MustFileSize(partPath)
		seek := int64(i) * partBlockCount

		var src string
		var count int64
		if size == 0 {
			src = ZeroDevice
			count = partBlockCount
		} else {
			src = partPath
			count = (size + opts.BlockSize - 1) / opts.BlockSize
		}

		if opts.Progress != nil {
			opts.Progress(fmt.Sprintf("restoring part %d/%d", i+1, len(parts)))
		}

		n, err := copier.Copy(ctx, src, opts.Dest, opts.BlockSize, count, 0, seek)
		if err != nil {
			return nil, errs.New(errs.CopyFailed, err, "restore failed on part %q", name)
		}
		partsRestored.Inc()
		bytesRestored.Add(int(n))
	}

	return &Result{PartsWritten: len(parts), BackupPartSize: backupPartSize}, nil
}

// deducePartSize finds the size of the first non-zero, non-last part,
// which by invariant is the snapshot's part size. Only non-last parts are
// considered: a non-zero last part is a tail, not evidence of the part
// size, so it can't be used as a fallback.
func deducePartSize(dir string, parts []string) (int64, error) {
	for i, name := range parts {
		if i == len(parts)-1 {
			break
		}
		size := fs.MustFileSize(snapshot.PartPath(dir, snapshot.PartIndex(name)))
		if size != 0 {
			return size, nil
		}
	}
	return 0, errs.New(errs.BackupCorrupt, nil, "cannot deduce part size: every non-last part is a zero-sentinel")
}

// validateSizes enforces the part-size invariant: every non-last part is
// either 0 or backupPartSize; the last part is at most backupPartSize.
func validateSizes(dir string, parts []string, backupPartSize int64) error {
	for i, name := range parts {
		size := fs.MustFileSize(snapshot.PartPath(dir, snapshot.PartIndex(name)))
		if i == len(parts)-1 {
			if size > backupPartSize {
				return errs.New(errs.BackupCorrupt, nil,
					"tail part %q has size %d exceeding backup part size %d", name, size, backupPartSize)
			}
			continue
		}
		if size != 0 && size != backupPartSize {
			return errs.New(errs.BackupCorrupt, nil,
				"part %q has size %d; expected 0 or %d", name, size, backupPartSize)
		}
	}
	return nil
}
