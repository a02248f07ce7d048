// Package backup implements the two-stage producer/consumer backup
// pipeline: a block copier streams fresh parts from the source, a
// comparator deduplicates each against the previous snapshot's seeded
// link, and the whole in-progress snapshot is finalized by an atomic
// rename once both workers finish cleanly.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/VictoriaMetrics/metrics"
	"github.com/briankendall/multipart-backup/lib/blockcopy"
	"github.com/briankendall/multipart-backup/lib/errs"
	"github.com/briankendall/multipart-backup/lib/fs"
	"github.com/briankendall/multipart-backup/lib/logger"
	"github.com/briankendall/multipart-backup/lib/partio"
	"github.com/briankendall/multipart-backup/lib/sizeutil"
	"github.com/briankendall/multipart-backup/lib/snapshot"
	"github.com/briankendall/multipart-backup/lib/speedmeter"
)

var (
	snapshotsFinalized = metrics.NewCounter(`multipart_backup_snapshots_finalized_total`)
	snapshotsPruned    = metrics.NewCounter(`multipart_backup_snapshots_pruned_total`)
)

// speedMeterWindow is the number of recent copy cycles averaged for the
// status line, matching the original tool's window.
const speedMeterWindow = 5

// queueDepth bounds how many finished new-parts the copier can get ahead
// of the comparator by, capping extra disk usage at roughly
// queueDepth*partSize above steady state.
const queueDepth = 2

// Options configures a single backup run.
type Options struct {
	// Source is the file or block device to back up.
	Source string
	// DestRoot is the backup root directory.
	DestRoot string
	// PartSize is the size of each part; must be a multiple of BlockSize.
	PartSize int64
	// BlockSize is the unit of comparison and copy granularity.
	BlockSize int64
	// KeepNullParts disables the zero-sentinel compaction optimization.
	KeepNullParts bool
	// SnapshotCount is how many finalized snapshots to retain. Zero
	// disables snapshotting: DestRoot itself is used as the single
	// live snapshot and no rotation occurs.
	SnapshotCount int
	// Copier performs the block-granular copy. Defaults to blockcopy.Native.
	Copier blockcopy.Copier
	// Progress, if non-nil, is called with a human-readable status line
	// before each part is copied.
	Progress func(string)
}

// Result summarizes a completed backup run.
type Result struct {
	// ChangedFiles is the number of parts that were written, replaced, or
	// pruned relative to the previous snapshot.
	ChangedFiles int
	// SnapshotDir is the finalized snapshot directory (or DestRoot itself
	// when snapshotting is disabled).
	SnapshotDir string
}

// Run performs one backup of Source into DestRoot according to opts.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.BlockSize <= 0 || opts.PartSize <= 0 {
		return nil, errs.New(errs.InvalidArgument, nil, "block size and part size must be positive")
	}
	if opts.PartSize%opts.BlockSize != 0 {
		return nil, errs.New(errs.InvalidArgument, nil, "part size %d must be an integer multiple of block size %d", opts.PartSize, opts.BlockSize)
	}
	if opts.SnapshotCount < 0 {
		return nil, errs.New(errs.InvalidArgument, nil, "snapshot count must be >= 0")
	}
	if opts.Copier == nil {
		opts.Copier = blockcopy.Native{}
	}

	if err := fs.MkdirAllIfNotExist(opts.DestRoot); err != nil {
		return nil, errs.New(errs.IO, err, "cannot create backup root %q", opts.DestRoot)
	}

	lock, err := fs.CreateFlockFile(opts.DestRoot)
	if err != nil {
		return nil, errs.New(errs.IO, err, "another backup run holds %q", opts.DestRoot)
	}
	defer lock.Close()

	if free := fs.MustGetFreeSpace(opts.DestRoot); free < uint64(opts.PartSize) {
		logger.Warnf("only %s free under %q; less than one part size", sizeutil.FormatSize(int64(free)), opts.DestRoot)
	}

	dest, err := setupDestination(opts.DestRoot, opts.SnapshotCount)
	if err != nil {
		return nil, err
	}
	logger.Infof("backing up %s to %s", opts.Source, dest)

	queue := make(chan string, queueDepth)
	g, gctx := errgroup.WithContext(ctx)

	var totalParts int
	g.Go(func() error {
		n, err := runProducer(gctx, opts, dest, queue)
		totalParts = n
		return err
	})

	var changedFiles int
	g.Go(func() error {
		n, err := runConsumer(gctx, opts, dest, queue)
		changedFiles = n
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Warnf("backup failed; %s left intact for resume: %s", dest, err)
		return nil, err
	}

	deletedFiles := pruneExcess(dest, totalParts)
	changedFiles += deletedFiles

	if opts.SnapshotCount == 0 {
		logger.Infof("finished; changed files: %d", changedFiles)
		return &Result{ChangedFiles: changedFiles, SnapshotDir: dest}, nil
	}

	final, err := finalize(opts.DestRoot, dest)
	if err != nil {
		return nil, err
	}
	snapshotsFinalized.Inc()

	if err := pruneOldSnapshots(opts.DestRoot, opts.SnapshotCount); err != nil {
		logger.Warnf("failed pruning old snapshots: %s", err)
	}

	logger.Infof("finished; changed files: %d", changedFiles)
	return &Result{ChangedFiles: changedFiles, SnapshotDir: final}, nil
}

// setupDestination resolves the directory a backup run should write new
// parts into: an existing in-progress snapshot to resume, a fresh one
// seeded with hard links from the newest finalized snapshot, a fresh
// empty one if there is no prior snapshot, or DestRoot itself when
// snapshotting is disabled.
func setupDestination(root string, snapshotCount int) (string, error) {
	if snapshotCount == 0 {
		return root, nil
	}

	prevs, err := snapshot.PreviousSnapshots(root)
	if err != nil {
		return "", errs.New(errs.IO, err, "cannot list snapshots under %q", root)
	}
	if incomplete := snapshot.FindIncomplete(prevs); incomplete != "" {
		logger.Infof("resuming incomplete snapshot %s", incomplete)
		return incomplete, nil
	}
	if len(prevs) > 0 {
		last := prevs[len(prevs)-1]
		logger.Infof("seeding new snapshot from %s", last)
		dest, err := snapshot.SeedFromPrevious(root, last)
		if err != nil {
			return "", errs.New(errs.IO, err, "cannot seed snapshot from %q", last)
		}
		return dest, nil
	}
	logger.Infof("no prior snapshot; starting fresh")
	dest, err := snapshot.CreateEmpty(root)
	if err != nil {
		return "", errs.New(errs.IO, err, "cannot create initial snapshot under %q", root)
	}
	return dest, nil
}

// runProducer copies successive parts from the source into dest, pushing
// each completed new-part's path onto queue in order, until the source is
// exhausted. It returns the number of parts actually produced.
func runProducer(ctx context.Context, opts Options, dest string, queue chan<- string) (int, error) {
	defer close(queue)

	meter := speedmeter.New(speedMeterWindow)
	partBlockCount := opts.PartSize / opts.BlockSize
	index := 0

	for {
		select {
		case <-ctx.Done():
			return index, ctx.Err()
		default:
		}

		meter.StartOfCycle()
		newPart := snapshot.NewPartPath(dest, index)
		reportProgress(opts.Progress, "Copying part", index, meter)

		n, err := opts.Copier.Copy(ctx, opts.Source, newPart, opts.BlockSize, partBlockCount, int64(index)*partBlockCount, 0)
		if err != nil {
			return index, err
		}

		if n == 0 {
			fs.MustRemoveFileTolerant(newPart)
			return index, nil
		}

		select {
		case queue <- newPart:
		case <-ctx.Done():
			return index, ctx.Err()
		}

		index++
		meter.EndOfCycle(n)

		if n < opts.PartSize {
			return index, nil
		}
	}
}

// runConsumer dedups each new-part that arrives on queue against the
// seeded prior snapshot, in strict production order, until the producer
// closes the channel. It returns the count of parts actually changed.
func runConsumer(ctx context.Context, opts Options, dest string, queue <-chan string) (int, error) {
	cmp := partio.New()
	changedFiles := 0

	for newPart := range queue {
		select {
		case <-ctx.Done():
			return changedFiles, ctx.Err()
		default:
		}

		changed, err := dedupStep(cmp, opts, newPart)
		if err != nil {
			return changedFiles, err
		}
		if changed {
			changedFiles++
		}
	}
	return changedFiles, nil
}

// dedupStep performs the per-index decision of §4.F: keep the seeded
// prior part, replace it, or create it fresh, then compacts a resulting
// all-zero full-size part to a zero-sentinel. It never opens an existing
// part for writing; it only unlinks and replaces, or truncates a part it
// has just made private via unlink-then-rename.
func dedupStep(cmp *partio.Comparator, opts Options, newPart string) (changed bool, err error) {
	prevPart := strings.TrimSuffix(newPart, ".new")

	zeros, err := cmp.IsAllZeros(newPart, int(opts.BlockSize))
	if err != nil {
		return false, errs.New(errs.IO, err, "cannot scan %q for zeros", newPart)
	}

	if fs.IsPathExist(prevPart) {
		identical, err := partsAreEquivalent(cmp, prevPart, newPart, zeros, opts)
		if err != nil {
			return false, err
		}
		if identical {
			fs.MustRemoveFileTolerant(newPart)
			return false, nil
		}
		fs.MustRemoveFileTolerant(prevPart)
	}

	if err := os.Rename(newPart, prevPart); err != nil {
		return false, errs.New(errs.IO, err, "cannot rename %q to %q", newPart, prevPart)
	}

	if fs.MustFileSize(prevPart) == opts.PartSize && zeros && !opts.KeepNullParts {
		if err := os.Truncate(prevPart, 0); err != nil {
			return true, errs.New(errs.IO, err, "cannot compact %q to a zero-sentinel", prevPart)
		}
		partio.NoteZeroPartFormed()
	}
	return true, nil
}

// partsAreEquivalent decides whether prevPart and newPart represent the
// same logical content: either both are (or collapse to) a zero-sentinel,
// or their bytes match exactly.
func partsAreEquivalent(cmp *partio.Comparator, prevPart, newPart string, newIsZeros bool, opts Options) (bool, error) {
	if !opts.KeepNullParts && fs.MustFileSize(prevPart) == 0 && newIsZeros {
		return true, nil
	}
	ok, err := cmp.AreIdentical(prevPart, newPart, int(opts.BlockSize))
	if err != nil {
		return false, errs.New(errs.IO, err, "cannot compare %q and %q", prevPart, newPart)
	}
	return ok, nil
}

// pruneExcess removes any finalized parts at index >= from left behind by
// a shorter source than the seeded snapshot had (e.g. after truncation).
func pruneExcess(dest string, from int) int {
	deleted := 0
	for {
		p := snapshot.PartPath(dest, from)
		if !fs.IsPathExist(p) {
			return deleted
		}
		fs.MustRemoveFileTolerant(p)
		from++
		deleted++
	}
}

// finalize atomically renames the in-progress snapshot to its timestamped
// final name.
func finalize(root, dest string) (string, error) {
	final := filepath.Join(root, snapshot.Timestamp())
	if err := os.Rename(dest, final); err != nil {
		return "", errs.New(errs.IO, err, "cannot finalize snapshot %q", dest)
	}
	fs.MustSyncPath(root)
	return final, nil
}

// pruneOldSnapshots deletes the oldest finalized snapshots beyond keep.
func pruneOldSnapshots(root string, keep int) error {
	prevs, err := snapshot.PreviousSnapshots(root)
	if err != nil {
		return errs.New(errs.IO, err, "cannot list snapshots under %q", root)
	}
	if len(prevs) <= keep {
		return nil
	}
	toRemove := prevs[:len(prevs)-keep]
	logger.Infof("removing %d old snapshot(s)", len(toRemove))
	for _, old := range toRemove {
		parts, err := snapshot.PartsInSnapshot(old)
		if err != nil {
			return errs.New(errs.IO, err, "cannot list parts in %q", old)
		}
		for _, p := range parts {
			fs.MustRemoveFileTolerant(filepath.Join(old, p))
		}
		if err := fs.WaitForSlowNFSRemoval(old); err != nil {
			return errs.New(errs.IO, err, "cannot remove old snapshot directory %q", old)
		}
		snapshotsPruned.Inc()
	}
	return nil
}

func reportProgress(progress func(string), action string, index int, meter *speedmeter.Meter) {
	if progress == nil {
		return
	}
	if avg, ok := meter.Average(); ok {
		progress(fmt.Sprintf("%s %d ... speed: %s/sec", action, index+1, sizeutil.FormatSize(int64(avg))))
		return
	}
	progress(fmt.Sprintf("%s %d ...", action, index+1))
}
