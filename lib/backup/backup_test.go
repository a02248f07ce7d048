package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/briankendall/multipart-backup/lib/snapshot"
)

func writeSource(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func readPart(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

const mib = 1024 * 1024

func TestFreshBackupThreeParts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	root := filepath.Join(dir, "root")

	data := bytes.Repeat([]byte{0x42}, 250*mib)
	writeSource(t, src, data)

	res, err := Run(context.Background(), Options{
		Source:        src,
		DestRoot:      root,
		PartSize:      100 * mib,
		BlockSize:     mib,
		SnapshotCount: 4,
	})
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if res.ChangedFiles != 3 {
		t.Fatalf("ChangedFiles = %d; want 3", res.ChangedFiles)
	}

	parts, err := snapshot.PartsInSnapshot(res.SnapshotDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d parts; want 3", len(parts))
	}
	wantSizes := []int64{100 * mib, 100 * mib, 50 * mib}
	for i, p := range parts {
		fi, err := os.Stat(filepath.Join(res.SnapshotDir, p))
		if err != nil {
			t.Fatal(err)
		}
		if fi.Size() != wantSizes[i] {
			t.Errorf("part %d size = %d; want %d", i, fi.Size(), wantSizes[i])
		}
	}

	snaps, err := snapshot.PreviousSnapshots(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshot dirs; want 1", len(snaps))
	}
}

func TestSecondBackupUnchangedSharesInodes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	root := filepath.Join(dir, "root")
	data := bytes.Repeat([]byte{0x7A}, 250*mib)
	writeSource(t, src, data)

	opts := Options{
		Source:        src,
		DestRoot:      root,
		PartSize:      100 * mib,
		BlockSize:     mib,
		SnapshotCount: 4,
	}
	first, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("first run failed: %s", err)
	}

	second, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("second run failed: %s", err)
	}
	if second.ChangedFiles != 0 {
		t.Fatalf("ChangedFiles = %d; want 0 for an unchanged source", second.ChangedFiles)
	}

	parts, err := snapshot.PartsInSnapshot(second.SnapshotDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range parts {
		fi1, err := os.Stat(filepath.Join(first.SnapshotDir, p))
		if err != nil {
			t.Fatal(err)
		}
		fi2, err := os.Stat(filepath.Join(second.SnapshotDir, p))
		if err != nil {
			t.Fatal(err)
		}
		if !os.SameFile(fi1, fi2) {
			t.Errorf("part %s not shared between snapshots", p)
		}
	}
}

func TestZeroRegionProducesSentinels(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	root := filepath.Join(dir, "root")
	writeSource(t, src, make([]byte, 200*mib))

	res, err := Run(context.Background(), Options{
		Source:        src,
		DestRoot:      root,
		PartSize:      100 * mib,
		BlockSize:     mib,
		SnapshotCount: 4,
	})
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	parts, err := snapshot.PartsInSnapshot(res.SnapshotDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts; want 2", len(parts))
	}
	for _, p := range parts {
		fi, err := os.Stat(filepath.Join(res.SnapshotDir, p))
		if err != nil {
			t.Fatal(err)
		}
		if fi.Size() != 0 {
			t.Errorf("part %s size = %d; want 0 (zero-sentinel)", p, fi.Size())
		}
	}
}

func TestZeroRegionKeepNullParts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	root := filepath.Join(dir, "root")
	writeSource(t, src, make([]byte, 200*mib))

	res, err := Run(context.Background(), Options{
		Source:        src,
		DestRoot:      root,
		PartSize:      100 * mib,
		BlockSize:     mib,
		SnapshotCount: 4,
		KeepNullParts: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	parts, err := snapshot.PartsInSnapshot(res.SnapshotDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range parts {
		fi, err := os.Stat(filepath.Join(res.SnapshotDir, p))
		if err != nil {
			t.Fatal(err)
		}
		if fi.Size() != 100*mib {
			t.Errorf("part %s size = %d; want %d (keepNullParts)", p, fi.Size(), 100*mib)
		}
	}
}

func TestTruncationPrunesExcessPart(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	root := filepath.Join(dir, "root")
	writeSource(t, src, bytes.Repeat([]byte{1}, 250*mib))

	opts := Options{
		Source:        src,
		DestRoot:      root,
		PartSize:      100 * mib,
		BlockSize:     mib,
		SnapshotCount: 4,
	}
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("first run failed: %s", err)
	}

	writeSource(t, src, bytes.Repeat([]byte{1}, 150*mib))
	second, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("second run failed: %s", err)
	}

	parts, err := snapshot.PartsInSnapshot(second.SnapshotDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts; want 2 after truncation", len(parts))
	}
}

func TestSnapshotCountZeroDisablesRotation(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	root := filepath.Join(dir, "root")
	writeSource(t, src, bytes.Repeat([]byte{9}, 10*mib))

	res, err := Run(context.Background(), Options{
		Source:        src,
		DestRoot:      root,
		PartSize:      mib,
		BlockSize:     mib,
		SnapshotCount: 0,
	})
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if res.SnapshotDir != root {
		t.Fatalf("SnapshotDir = %q; want root %q when snapshotting is disabled", res.SnapshotDir, root)
	}
	parts, err := snapshot.PartsInSnapshot(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 10 {
		t.Fatalf("got %d parts; want 10", len(parts))
	}
}

func TestPartSizeNotMultipleOfBlockSizeRejected(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	writeSource(t, src, make([]byte, mib))

	_, err := Run(context.Background(), Options{
		Source:        src,
		DestRoot:      filepath.Join(dir, "root"),
		PartSize:      100,
		BlockSize:     7,
		SnapshotCount: 0,
	})
	if err == nil {
		t.Fatal("expected error for misaligned part/block size")
	}
}

func TestCrashResumeYieldsSameResultAsUninterrupted(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.img")
	root := filepath.Join(dir, "root")
	data := bytes.Repeat([]byte{0x11}, 250*mib)
	writeSource(t, src, data)

	opts := Options{
		Source:        src,
		DestRoot:      root,
		PartSize:      100 * mib,
		BlockSize:     mib,
		SnapshotCount: 4,
	}

	// Simulate a crash: manually set up the in-progress snapshot and copy
	// only the first part, leaving the rest for the resumed run.
	dest := filepath.Join(root, snapshot.InProgressName)
	if err := os.MkdirAll(dest, 0755); err != nil {
		t.Fatal(err)
	}
	partial := data[:100*mib]
	writeSource(t, snapshot.PartPath(dest, 0), partial)

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("resumed run failed: %s", err)
	}

	parts, err := snapshot.PartsInSnapshot(res.SnapshotDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d parts; want 3", len(parts))
	}
	got := readPart(t, filepath.Join(res.SnapshotDir, parts[0]))
	if !bytes.Equal(got, data[:100*mib]) {
		t.Fatal("resumed backup's first part doesn't match source")
	}
}
