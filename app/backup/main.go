// Command backup performs an incremental, block-level backup of a file
// or raw device into a directory of fixed-size part files.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/VictoriaMetrics/metrics"

	"github.com/briankendall/multipart-backup/lib/backup"
	"github.com/briankendall/multipart-backup/lib/blockcopy"
	"github.com/briankendall/multipart-backup/lib/buildinfo"
	"github.com/briankendall/multipart-backup/lib/errs"
	"github.com/briankendall/multipart-backup/lib/logger"
	"github.com/briankendall/multipart-backup/lib/sizeutil"
	"github.com/briankendall/multipart-backup/lib/statusline"
	"github.com/briankendall/multipart-backup/lib/uuidresolve"
)

var (
	blockSize     = flag.String("bs", "1m", "Block size for each copy operation. Accepts dd-style suffixes (b/k/m/g/w)")
	partSize      = flag.String("ps", "100m", "Size of each part file; must be a multiple of -bs")
	keepNullParts = flag.Bool("k", false, "Retain full-size zero parts instead of collapsing them to zero-sentinels")
	snapshotCount = flag.Int("s", 4, "Number of snapshot generations to retain; 0 disables snapshotting entirely")
	asUUID        = flag.Bool("u", false, "Treat the source argument as a filesystem UUID instead of a path")
	copierName    = flag.String("copier", "native", "Block copier implementation to use: native or external")
	ddPath        = flag.String("ddPath", "dd", "Path to the dd-compatible binary used by -copier=external")
	metricsAddr   = flag.String("metricsAddr", "", "If set, serve Prometheus metrics at this address under /metrics")
	logLevel      = flag.String("log-level", "info", "Minimum log level: debug, info, warn or error")
	printVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *printVersion {
		fmt.Println(buildinfo.String())
		return
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.SetLevel(level)

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr)
	}

	if flag.NArg() != 2 {
		usage()
		os.Exit(1)
	}
	sourceArg, destRoot := flag.Arg(0), flag.Arg(1)

	if err := run(sourceArg, destRoot); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(sourceArg, destRoot string) error {
	bs, err := sizeutil.ParseSize(*blockSize)
	if err != nil {
		return err
	}
	ps, err := sizeutil.ParseSize(*partSize)
	if err != nil {
		return err
	}
	if ps%bs != 0 {
		return errs.New(errs.InvalidArgument, nil, "part size %d must be a multiple of block size %d", ps, bs)
	}

	source, err := uuidresolve.ResolveSource(sourceArg, *asUUID)
	if err != nil {
		return err
	}

	var copier blockcopy.Copier
	switch *copierName {
	case "native":
		copier = blockcopy.Native{}
	case "external":
		copier = blockcopy.External{Path: *ddPath}
	default:
		return errs.New(errs.InvalidArgument, nil, "unknown -copier %q; want native or external", *copierName)
	}

	status := statusline.New(os.Stdout)
	defer status.Done()

	logger.Infof("starting backup of %q into %q", source, destRoot)
	res, err := backup.Run(context.Background(), backup.Options{
		Source:        source,
		DestRoot:      destRoot,
		PartSize:      ps,
		BlockSize:     bs,
		KeepNullParts: *keepNullParts,
		SnapshotCount: *snapshotCount,
		Copier:        copier,
		Progress:      status.Update,
	})
	if err != nil {
		return err
	}
	logger.Infof("backup complete: %d changed part(s), snapshot at %q", res.ChangedFiles, res.SnapshotDir)
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Errorf("metrics server on %q stopped: %s", addr, err)
		}
	}()
}

func usage() {
	const s = `
backup performs an incremental, block-level backup of a source file or
raw device into a directory of fixed-size part files, deduplicating
unchanged parts across generations via hard links.

Usage: backup [flags] <source> <dest>
`
	f := flag.CommandLine.Output()
	fmt.Fprintf(f, "%s\n", s)
	flag.PrintDefaults()
}
