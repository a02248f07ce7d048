// Command restore reconstructs a contiguous image from a snapshot
// directory of part files, expanding zero-sentinels back to zero runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/VictoriaMetrics/metrics"

	"github.com/briankendall/multipart-backup/lib/blockcopy"
	"github.com/briankendall/multipart-backup/lib/buildinfo"
	"github.com/briankendall/multipart-backup/lib/logger"
	"github.com/briankendall/multipart-backup/lib/restore"
	"github.com/briankendall/multipart-backup/lib/sizeutil"
	"github.com/briankendall/multipart-backup/lib/statusline"
)

var (
	blockSize    = flag.String("bs", "1m", "Block size used to restore each part. Accepts dd-style suffixes (b/k/m/g/w)")
	metricsAddr  = flag.String("metricsAddr", "", "If set, serve Prometheus metrics at this address under /metrics")
	logLevel     = flag.String("log-level", "info", "Minimum log level: debug, info, warn or error")
	printVersion = flag.Bool("version", false, "Print version information and exit")
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
	backupDir, dest := flag.Arg(0), flag.Arg(1)

	if err := run(backupDir, dest); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(backupDir, dest string) error {
	bs, err := sizeutil.ParseSize(*blockSize)
	if err != nil {
		return err
	}

	status := statusline.New(os.Stdout)
	defer status.Done()

	logger.Infof("restoring %q into %q", backupDir, dest)
	res, err := restore.Run(context.Background(), restore.Options{
		SnapshotDir: backupDir,
		Dest:        dest,
		BlockSize:   bs,
		Copier:      blockcopy.Native{},
		Progress:    status.Update,
	})
	if err != nil {
		return err
	}
	logger.Infof("restore complete: %d part(s) written, part size %s", res.PartsWritten, sizeutil.FormatSize(res.BackupPartSize))
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
restore reconstructs a contiguous image from a snapshot directory of
part files, expanding zero-sentinels back to runs of zero bytes.

Usage: restore [flags] <backupDir> <dest>
`
	f := flag.CommandLine.Output()
	fmt.Fprintf(f, "%s\n", s)
	flag.PrintDefaults()
}
