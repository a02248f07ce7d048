// Package buildinfo exposes the version stamped into the binary at link
// time via -ldflags, in the shape used by both app/backup and app/restore.
package buildinfo

import "fmt"

// Version and Commit are overridden at build time via:
//
//	go build -ldflags "-X github.com/briankendall/multipart-backup/lib/buildinfo.Version=v1.2.3 -X .../buildinfo.Commit=abcdef"
var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns a one-line human-readable build identifier.
func String() string {
	return fmt.Sprintf("multipart-backup %s (%s)", Version, Commit)
}
