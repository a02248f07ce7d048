//go:build darwin

package uuidresolve

import (
	"os/exec"
	"strings"

	"howett.net/plist"
)

func init() {
	Register("darwin", diskutilResolver{})
}

// diskutilResolver shells out to diskutil's plist-producing disk listing
// and walks it for a matching DiskUUID, the way the original tool's
// macOS lookup does.
type diskutilResolver struct{}

type diskutilPlist struct {
	AllDisksAndPartitions []diskutilDisk `plist:"AllDisksAndPartitions"`
}

type diskutilDisk struct {
	Partitions  []diskutilPartition `plist:"Partitions"`
	APFSVolumes []diskutilPartition `plist:"APFSVolumes"`
}

type diskutilPartition struct {
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	DiskUUID         string `plist:"DiskUUID"`
}

func (diskutilResolver) DeviceForUUID(id string) (string, bool) {
	out, err := exec.Command("diskutil", "list", "-plist").Output()
	if err != nil {
		return "", false
	}

	var data diskutilPlist
	if _, err := plist.Unmarshal(out, &data); err != nil {
		return "", false
	}

	for _, disk := range data.AllDisksAndPartitions {
		if dev, ok := findUUID(disk.Partitions, id); ok {
			return dev, true
		}
		if dev, ok := findUUID(disk.APFSVolumes, id); ok {
			return dev, true
		}
	}
	return "", false
}

func findUUID(partitions []diskutilPartition, id string) (string, bool) {
	for _, p := range partitions {
		if strings.EqualFold(p.DiskUUID, id) {
			// The raw device node (the "r" prefix) is unbuffered and
			// considerably faster for sequential whole-disk I/O.
			return "/dev/r" + p.DeviceIdentifier, true
		}
	}
	return "", false
}
