package app

import "syscall"

// diskStats is the free-space summary for the data root. Audio for a long
// pass runs to tens of megabytes, so operators watch this.
type diskStats struct {
	TotalBytes     uint64 `json:"total_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
}

// diskUsage reports the filesystem holding path, or nil if it cannot be
// read.
func diskUsage(path string) *diskStats {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil
	}
	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	return &diskStats{
		TotalBytes:     total,
		UsedBytes:      total - stat.Bfree*bsize,
		AvailableBytes: stat.Bavail * bsize,
	}
}
