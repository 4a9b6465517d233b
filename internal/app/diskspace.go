package app

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpace renvoie les octets disponibles sur le volume qui contient path.
func FreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
