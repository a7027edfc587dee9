package delivery

import (
	"sync"

	"golang.org/x/sys/unix"
)

const gib = 1 << 30

var (
	deviceScoreOnce  sync.Once
	deviceScoreValue int
)

// DeviceScore classifies the host into a performance score from total
// memory. The value is computed once and treated as immutable for the
// process lifetime.
func DeviceScore() int {
	deviceScoreOnce.Do(func() {
		deviceScoreValue = scoreFromTotalMemory(totalMemoryBytes())
	})
	return deviceScoreValue
}

func scoreFromTotalMemory(total uint64) int {
	switch {
	case total >= 6*gib:
		return 90
	case total >= 4*gib:
		return 60
	default:
		return 30
	}
}

func totalMemoryBytes() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}

// MemoryPressure reports the used/total memory ratio. Buffer pages count as
// free since the kernel reclaims them under pressure.
func MemoryPressure() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	total := uint64(info.Totalram) * uint64(info.Unit)
	if total == 0 {
		return 0, nil
	}
	available := (uint64(info.Freeram) + uint64(info.Bufferram)) * uint64(info.Unit)
	used := total - min(available, total)
	return float64(used) / float64(total), nil
}
