//go:build linux

package stats

import (
	"fmt"
	"os"
)

// GetLoad returns the number of runnable processes excluding the
// caller, read from the numerator of /proc/loadavg's fourth field.
func GetLoad() (int, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("failed to read /proc/loadavg: %w", err)
	}
	return ParseLoadAvg(string(data))
}
