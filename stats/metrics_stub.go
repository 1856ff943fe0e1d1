//go:build !linux

package stats

import "errors"

// GetLoad is unavailable off Linux; the scheduler falls back to
// treating load as zero.
func GetLoad() (int, error) {
	return 0, errors.New("load metrics not implemented on this platform")
}
