//go:build !linux

package rt

import "errors"

// Apply is a no-op outside Linux; it reports an error when anything was
// requested.
func Apply(s Settings) error {
	if s.Priority > 0 || s.LockMemory {
		return errors.New("rt: real-time scheduling is only supported on linux")
	}
	return nil
}
