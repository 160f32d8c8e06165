//go:build darwin

package osutil

// ProcessExists reports whether pid refers to a live process.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}

	return signalZeroExists(pid)
}
