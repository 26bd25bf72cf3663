//go:build !linux

package worker

// ApplySeccomp is a no-op outside Linux; there is no seccomp to install.
func ApplySeccomp() error {
	return nil
}
