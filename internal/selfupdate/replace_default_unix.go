//go:build !windows

package selfupdate

// DefaultStrategy returns RenameOver: POSIX lets a running executable's
// directory entry be replaced.
func DefaultStrategy() Strategy {
	return RenameOver{}
}
