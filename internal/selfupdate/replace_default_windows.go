//go:build windows

package selfupdate

// DefaultStrategy returns RenameAside: Windows refuses to overwrite the
// image of a running process but allows renaming it.
func DefaultStrategy() Strategy {
	return RenameAside{}
}
