package shell

import "fmt"

// ShellType represents a supported shell
type ShellType string

const (
	// ShellBash represents the Bash shell
	ShellBash ShellType = "bash"
	// ShellZsh represents the Z shell
	ShellZsh ShellType = "zsh"
	// ShellFish represents the Fish shell
	ShellFish ShellType = "fish"
	// ShellPowerShell represents PowerShell (Windows PowerShell or pwsh)
	ShellPowerShell ShellType = "powershell"
	// ShellUnknown represents an unknown or unsupported shell
	ShellUnknown ShellType = "unknown"
)

// String returns the string representation of the shell type
func (s ShellType) String() string {
	return string(s)
}

// IsValid returns true if the shell type is supported
func (s ShellType) IsValid() bool {
	switch s {
	case ShellBash, ShellZsh, ShellFish, ShellPowerShell:
		return true
	default:
		return false
	}
}

// Config holds configuration for the shell manager
type Config struct {
	// BinDir is the directory holding the active binaries
	BinDir string
	// HomeDir overrides the user's home directory
	HomeDir string
}

// SetupOptions holds options for adding the PATH line
type SetupOptions struct {
	// Backup creates a backup of the rc file before modification
	Backup bool
	// DryRun reports what would be done without making changes
	DryRun bool
}

// Hint tells the user how to put the bin directory on PATH.
type Hint struct {
	Shell  ShellType
	RCFile string
	Line   string
}

// SetupResult contains the result of an rc file update
type SetupResult struct {
	Hint
	// Added indicates if the PATH line was added
	Added bool
	// AlreadyPresent indicates if the rc file already had the line
	AlreadyPresent bool
	// BackupPath is the path to the backup file (if created)
	BackupPath string
}

// DetectionResult contains the result of shell detection
type DetectionResult struct {
	// Shell is the detected shell type
	Shell ShellType
	// Method describes how the shell was detected
	Method string
	// ShellPath is the filesystem path or process name of the shell
	ShellPath string
	// Confidence is the confidence level (high, medium, none)
	Confidence string
}

// UnsupportedShellError is returned for shells without PATH support
type UnsupportedShellError struct {
	Shell string
}

func (e *UnsupportedShellError) Error() string {
	return fmt.Sprintf("unsupported shell: %s (supported: bash, zsh, fish, powershell)", e.Shell)
}

// RCFileError represents an error with shell rc file operations
type RCFileError struct {
	Path    string
	Message string
	Cause   error
}

func (e *RCFileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rc file error (%s): %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("rc file error (%s): %s", e.Path, e.Message)
}

func (e *RCFileError) Unwrap() error {
	return e.Cause
}
