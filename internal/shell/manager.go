package shell

import (
	"fmt"
	"os"
)

// Manager renders PATH hints for the bin directory and applies them.
type Manager struct {
	binDir  string
	homeDir string
}

// NewManager creates a new shell manager
func NewManager(config Config) (*Manager, error) {
	if config.BinDir == "" {
		return nil, fmt.Errorf("BinDir is required")
	}

	return &Manager{
		binDir:  config.BinDir,
		homeDir: config.HomeDir,
	}, nil
}

// NeedsHint reports whether the bin directory is missing from the current
// PATH.
func (m *Manager) NeedsHint() bool {
	return !OnPath(m.binDir, os.Getenv("PATH"))
}

// Hint returns the PATH line for shell and the rc file it belongs in.
func (m *Manager) Hint(shell ShellType) (*Hint, error) {
	line, err := PathLine(shell, m.binDir)
	if err != nil {
		return nil, err
	}
	rcPath, err := RCFilePath(shell, m.homeDir)
	if err != nil {
		return nil, fmt.Errorf("get RC file path: %w", err)
	}
	return &Hint{Shell: shell, RCFile: rcPath, Line: line}, nil
}

// DetectHint detects the user's shell and returns its hint.
func (m *Manager) DetectHint() (*Hint, error) {
	detection, err := DetectShell()
	if err != nil {
		return nil, fmt.Errorf("detect shell: %w", err)
	}
	if !detection.Shell.IsValid() {
		return nil, &UnsupportedShellError{Shell: detection.ShellPath}
	}
	return m.Hint(detection.Shell)
}

// Setup adds the PATH line to the rc file of shell unless it is already
// there.
func (m *Manager) Setup(shell ShellType, opts SetupOptions) (*SetupResult, error) {
	hint, err := m.Hint(shell)
	if err != nil {
		return nil, err
	}
	result := &SetupResult{Hint: *hint}

	present, err := HasPathLine(hint.RCFile, m.binDir)
	if err != nil {
		return nil, fmt.Errorf("check rc file: %w", err)
	}
	if present {
		result.AlreadyPresent = true
		return result, nil
	}
	if opts.DryRun {
		return result, nil
	}

	if opts.Backup {
		exists, err := RCFileExists(hint.RCFile)
		if err != nil {
			return nil, fmt.Errorf("check rc file: %w", err)
		}
		if exists {
			if result.BackupPath, err = BackupRCFile(hint.RCFile); err != nil {
				return nil, fmt.Errorf("backup rc file: %w", err)
			}
		}
	}

	if err := AddPathLine(hint.RCFile, hint.Line); err != nil {
		return nil, fmt.Errorf("add PATH line: %w", err)
	}
	result.Added = true
	return result, nil
}
