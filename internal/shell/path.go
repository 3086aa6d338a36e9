package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// PathMarker precedes the line toolup adds to an rc file.
const PathMarker = "# toolup: active binaries"

// OnPath reports whether dir is an entry of the PATH list pathEnv.
func OnPath(dir, pathEnv string) bool {
	want := normalizeDir(dir)
	for _, entry := range filepath.SplitList(pathEnv) {
		if entry != "" && normalizeDir(entry) == want {
			return true
		}
	}
	return false
}

func normalizeDir(dir string) string {
	dir = filepath.Clean(dir)
	if runtime.GOOS == "windows" {
		dir = strings.ToLower(dir)
	}
	return dir
}

// PathLine returns the rc file line that prepends dir to PATH.
func PathLine(shell ShellType, dir string) (string, error) {
	switch shell {
	case ShellBash, ShellZsh:
		return fmt.Sprintf(`export PATH="%s:$PATH"`, escapeDouble(dir)), nil
	case ShellFish:
		return fmt.Sprintf("fish_add_path %s", quoteFish(dir)), nil
	case ShellPowerShell:
		return fmt.Sprintf(`$env:Path = %s + [IO.Path]::PathSeparator + $env:Path`, quotePowerShell(dir)), nil
	default:
		return "", &UnsupportedShellError{Shell: shell.String()}
	}
}

// escapeDouble escapes the characters that stay special inside POSIX
// double quotes.
func escapeDouble(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return r.Replace(s)
}

func quoteFish(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "'", `\'`)
	return "'" + r.Replace(s) + "'"
}

func quotePowerShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// RCFilePath returns the rc file of shell under home.
func RCFilePath(shell ShellType, home string) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
	}

	switch shell {
	case ShellBash:
		return filepath.Join(home, ".bashrc"), nil
	case ShellZsh:
		return filepath.Join(home, ".zshrc"), nil
	case ShellFish:
		return filepath.Join(home, ".config", "fish", "config.fish"), nil
	default:
		if runtime.GOOS == "windows" {
			return filepath.Join(home, "Documents", "PowerShell", "Microsoft.PowerShell_profile.ps1"), nil
		}
		return filepath.Join(home, ".config", "powershell", "Microsoft.PowerShell_profile.ps1"), nil
	}
}
