package shell

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
)

// resolveRCFile follows a symlinked rc file so the rename replaces the
// real file and not the link.
func resolveRCFile(rcPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(rcPath)
	if errors.Is(err, fs.ErrNotExist) {
		return rcPath, nil
	}
	if err != nil {
		return "", &RCFileError{Path: rcPath, Message: "failed to resolve path", Cause: err}
	}
	return resolved, nil
}

// RCFileExists checks if the RC file exists
func RCFileExists(rcPath string) (bool, error) {
	info, err := os.Stat(rcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &RCFileError{
			Path:    rcPath,
			Message: "failed to stat file",
			Cause:   err,
		}
	}

	if !info.Mode().IsRegular() {
		return false, &RCFileError{
			Path:    rcPath,
			Message: "not a regular file",
		}
	}

	return true, nil
}

// HasPathLine reports whether the rc file already puts dir on PATH, either
// through the line toolup writes or one the user wrote by hand.
func HasPathLine(rcPath, dir string) (bool, error) {
	file, err := os.Open(rcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &RCFileError{
			Path:    rcPath,
			Message: "failed to open file",
			Cause:   err,
		}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "PATH") || strings.Contains(line, "fish_add_path") || strings.Contains(line, "env:Path") {
			if strings.Contains(line, dir) {
				return true, nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return false, &RCFileError{
			Path:    rcPath,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	return false, nil
}

// BackupRCFile copies the rc file to rcPath + ".toolup-backup".
func BackupRCFile(rcPath string) (string, error) {
	content, err := os.ReadFile(rcPath)
	if err != nil {
		return "", &RCFileError{
			Path:    rcPath,
			Message: "failed to read file for backup",
			Cause:   err,
		}
	}

	backupPath := rcPath + ".toolup-backup"
	if err := atomicfs.WriteFile(backupPath, content, 0600); err != nil {
		return "", &RCFileError{
			Path:    backupPath,
			Message: "failed to write backup file",
			Cause:   err,
		}
	}

	return backupPath, nil
}

// AddPathLine appends line under PathMarker. The rc file is replaced
// atomically and keeps its permissions; a missing file is created.
func AddPathLine(rcPath, line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return &RCFileError{Path: rcPath, Message: "PATH line must be a single line"}
	}
	target, err := resolveRCFile(rcPath)
	if err != nil {
		return err
	}

	perm := os.FileMode(0644)
	var existing []byte
	exists, err := RCFileExists(target)
	if err != nil {
		return err
	}
	if exists {
		info, err := os.Stat(target)
		if err != nil {
			return &RCFileError{Path: rcPath, Message: "failed to stat file", Cause: err}
		}
		perm = info.Mode().Perm()
		if existing, err = os.ReadFile(target); err != nil {
			return &RCFileError{
				Path:    rcPath,
				Message: "failed to read existing file",
				Cause:   err,
			}
		}
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	if len(existing) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(PathMarker + "\n")
	buf.WriteString(line + "\n")

	if err := atomicfs.WriteFile(target, buf.Bytes(), perm); err != nil {
		return &RCFileError{
			Path:    rcPath,
			Message: "failed to write file",
			Cause:   err,
		}
	}
	return nil
}
