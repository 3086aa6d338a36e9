package binary

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// Extractor places a component's binaries from an artifact into a directory
type Extractor struct{}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// DetectFormat returns the archive format of an asset. A declared format
// wins; otherwise the file name suffix decides and anything unrecognized is
// a bare binary.
func DetectFormat(assetName, declared string) string {
	if declared != "" {
		return declared
	}
	name := strings.ToLower(assetName)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return model.ArchiveTarGz
	case strings.HasSuffix(name, ".tar"):
		return model.ArchiveTar
	case strings.HasSuffix(name, ".zip"):
		return model.ArchiveZip
	default:
		return model.ArchiveRaw
	}
}

// Extract writes the named binaries found in the artifact at archivePath to
// destDir. Every binary must be present; entries that would escape destDir
// are rejected.
func (e *Extractor) Extract(archivePath, format string, binaries []string, goos, destDir string) error {
	if len(binaries) == 0 {
		return fmt.Errorf("no binaries declared")
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	wanted := make(map[string]bool, len(binaries))
	for _, b := range binaries {
		wanted[model.BinaryFileName(b, goos)] = false
	}

	var err error
	switch format {
	case model.ArchiveRaw:
		if len(binaries) > 1 {
			return fmt.Errorf("bare binary asset cannot provide %d binaries", len(binaries))
		}
		name := model.BinaryFileName(binaries[0], goos)
		err = e.placeRaw(archivePath, filepath.Join(destDir, name))
		wanted[name] = true
	case model.ArchiveTarGz, "tgz":
		err = e.extractTar(archivePath, true, wanted, destDir)
	case model.ArchiveTar:
		err = e.extractTar(archivePath, false, wanted, destDir)
	case model.ArchiveZip:
		err = e.extractZip(archivePath, wanted, destDir)
	default:
		return fmt.Errorf("unsupported archive format %q", format)
	}
	if err != nil {
		return err
	}

	var missing []string
	for name, found := range wanted {
		if !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("binary %s not found in archive", strings.Join(missing, ", "))
	}
	return nil
}

// checkEntryPath rejects archive entries that resolve outside destDir.
func checkEntryPath(destDir, name string) error {
	target := filepath.Join(destDir, name)
	clean := filepath.Clean(destDir)
	if target != clean && !strings.HasPrefix(target, clean+string(os.PathSeparator)) {
		return fmt.Errorf("illegal file path: %s", name)
	}
	return nil
}

func (e *Extractor) extractTar(archivePath string, gzipped bool, wanted map[string]bool, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	var r io.Reader = archiveFile
	if gzipped {
		gzipReader, err := gzip.NewReader(archiveFile)
		if err != nil {
			return fmt.Errorf("create gzip reader: %w", err)
		}
		defer gzipReader.Close()
		r = gzipReader
	}

	tarReader := tar.NewReader(r)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if err := checkEntryPath(destDir, header.Name); err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		base := filepath.Base(header.Name)
		if found, ok := wanted[base]; !ok || found {
			continue
		}
		if err := writeBinary(filepath.Join(destDir, base), tarReader); err != nil {
			return err
		}
		wanted[base] = true
	}
}

func (e *Extractor) extractZip(archivePath string, wanted map[string]bool, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := checkEntryPath(destDir, f.Name); err != nil {
			return err
		}
		if !f.Mode().IsRegular() {
			continue
		}

		base := filepath.Base(f.Name)
		if found, ok := wanted[base]; !ok || found {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeBinary(filepath.Join(destDir, base), rc)
		rc.Close()
		if err != nil {
			return err
		}
		wanted[base] = true
	}
	return nil
}

func (e *Extractor) placeRaw(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()
	return writeBinary(dest, in)
}

// writeBinary creates dest with executable permissions
func writeBinary(dest string, r io.Reader) error {
	outFile, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0755)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := outFile.Sync(); err != nil {
		outFile.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	return outFile.Close()
}

func joinBinary(dir, name, goos string) string {
	return filepath.Join(dir, model.BinaryFileName(name, goos))
}
