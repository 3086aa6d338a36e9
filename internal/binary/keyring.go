package binary

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// getKeyringPath returns the filesystem path of a component's public key
func getKeyringPath(keyringDir string, comp model.Component) string {
	ext := "asc"
	if comp.Signature != nil && comp.Signature.Kind == model.SignatureMinisign {
		ext = "pub"
	}
	return filepath.Join(keyringDir, fmt.Sprintf("%s.%s", comp.Name, ext))
}

// extractKeyring writes the component's public key to the keyring directory.
// The file is only rewritten when its content changed.
func extractKeyring(keyringDir string, comp model.Component) (string, error) {
	if comp.Signature == nil || strings.TrimSpace(comp.Signature.PublicKey) == "" {
		return "", fmt.Errorf("no public key configured for %s", comp.Name)
	}

	key := keyMaterial(comp)
	path := getKeyringPath(keyringDir, comp)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, key) {
		return path, nil
	}

	if err := atomicfs.WriteFile(path, key, 0644); err != nil {
		return "", fmt.Errorf("write keyring file: %w", err)
	}
	return path, nil
}

// keyMaterial returns the on-disk form of the key. A bare minisign key gets
// the comment line minisign public key files carry.
func keyMaterial(comp model.Component) []byte {
	key := strings.TrimSpace(comp.Signature.PublicKey)
	if comp.Signature.Kind == model.SignatureMinisign && !strings.HasPrefix(key, "untrusted comment:") {
		key = "untrusted comment: minisign public key for " + comp.Name + "\n" + key
	}
	return []byte(key + "\n")
}

// loadKeyring loads a GPG keyring, armored or binary
func loadKeyring(keyringPath string) (openpgp.EntityList, error) {
	keyringFile, err := os.Open(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		// Try reading as non-armored keyring
		if _, seekErr := keyringFile.Seek(0, io.SeekStart); seekErr != nil {
			return nil, fmt.Errorf("rewind keyring: %w", seekErr)
		}
		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}

	return keyring, nil
}
