package binary

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/jedisct1/go-minisign"

	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// AuxFetcher downloads verification sidecars.
type AuxFetcher interface {
	FetchAuxiliary(ctx context.Context, url string) ([]byte, error)
}

// auxError marks a sidecar download failure so it is not mistaken for a
// verification failure.
type auxError struct {
	err error
}

func (e *auxError) Error() string { return e.err.Error() }
func (e *auxError) Unwrap() error { return e.err }

// Verifier handles cryptographic verification of artifacts
type Verifier struct {
	keyringDir string
}

// NewVerifier creates a new verifier
func NewVerifier(keyringDir string) *Verifier {
	return &Verifier{keyringDir: keyringDir}
}

// Verify checks the artifact at path. It runs every check the source
// supports: non-empty, SHA-256 against the reported digest or checksum
// file, then the component's detached signature.
func (v *Verifier) Verify(ctx context.Context, comp model.Component, asset model.AssetRef, path string, aux AuxFetcher) (*VerificationResult, error) {
	fail := func(method VerificationMethod, err error) (*VerificationResult, error) {
		return &VerificationResult{Method: method, Success: false, Error: err}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(VerificationNone, fmt.Errorf("stat artifact: %w", err))
	}
	if info.Size() == 0 {
		return fail(VerificationNone, fmt.Errorf("artifact %s is empty", asset.Name))
	}
	if asset.Size > 0 && info.Size() != asset.Size {
		return fail(VerificationNone, fmt.Errorf("size mismatch: got %d bytes, source reports %d", info.Size(), asset.Size))
	}

	method := VerificationNone

	expected, err := v.expectedChecksum(ctx, asset, aux)
	if err != nil {
		return fail(VerificationSHA256, err)
	}
	if expected != "" {
		if _, err := verifySHA256(path, expected); err != nil {
			return fail(VerificationSHA256, err)
		}
		method = VerificationSHA256
	}

	if comp.Signature != nil {
		if asset.SignatureURL == "" {
			return fail(VerificationNone, fmt.Errorf("signature required for %s but not published", comp.Name))
		}
		sig, err := aux.FetchAuxiliary(ctx, asset.SignatureURL)
		if err != nil {
			return fail(VerificationNone, &auxError{err})
		}
		keyPath, err := extractKeyring(v.keyringDir, comp)
		if err != nil {
			return fail(VerificationNone, err)
		}

		switch comp.Signature.Kind {
		case model.SignaturePGP:
			err = verifyGPG(path, sig, keyPath)
			method = VerificationGPG
		case model.SignatureMinisign:
			err = verifyMinisign(path, sig, keyPath)
			method = VerificationMinisign
		default:
			err = fmt.Errorf("unknown signature kind %q", comp.Signature.Kind)
		}
		if err != nil {
			return fail(method, err)
		}
	}

	return &VerificationResult{Method: method, Success: true}, nil
}

// expectedChecksum returns the SHA-256 the source vouches for, or "" when it
// publishes none.
func (v *Verifier) expectedChecksum(ctx context.Context, asset model.AssetRef, aux AuxFetcher) (string, error) {
	if digest, ok := strings.CutPrefix(asset.Digest, "sha256:"); ok && digest != "" {
		return digest, nil
	}
	if asset.ChecksumURL == "" {
		return "", nil
	}
	data, err := aux.FetchAuxiliary(ctx, asset.ChecksumURL)
	if err != nil {
		return "", &auxError{err}
	}
	sum, err := findChecksum(data, asset.Name)
	if err != nil {
		return "", fmt.Errorf("find checksum: %w", err)
	}
	return sum, nil
}

// verifySHA256 compares the SHA-256 of a file with an expected hex digest
func verifySHA256(path, expected string) (string, error) {
	actual, err := calculateSHA256(path)
	if err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}

	// Compare checksums (case-insensitive)
	if !strings.EqualFold(actual, expected) {
		return actual, fmt.Errorf("checksum mismatch:\nactual:   %s\nexpected: %s", actual, expected)
	}
	return actual, nil
}

// verifyGPG verifies a file against a detached PGP signature
func verifyGPG(path string, sig []byte, keyringPath string) error {
	keyring, err := loadKeyring(keyringPath)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	// Verify signature (try armored first)
	_, err = openpgp.CheckArmoredDetachedSignature(keyring, file, bytes.NewReader(sig), nil)
	if err != nil {
		// Try non-armored signature
		if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("rewind artifact: %w", seekErr)
		}
		_, err = openpgp.CheckDetachedSignature(keyring, file, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

// verifyMinisign verifies a file against a minisign signature
func verifyMinisign(path string, sig []byte, pubKeyPath string) error {
	pubKey, err := minisign.NewPublicKeyFromFile(pubKeyPath)
	if err != nil {
		return fmt.Errorf("read minisign pubkey: %w", err)
	}

	signature, err := minisign.DecodeSignature(string(sig))
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	valid, err := pubKey.Verify(content, signature)
	if err != nil {
		return fmt.Errorf("minisign: verification error: %w", err)
	}
	if !valid {
		return fmt.Errorf("minisign: signature verification failed")
	}
	return nil
}

// calculateSHA256 calculates the SHA256 checksum of a file
func calculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// findChecksum finds the checksum for a specific filename in a checksum file
// Format: "abc123def456  filename.tar.gz". A file holding a single bare
// digest applies to whatever asset it accompanies.
func findChecksum(data []byte, filename string) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var bare []string
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 1 && isHexDigest(parts[0]) {
			bare = append(bare, parts[0])
			continue
		}
		if len(parts) < 2 {
			continue
		}

		// "*" marks binary mode in sha256sum output
		checksumFilename := strings.TrimPrefix(parts[1], "*")
		if checksumFilename == filename {
			return parts[0], nil
		}

		// Also check basename (for checksums like "/path/to/file.tar.gz")
		if filepath.Base(checksumFilename) == filename {
			return parts[0], nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan checksum file: %w", err)
	}
	if len(bare) == 1 {
		return bare[0], nil
	}

	return "", fmt.Errorf("checksum not found for %s", filename)
}

func isHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
