package binary

import (
	"github.com/ZebulonRouseFrantzich/toolup/internal/model"
)

// installMetadataFile is written inside every install directory.
const installMetadataFile = ".install.json"

// stagingPrefix marks directories that are never observed as installed.
const stagingPrefix = ".staging-"

// VerificationMethod indicates how an artifact was verified
type VerificationMethod int

const (
	// VerificationNone means the source published nothing to check against;
	// only the non-empty check ran.
	VerificationNone VerificationMethod = iota
	// VerificationSHA256 indicates a SHA-256 digest or checksum file matched
	VerificationSHA256
	// VerificationGPG indicates a PGP detached signature verified
	VerificationGPG
	// VerificationMinisign indicates a minisign signature verified
	VerificationMinisign
)

// String returns the string representation of the verification method
func (v VerificationMethod) String() string {
	switch v {
	case VerificationGPG:
		return "GPG"
	case VerificationSHA256:
		return "SHA256"
	case VerificationMinisign:
		return "minisign"
	case VerificationNone:
		return "None"
	default:
		return "Unknown"
	}
}

// VerificationResult contains the outcome of a verification attempt.
// Method is the strongest check that ran.
type VerificationResult struct {
	Method  VerificationMethod
	Success bool
	Error   error
}

// InstallOptions adjusts what an install extracts.
type InstallOptions struct {
	// Debug also extracts the component's debug binaries.
	Debug bool
}

// Staged is an extracted, verified install that has not been published.
type Staged struct {
	Dir     string
	Version model.InstalledVersion
}

// BinaryPath returns the staged path of one of the component's binaries.
func (s *Staged) BinaryPath(name string) string {
	return joinBinary(s.Dir, name, s.Version.Platform.OS)
}
