// Package binary installs component versions: it fetches (or reuses from
// the cache) the artifact for a resolved target, verifies it, extracts the
// component's binaries into a staging directory and publishes that directory
// under its final path with a single rename.
//
// # Security Model
//
// An artifact is never extracted before verification:
//   - it must be non-empty
//   - when the source reports a digest or publishes a checksum file, the
//     SHA-256 of the artifact must match
//   - when the component declares a signature, the detached PGP or minisign
//     signature must verify against the component's public key
//
// A verification or extraction failure evicts the artifact from the cache so
// a retry downloads it again.
//
// # Layout
//
//	<root>/<component>/<version>/<os>-<arch>/   published install
//	<root>/<component>/.staging-<uuid>/          in-progress or interrupted
//	<root>/keyrings/<component>.{asc,pub}        materialized public keys
//
// Publishing is idempotent across processes: when two installs of the same
// target race, the first rename wins and the other discards its staging
// directory and returns the published install.
package binary
