// Package shell helps put the toolup bin directory on the user's PATH.
//
// After a switch the active binaries live in a single directory. When that
// directory is missing from PATH the command layer prints a hint: the line
// to add for the detected shell and the rc file it belongs in. With
// consent the line is appended to the rc file.
//
// Shell detection tries, in order:
//  1. the $SHELL environment variable
//  2. the parent process name
//
// rc file edits are idempotent, optionally backed up, and written through a
// temp file plus rename so a crash never leaves a truncated rc file.
package shell
