// Package config resolves toolup settings and provides the logging
// interface shared by the engine packages.
//
// Settings come from, in increasing precedence: built-in defaults, the
// optional config.toml in the config directory, TOOLUP_* environment
// variables, and flag overrides passed by the command layer. Paths follow
// the XDG base directory layout (%LOCALAPPDATA% on Windows):
//
//	root_dir       $XDG_DATA_HOME/toolup     installs, cache, active pointers
//	bin_dir        ~/.local/bin              exposed active binaries
//	config file    $XDG_CONFIG_HOME/toolup/config.toml
//
// Engine packages take a Logger and fall back to a no-op one through
// OrNop. WriterLogger is the stderr implementation the command layer uses;
// it redacts access tokens from every line it writes.
package config
