// Package version contains the symbolic version of the feedrelay binaries.
package version

// Version is the symbolic version of the running code. It is set at build
// time via -ldflags "-X github.com/m-lab/feedrelay/pkg/version.Version=...".
var Version = "v0.0.0-dev"
