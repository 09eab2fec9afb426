// Package version exposes build information for the /version endpoint
// and the admin status report.
package version

// Stamped at build time via -ldflags "-X github.com/notifyd/notifyd/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
