// Package buildinfo exposes the version metadata stamped into the
// berenice binary at build time, plus process uptime for the stats
// surfaces.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Stamped by the release build via -ldflags; the zero values identify
// a from-source development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns the build and runtime metadata reported by the version
// subcommand.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime reports how long this process has been running, truncated to
// whole seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is the one-line banner logged at startup.
func String() string {
	return fmt.Sprintf("Berenice %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
