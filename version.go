package fetchkit

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is the library version. Override with -ldflags "-X".
	Version = "v0.3.0"
	// GitCommit and BuildDate are injected with -ldflags. When left unset
	// they are read from the VCS stamp of the running binary, if any.
	GitCommit = ""
	BuildDate = ""
)

var vcsStamp = sync.OnceValues(func() (revision, modified string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			modified = s.Value
		}
	}
	return revision, modified
})

func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if rev, _ := vcsStamp(); rev != "" {
		if len(rev) > 12 {
			rev = rev[:12]
		}
		return rev
	}
	return "unknown"
}

func buildDate() string {
	if BuildDate != "" {
		return BuildDate
	}
	if _, t := vcsStamp(); t != "" {
		return t
	}
	return "unknown"
}

// GetVersion returns a human-readable version string.
func GetVersion() string {
	return fmt.Sprintf("fetchkit %s (commit: %s, built: %s, go: %s)",
		Version, commit(), buildDate(), runtime.Version())
}

// GetVersionInfo returns version metadata as a map for logging.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     commit(),
		"build_date": buildDate(),
		"go_version": runtime.Version(),
	}
}

// userAgent is sent when a request sets no User-Agent of its own.
func userAgent() string {
	return "fetchkit/" + Version
}
