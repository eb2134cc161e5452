// Package config holds build information for the BlazeAlert binaries.
package config

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information. Populated at build time via -ldflags; values left at
// their defaults are filled from the module build info when available.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains all build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Module    string `json:"module,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Module = bi.Main.Path
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		}
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// VersionString returns a formatted version string.
func VersionString() string {
	info := GetBuildInfo()
	return fmt.Sprintf("blazealert %s (%s) built at %s with %s",
		info.Version, info.Commit, info.BuildTime, info.GoVersion)
}

// ShortVersionString returns a short version string.
func ShortVersionString() string {
	return GetBuildInfo().Version
}

// UserAgent returns the User-Agent header value for a BlazeAlert client.
func UserAgent(client string) string {
	return client + "/" + ShortVersionString()
}
