package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
)

// Version metadata. Overridden via -ldflags at release build time; when left
// at defaults, ResolveVersion fills in what the deployment and the VCS stamp
// know.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the version string
func GetVersion() string { return Version }

// GetBuild returns the build timestamp
func GetBuild() string { return Build }

// GetGitCommit returns the git commit hash
func GetGitCommit() string { return GitCommit }

// GetFullVersion returns the version with build metadata
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// ResolveVersion fills unset version metadata at startup: a .version file
// next to the executable wins, then the VCS stamp the Go toolchain embeds.
func ResolveVersion() string {
	if Version == "dev" {
		if v := versionFromFile(); v != "" {
			Version = v
		}
	}
	if GitCommit == "unknown" || Build == "unknown" {
		fillFromBuildInfo()
	}
	return Version
}

func versionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), ".version"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fillFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if GitCommit == "unknown" && setting.Value != "" {
				rev := setting.Value
				if len(rev) > 12 {
					rev = rev[:12]
				}
				GitCommit = rev
			}
		case "vcs.time":
			if Build == "unknown" && setting.Value != "" {
				Build = setting.Value
			}
		}
	}
}
