// Package version reports the build of forkstate and the on-disk store format it reads and writes. Build metadata
// comes from ldflags when set and from the VCS settings embedded by the Go toolchain otherwise.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// These variables can be set via ldflags at build time for explicit versioning.
var (
	// Version is the semantic version of the build.
	Version = "0.3.0"
	// GitCommit is the git commit hash.
	GitCommit = ""
	// GitCommitTime is the timestamp of the git commit.
	GitCommitTime = ""
	// GitTreeDirty indicates if the git tree was dirty at build time.
	GitTreeDirty = ""
)

// StoreFormatVersion is the semantic version of the on-disk state store format. Stores written with a different major
// version can't be read.
const StoreFormatVersion = "1.0.0"

// Info contains the full version information for the build.
type Info struct {
	Version       string
	GitCommit     string
	GitCommitTime string
	GitTreeDirty  bool
	GoVersion     string
	StoreFormat   string
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		applyBuildSettings(info.Settings)
	}
}

// applyBuildSettings fills the VCS variables left empty by ldflags from the toolchain's build settings.
func applyBuildSettings(settings []debug.BuildSetting) {
	fill := map[string]*string{
		"vcs.revision": &GitCommit,
		"vcs.time":     &GitCommitTime,
		"vcs.modified": &GitTreeDirty,
	}
	for _, setting := range settings {
		if target, ok := fill[setting.Key]; ok && *target == "" {
			*target = setting.Value
		}
	}
}

// GetInfo returns the complete version information.
func GetInfo() Info {
	return Info{
		Version:       Version,
		GitCommit:     GitCommit,
		GitCommitTime: GitCommitTime,
		GitTreeDirty:  GitTreeDirty == "true",
		GoVersion:     runtime.Version(),
		StoreFormat:   StoreFormatVersion,
	}
}

// commit returns the abbreviated commit hash, marked when the tree was dirty. Empty if no commit is known.
func (i Info) commit() string {
	if i.GitCommit == "" {
		return ""
	}
	c := i.GitCommit
	if len(c) > 7 {
		c = c[:7]
	}
	if i.GitTreeDirty {
		c += "-dirty"
	}
	return c
}

// builtAt returns the commit time in a human-readable format.
func (i Info) builtAt() string {
	t, err := time.Parse(time.RFC3339, i.GitCommitTime)
	if err != nil {
		return i.GitCommitTime
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

// String returns a formatted multi-line version string.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "forkstate version %s\n", i.Version)
	if c := i.commit(); c != "" {
		fmt.Fprintf(&sb, "  Commit:     %s\n", c)
	}
	if i.GitCommitTime != "" {
		fmt.Fprintf(&sb, "  Built:      %s\n", i.builtAt())
	}
	fmt.Fprintf(&sb, "  Go version: %s\n", i.GoVersion)
	fmt.Fprintf(&sb, "  Store:      v%s\n", i.StoreFormat)
	return sb.String()
}

// Short returns a single-line version string, as printed by --version.
func (i Info) Short() string {
	if c := i.commit(); c != "" {
		return i.Version + "+" + c
	}
	return i.Version
}
