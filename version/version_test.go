package version

import (
	"runtime/debug"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoFormatting(t *testing.T) {
	info := Info{
		Version:       "1.2.3",
		GitCommit:     "0123456789abcdef",
		GitCommitTime: "2024-05-01T10:00:00Z",
		GitTreeDirty:  true,
		GoVersion:     "go1.23.3",
		StoreFormat:   StoreFormatVersion,
	}
	assert.Equal(t, "1.2.3+0123456-dirty", info.Short())

	s := info.String()
	assert.Contains(t, s, "forkstate version 1.2.3\n")
	assert.Contains(t, s, "Commit:     0123456-dirty\n")
	assert.Contains(t, s, "Built:      2024-05-01 10:00:00 UTC\n")
	assert.Contains(t, s, "Store:      v"+StoreFormatVersion+"\n")

	bare := Info{Version: "1.2.3", GoVersion: "go1.23.3"}
	assert.Equal(t, "1.2.3", bare.Short())
	assert.NotContains(t, bare.String(), "Commit")
}

func TestApplyBuildSettings(t *testing.T) {
	commit, commitTime, dirty := GitCommit, GitCommitTime, GitTreeDirty
	t.Cleanup(func() { GitCommit, GitCommitTime, GitTreeDirty = commit, commitTime, dirty })

	// ldflags values win over build settings
	GitCommit, GitCommitTime, GitTreeDirty = "from-ldflags", "", ""
	applyBuildSettings([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "from-vcs"},
		{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	})
	assert.Equal(t, "from-ldflags", GitCommit)
	assert.Equal(t, "2024-05-01T10:00:00Z", GitCommitTime)
	assert.True(t, GetInfo().GitTreeDirty)
}

func TestStoreFormatVersion(t *testing.T) {
	v, err := semver.NewVersion(StoreFormatVersion)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Major())
}
