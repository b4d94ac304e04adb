package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withBuild sets the ldflags variables for one test.
func withBuild(t *testing.T, version, commit, branch, tree, date string) {
	t.Helper()
	oldVersion, oldCommit, oldBranch, oldTree, oldDate := Version, Commit, Branch, TreeState, Date
	t.Cleanup(func() {
		Version, Commit, Branch, TreeState, Date = oldVersion, oldCommit, oldBranch, oldTree, oldDate
	})
	Version, Commit, Branch, TreeState, Date = version, commit, branch, tree, date
}

func TestGetInfo(t *testing.T) {
	withBuild(t, "1.2.3", "abc123def456789", "main", "clean", "2026-01-15T10:30:00Z")

	info := GetInfo()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc123de", info.CommitSHA)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Contains(t, info.Platform, runtime.GOOS)
	assert.NotEmpty(t, info.GoVersion)
}

func TestString(t *testing.T) {
	withBuild(t, "dev", "unknown", "unknown", "unknown", "unknown")
	s := String()
	assert.Contains(t, s, ApplicationName+" version dev")
	assert.NotContains(t, s, "commit:")

	withBuild(t, "1.0.0", "abc123def456789", "main", "clean", "2026-01-15T10:30:00Z")
	s = String()
	assert.Contains(t, s, "commit: abc123de")
	assert.Contains(t, s, "branch: main")
	assert.Contains(t, s, "built: 2026-01-15T10:30:00Z")
}

func TestShort(t *testing.T) {
	withBuild(t, "1.0.0", "unknown", "unknown", "unknown", "unknown")
	assert.Equal(t, "1.0.0", Short())

	withBuild(t, "1.0.0", "abc123def456789", "main", "dirty", "unknown")
	assert.Equal(t, "1.0.0 (abc123de*)", Short())
	assert.Contains(t, String(), "abc123de*")
}

func TestJSON(t *testing.T) {
	withBuild(t, "1.2.3", "abc123def456789", "feature-branch", "clean", "2026-01-15T10:30:00Z")

	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, GetInfo(), info)
}

func TestUserAgent(t *testing.T) {
	withBuild(t, "1.0.0", "unknown", "unknown", "unknown", "unknown")
	assert.Equal(t, "abrplay/1.0.0", UserAgent())
}

func TestReleaseKind(t *testing.T) {
	tests := []struct {
		version  string
		snapshot bool
		release  bool
	}{
		{"dev", true, false},
		{"1.0.0", false, true},
		{"1.0.1-SNAPSHOT.abc1234", true, false},
		{"1.2.3-alpha.1", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			withBuild(t, tt.version, "unknown", "unknown", "unknown", "unknown")
			assert.Equal(t, tt.snapshot, IsSnapshot())
			assert.Equal(t, tt.release, IsRelease())
		})
	}
}
