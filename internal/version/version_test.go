package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
		},
	}
	read := func() (*debug.BuildInfo, bool) { return info, true }

	v, commit, date := resolve("dev", "unknown", "unknown", read)
	assert.Equal(t, "v0.3.1", v)
	assert.Equal(t, "abc123", commit)
	assert.Equal(t, "2024-05-01T10:00:00Z", date)

	v, commit, date = resolve("v1.0.0", "deadbeef", "today", read)
	assert.Equal(t, "v1.0.0", v)
	assert.Equal(t, "deadbeef", commit)
	assert.Equal(t, "today", date)
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	v, commit, date := resolve("dev", "unknown", "unknown", func() (*debug.BuildInfo, bool) { return nil, false })
	assert.Equal(t, "dev", v)
	assert.Equal(t, "unknown", commit)
	assert.Equal(t, "unknown", date)

	info := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	v, _, _ = resolve("dev", "unknown", "unknown", func() (*debug.BuildInfo, bool) { return info, true })
	assert.Equal(t, "dev", v)
}

func TestString(t *testing.T) {
	assert.Contains(t, String(), "commit")
}
