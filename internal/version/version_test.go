package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull(t *testing.T) {
	assert.Equal(t, Version, Full())

	origBuildTime, origGitCommit := BuildTime, GitCommit
	defer func() { BuildTime, GitCommit = origBuildTime, origGitCommit }()

	BuildTime = "2026-08-25T00:00:00Z"
	GitCommit = "abc1234"
	full := Full()
	assert.Contains(t, full, Version)
	assert.Contains(t, full, "abc1234")
}
