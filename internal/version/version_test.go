package version_test

import (
	"regexp"
	"testing"

	"github.com/tybalt/worklog-classifier/internal/version"
)

func TestCurrentIsPlainSemver(t *testing.T) {
	semver := regexp.MustCompile(`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)$`)
	if !semver.MatchString(version.Current) {
		t.Fatalf("Current=%q must be <major>.<minor>.<patch> without a v prefix", version.Current)
	}
}
