package updates

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/whatislife/savekeeper/pkg/log"
)

// Comparison decides whether a remote version counts as an update.
type Comparison string

const (
	// CompareExact treats any difference between the two strings as an
	// update, so "1.0.0" and "v1.0.0" differ and an older remote version
	// also counts.
	CompareExact Comparison = "exact"
	// CompareSemver offers an update only when the remote version is
	// strictly greater. Unparseable versions fall back to CompareExact.
	CompareSemver Comparison = "semver"
)

func ParseComparison(s string) (Comparison, error) {
	switch Comparison(s) {
	case CompareExact, "":
		return CompareExact, nil
	case CompareSemver:
		return CompareSemver, nil
	default:
		return "", fmt.Errorf("unknown version comparison: %s", s)
	}
}

func (c Comparison) hasUpdate(current, latest string) bool {
	if c != CompareSemver {
		return current != latest
	}

	cur, err := semver.NewVersion(current)
	if err != nil {
		log.Warn("Current version %q is not semver, comparing exactly: %v", current, err)
		return current != latest
	}
	lat, err := semver.NewVersion(latest)
	if err != nil {
		log.Warn("Latest version %q is not semver, comparing exactly: %v", latest, err)
		return current != latest
	}
	return lat.GreaterThan(cur)
}
