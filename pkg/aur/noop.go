package aur

import "strings"

// NoopMarkers recognizes helper output that reports no work was done.
// Empty output always counts as a no-op.
type NoopMarkers struct {
	// Exact markers are matched case-sensitively.
	Exact []string

	// Folded markers are matched against lower-cased output.
	Folded []string
}

// InstallNoopMarkers matches install runs that changed nothing.
var InstallNoopMarkers = NoopMarkers{
	Exact:  []string{"up-to-date -- skipping"},
	Folded: []string{"nothing to do"},
}

// UpgradeNoopMarkers matches system upgrades that changed nothing.
var UpgradeNoopMarkers = NoopMarkers{
	Exact:  []string{"No AUR updates found"},
	Folded: []string{"nothing to do"},
}

// Match reports whether stdout is a no-op.
func (m NoopMarkers) Match(stdout string) bool {
	if stdout == "" {
		return true
	}
	for _, marker := range m.Exact {
		if strings.Contains(stdout, marker) {
			return true
		}
	}
	lower := strings.ToLower(stdout)
	for _, marker := range m.Folded {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// InstallChanged reports whether an install run changed the host.
func InstallChanged(stdout string) bool {
	return !InstallNoopMarkers.Match(stdout)
}

// UpgradeChanged reports whether a system upgrade changed the host.
func UpgradeChanged(stdout string) bool {
	return !UpgradeNoopMarkers.Match(stdout)
}
