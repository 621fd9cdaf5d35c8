// Package version reports the delve release, embedded from the VERSION file.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(versionContent)
}

// UserAgent returns the User-Agent sent by the search clients.
func UserAgent() string {
	return "delve/" + Get()
}
