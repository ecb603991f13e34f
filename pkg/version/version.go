// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/pixgallery/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/pixgallery/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/pixgallery/pkg/version.date=2026-01-01"
package version

import "fmt"

// Populated by -ldflags "-X ...". Defaults are used for local dev builds.
var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the tag, the commit, or "dev", in that order of preference.
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "unknown":
		return commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	switch {
	case tag != "":
		return fmt.Sprintf("%s (%s) built %s", tag, commit, date)
	case commit != "unknown":
		return commit + " built " + date
	default:
		return "dev"
	}
}

// UserAgent is the value sent in the User-Agent header of outgoing requests.
func UserAgent() string {
	return "pixgallery/" + String()
}

// Commit returns the short commit SHA.
func Commit() string { return commit }

// Date returns the build date.
func Date() string { return date }
