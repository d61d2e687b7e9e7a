// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String is the one-line description printed by -version.
func String() string {
	return fmt.Sprintf("bledoubt %s (%s, built %s)", Version, GitSHA, BuildTime)
}

// UserAgent identifies outbound webhook requests.
func UserAgent() string {
	return "bledoubt/" + Version
}
