// Package version carries the build version, set with
// -ldflags "-X github.com/thinger-io/thinger-ota/internal/version.Version=v1.2.3".
package version

// Version of this build
var Version = "dev"

// UserAgent is sent with every API request
func UserAgent() string {
	return "thinger-ota/" + Version
}
