// Package buildinfo carries version metadata stamped at link time:
//
//	go build -ldflags "-X 'github.com/m3rciful/formbot/core/buildinfo.Version=v0.3.0' \
//	  -X 'github.com/m3rciful/formbot/core/buildinfo.Commit=$(git rev-parse --short HEAD)' \
//	  -X 'github.com/m3rciful/formbot/core/buildinfo.Date=$(date -u +%FT%TZ)'" ./cmd/formbot
package buildinfo

var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// UserAgent identifies outbound HTTP calls made by the bot.
func UserAgent() string {
	return "formbot/" + Version
}
