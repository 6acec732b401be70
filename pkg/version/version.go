package version

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/newtron-network/rosguard/pkg/version.Version=v0.3.0 \
//	  -X github.com/newtron-network/rosguard/pkg/version.GitCommit=abc1234 \
//	  -X github.com/newtron-network/rosguard/pkg/version.BuildDate=2026-10-01T00:00:00Z" ./cmd/rosguard
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a formatted version string for display.
func Info() string {
	return Version + " (" + GitCommit + ") built " + BuildDate
}

// Map returns the build info for --json output.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
	}
}
