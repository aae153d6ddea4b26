package app

// Build-time variables set via -ldflags, reported by /api/version and
// `stationctl version`. For example:
//
//	go build -ldflags "-X github.com/large-farva/ground-station/internal/app.Version=v0.3.0" ./cmd/stationd
var (
	Version   = "dev"
	GoVersion = "unknown"
	BuiltAt   = "unknown"
)
