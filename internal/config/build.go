package config

// Linker-injected build metadata, for example:
//
//	go build -ldflags "-X sphyra/internal/config.version=1.2.3 \
//	    -X sphyra/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X sphyra/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent identifies this build to upstream providers.
func (b BuildInfo) UserAgent() string {
	return "Sphyra/" + b.Version
}
