package version

// Version is the version of the codectx binary.
// It is set at build time via -ldflags.
// Default value is "dev" for development builds.
var Version = "dev"

// Get returns the current version string
func Get() string {
	return Version
}
