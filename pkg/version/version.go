package version

// version is set at build time with
// -ldflags "-X github.com/whatislife/savekeeper/pkg/version.version=x.y.z".
var version = "1.0.0"

// Get returns the version of the running build.
func Get() string {
	return version
}
