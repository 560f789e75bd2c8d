// Package build provides build information that is linked into the application. Other
// packages within this project can use this information in logs etc..
package build

var (
	// Version is the build version of the application, set at link time.
	Version = "dev"

	// Commit is the sha of the git commit the application was built from.
	Commit = "none"

	// Date is the date the application was built.
	Date = "unknown"
)

// ProjectName is used as the namespace of every metric and as the tracer prefix.
const ProjectName = "objectloader"

// MinimumSupportedCacheSchemaRevision is the lowest schema revision the SQL
// caches can read from.
const MinimumSupportedCacheSchemaRevision = 1
