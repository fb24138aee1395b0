package buildinfo

// Populated at build time via -ldflags.
var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
