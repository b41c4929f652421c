package version

// Version is the current appvet release. Overridden at build time via
// -ldflags "-X appvet/version.Version=...".
var Version = "0.3.0"
