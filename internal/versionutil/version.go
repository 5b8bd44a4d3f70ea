// Package versionutil normalizes the build version for display and for the
// User-Agent sent to remote APIs.
package versionutil

import "strings"

// Product is the client name reported in User-Agent headers.
const Product = "hooktunnel"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s != "" && s != "dev" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// UserAgent returns "hooktunnel/<version>". An empty version reports "dev".
func UserAgent(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		version = "dev"
	}
	return Product + "/" + EnsureVPrefix(version)
}
