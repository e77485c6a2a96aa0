package version

import (
	"fmt"
	"regexp"
	"strings"
)

// MockServerName is the server name reported by kuksa-mock.
const MockServerName = "kuksa-mock"

var version = "dev"

// String returns the build version for the current binary.
func String() string {
	return version
}

// ForTesting overrides the version string and returns a cleanup function
// that restores the original value. Must not be called concurrently.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}

// gitDescribeSuffix matches the trailing "-N-gHASH" added by git describe
// (e.g., "0.3.0-5-gabcdef" → strip "-5-gabcdef").
var gitDescribeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+$`)

// normalizeVersion strips the "v" prefix and any git-describe suffix so that
// versions like "v0.3.0-5-gabcdef" and "0.3.0" compare as equal.
func normalizeVersion(v string) string {
	v = strings.TrimPrefix(v, "v")
	return gitDescribeSuffix.ReplaceAllString(v, "")
}

// FormatVersion returns a display-friendly version string. For normal versions
// it ensures a "v" prefix (e.g. "0.3.0" → "v0.3.0"). Special values like
// "dev" and empty strings are returned as-is.
func FormatVersion(v string) string {
	if v == "" || v == "dev" {
		return v
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CheckMockMismatch compares the local build version with the version a
// kuksa-mock broker reports. Other brokers are versioned independently and
// never produce a warning, nor do "dev" builds.
func CheckMockMismatch(serverName, serverVersion string) string {
	if serverName != MockServerName {
		return ""
	}
	if serverVersion == "" || version == "" {
		return ""
	}
	client := version
	if client == "dev" || serverVersion == "dev" {
		return ""
	}
	if normalizeVersion(client) == normalizeVersion(serverVersion) {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: kuksa %s connected to %s %s, rebuild both from the same tree",
		FormatVersion(client), MockServerName, FormatVersion(serverVersion),
	)
}
