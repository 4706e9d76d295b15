package version

import (
	"fmt"
	"strings"
)

// validCharacters is a list of characters valid in the appBuild string
const validCharacters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// appBuild is defined as a variable so it can be overridden during the build
// process with '-ldflags "-X github.com/kaspanet/dagsync/version.appBuild=foo"' if needed.
// It MUST only contain characters from validCharacters.
var appBuild string

var version = "" // string used for memoization of version

// Version returns the application version as a properly formed string
func Version() string {
	if version == "" {
		version = formatVersion(appBuild)
	}
	return version
}

func formatVersion(build string) string {
	formatted := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

	// Build metadata is dropped if it contains invalid characters.
	if isValidAppBuild(build) && build != "" {
		formatted = fmt.Sprintf("%s-%s", formatted, build)
	}
	return formatted
}

func isValidAppBuild(str string) bool {
	for _, r := range str {
		if !strings.ContainsRune(validCharacters, r) {
			return false
		}
	}
	return true
}
