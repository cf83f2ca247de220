package buildinfo

import (
	"fmt"
)

const (
	// VersionMajor represents the current major version of fsnotifierd.
	VersionMajor = 0
	// VersionMinor represents the current minor version of fsnotifierd.
	VersionMinor = 1
	// VersionPatch represents the current patch version of fsnotifierd.
	VersionPatch = 0
)

// Version is the full dotted version string.
var Version string

func init() {
	Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}
