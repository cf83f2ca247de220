package buildinfo

import (
	"os"
)

// DebugEnabled controls whether or not debug-level logging is enabled. It is
// set automatically based on the FSNOTIFIERD_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("FSNOTIFIERD_DEBUG") == "1"
}
