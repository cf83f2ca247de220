package logx

import (
	"log"
	"os"
)

func init() {
	// Standard output is reserved for the line-oriented protocol the
	// dispatcher writes to the controlling parent process (see package
	// protocol), so diagnostic logging goes to standard error instead.
	log.SetOutput(os.Stderr)
}
