// Command mongoclawd runs the mongoclaw change-stream enrichment runtime.
package main

import (
	"os"

	"github.com/codeready-toolchain/mongoclaw/cmd/mongoclawd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
