package main

import (
	"fmt"
	"os"

	"github.com/thinger-io/thinger-ota/cmd/thinger-ota/commands"
	"github.com/thinger-io/thinger-ota/internal/logging"
)

func main() {
	// Silent unless THINGER_LOG_LEVEL is set; --log-level is applied once flags are parsed
	if err := logging.Initialize(""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	commands.Execute()
}
