// Command copilot runs the platform engineering copilot orchestrator.
package main

import (
	"log/slog"
	"os"

	"github.com/matross-gh/platform-engineering-copilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
