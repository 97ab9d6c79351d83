package main

import (
	"context"
	"os"

	"github.com/sequra/s3logsbeat/internal/adapters/driving/cli"
)

// version is injected with -ldflags "-X main.version=...".
var version string

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
