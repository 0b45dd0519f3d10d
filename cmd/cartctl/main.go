package main

import (
	"fmt"
	"os"

	"github.com/ikkim/cartsync/internal/cli"
	"github.com/ikkim/cartsync/pkg/logger"
)

func main() {
	logger.Initialize(logger.Config{
		Level:     "warn",
		Format:    "console",
		Output:    os.Stderr,
		Component: "cartctl",
	})

	if err := cli.NewRootCommand(cli.LoadEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
