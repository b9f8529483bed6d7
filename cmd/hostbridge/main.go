package main

import (
	"os"

	"github.com/kyson/hostbridge/internal/adapter/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
