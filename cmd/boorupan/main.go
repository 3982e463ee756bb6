package main

import (
	"os"

	"github.com/ppiankov/boorupan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
