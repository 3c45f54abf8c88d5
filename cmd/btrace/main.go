package main

import (
	"os"

	"github.com/majorcontext/btrace/cmd/btrace/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
