package main

import (
	"os"

	"github.com/koltyakov/hooktunnel/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
