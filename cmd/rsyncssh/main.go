package main

import (
	"os"

	"rsyncssh/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
