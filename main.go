package main

import (
	"os"

	"crypto-risk/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
