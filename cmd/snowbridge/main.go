// Package main is the entry point for the snowbridge CLI binary.
package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"

	"snowbridge/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
