package main

import (
	"os"

	"github.com/conneroisu/docrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
