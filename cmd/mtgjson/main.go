package main

import (
	"os"

	"github.com/mtgjson/mtgjson-go/cmd/mtgjson/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
