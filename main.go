package main

import (
	"os"

	"github.com/go-osm/middle/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
