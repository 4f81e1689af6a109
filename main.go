package main

import (
	"os"

	"github.com/greenharbor/nursery-dispatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
