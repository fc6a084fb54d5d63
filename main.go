package main

import (
	"os"

	"github.com/authrelay/authrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
