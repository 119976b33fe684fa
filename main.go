package main

import (
	"os"

	"github.com/anchor-ui/anchor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
