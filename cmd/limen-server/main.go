package main

import (
	"os"

	"github.com/BrandonDHaskell/limen/cmd/limen-server/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
