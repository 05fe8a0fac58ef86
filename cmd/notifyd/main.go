package main

import (
	"os"

	"github.com/eci-platform/notifyd/cmd/notifyd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
