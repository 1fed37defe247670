package main

import (
	"os"

	"github.com/Sean-Khorasani/net-copy/cmd/netcopy/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
