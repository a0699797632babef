package main

import (
	"os"

	"ticketbackend/internal/cli"
	"ticketbackend/internal/utils"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		utils.Logger.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
