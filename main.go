package main

import (
	"github.com/greenledger/qagate/cmd"
	"github.com/greenledger/qagate/internal/conf"
	"github.com/greenledger/qagate/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		logging.Fatal("error loading configuration", "error", err)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("command failed", "error", err)
	}
}
