package main

import (
	"os"

	"variagen/cmd"
	"variagen/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.Errorf("variagen: %v", err)
		os.Exit(1)
	}
}
