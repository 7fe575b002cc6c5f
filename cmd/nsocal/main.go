package main

import (
	"os"

	appLog "nsocal/internal/log"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		appLog.Error("nsocal failed", err)
		os.Exit(1)
	}
}
