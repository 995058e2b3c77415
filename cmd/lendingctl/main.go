package main

import (
	"fmt"
	"os"

	"lendingctl/services/orchestrator"
)

func main() {
	if err := orchestrator.Main(); err != nil {
		fmt.Fprintf(os.Stderr, "lendingctl: %v\n", err)
		os.Exit(1)
	}
}
